package routes

import (
	"github.com/gin-gonic/gin"

	"shadow-sync/internal/api/handlers"
	"shadow-sync/internal/api/middleware"
	"shadow-sync/internal/hub"
)

type Router struct {
	engine        *gin.Engine
	wsHandler     *handlers.WSHandler
	statusHandler *handlers.StatusHandler
}

func NewRouter(h *hub.Hub, allowedOrigins []string) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(allowedOrigins))
	engine.Use(middleware.LogApi())

	return &Router{
		engine:        engine,
		wsHandler:     handlers.NewWSHandler(h),
		statusHandler: handlers.NewStatusHandler(h),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.statusHandler.Healthz)

	api := r.engine.Group("/api/v1")
	{
		api.GET("/ws", r.wsHandler.HandleWebSocket)
		api.GET("/registry", r.statusHandler.ListRegistry)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
