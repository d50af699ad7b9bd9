package response

import "github.com/gin-gonic/gin"

// Body is the JSON envelope returned by the HTTP surface.
type Body struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// OK writes a 2xx envelope with data.
func OK(c *gin.Context, code int, data any) {
	c.JSON(code, Body{Status: "ok", Data: data})
}
