package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig
	Agent          AgentConfig
	AllowedOrigins []string
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AgentConfig configures the client side. ServerURL must match the server
// exactly, scheme, host and port included, for the handshake to succeed.
type AgentConfig struct {
	ServerURL      string
	ClientID       string
	ReconnectDelay time.Duration
}

func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("SHADOW_HOST", "")
		viper.SetDefault("SHADOW_PORT", "8080")
		viper.SetDefault("SHADOW_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("SHADOW_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("SHADOW_IDLE_TIMEOUT", 120*time.Second)
		viper.SetDefault("SHADOW_SERVER_URL", "ws://localhost:8080")
		viper.SetDefault("SHADOW_CLIENT_ID", "")
		viper.SetDefault("SHADOW_RECONNECT_DELAY", 3*time.Second)
		viper.SetDefault("SHADOW_ALLOWED_ORIGINS", "")
		viper.AutomaticEnv()

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("SHADOW_HOST"),
				Port:         viper.GetString("SHADOW_PORT"),
				ReadTimeout:  viper.GetDuration("SHADOW_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("SHADOW_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("SHADOW_IDLE_TIMEOUT"),
			},
			Agent: AgentConfig{
				ServerURL:      viper.GetString("SHADOW_SERVER_URL"),
				ClientID:       viper.GetString("SHADOW_CLIENT_ID"),
				ReconnectDelay: viper.GetDuration("SHADOW_RECONNECT_DELAY"),
			},
			AllowedOrigins: splitOrigins(viper.GetString("SHADOW_ALLOWED_ORIGINS")),
		}
	})

	return ConfigInstance, nil
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
