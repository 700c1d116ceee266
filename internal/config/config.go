// Package config provides configuration for the engine.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the engine configuration, loaded from environment variables.
type Config struct {
	// Server settings
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:hellocfo.db?cache=shared&mode=rwc"`

	// Language-model gateway (OpenAI-compatible)
	LLMGatewayURL string        `envconfig:"LLM_GATEWAY_URL" default:"http://localhost:4000"`
	LLMAPIKey     string        `envconfig:"LLM_API_KEY"`
	LLMModel      string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`

	// Tool server (JSON-RPC over SSE)
	ToolServerURL  string        `envconfig:"TOOL_SERVER_URL" default:"http://localhost:8090/sse"`
	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"30s"`
	ConnectTimeout time.Duration `envconfig:"TOOL_CONNECT_TIMEOUT" default:"10s"`

	// Agent loop
	MaxIterations int `envconfig:"MAX_ITERATIONS" default:"5"`

	// Response cache
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	// Outbound stream
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
