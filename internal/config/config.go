package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string

	// Upstream search credentials
	AlgoliaAppID  string
	AlgoliaAPIKey string

	// AgentIdent is sent upstream as the x-algolia-agent parameter so the
	// proxy is distinguishable from direct client traffic.
	AgentIdent string

	// SSRSecret is the sentinel value of the x-ssr-request header. A request
	// is SSR-flagged only when the header matches this value exactly. This is
	// a trust signal for first-party server-side renderers, not authentication.
	SSRSecret string

	// Cache TTLs in seconds. SSRCacheTTL applies to SSR-flagged requests,
	// ClientCacheTTL to everything else. A ClientCacheTTL of 0 disables
	// caching for non-SSR requests entirely.
	SSRCacheTTL    int
	ClientCacheTTL int

	// RedisURL points at the response cache store.
	RedisURL string

	// LogLevel for the structured logger ("debug", "info", "warn", "error").
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Env:            getEnv("ENV", "development"),
		ServerAddr:     getEnv("SERVER_ADDR", ":3000"),
		AlgoliaAppID:   getEnv("ALGOLIA_APP_ID", ""),
		AlgoliaAPIKey:  getEnv("ALGOLIA_API_KEY", ""),
		AgentIdent:     getEnv("AGENT_IDENT", "search-proxy (1.0)"),
		SSRSecret:      getEnv("SSR_SECRET", ""),
		SSRCacheTTL:    getEnvInt("SSR_CACHE_TTL", 300),
		ClientCacheTTL: getEnvInt("CLIENT_CACHE_TTL", 0),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// SSRCacheDuration returns the SSR cache TTL as a duration.
func (c *Config) SSRCacheDuration() time.Duration {
	return time.Duration(c.SSRCacheTTL) * time.Second
}

// ClientCacheDuration returns the client cache TTL as a duration.
func (c *Config) ClientCacheDuration() time.Duration {
	return time.Duration(c.ClientCacheTTL) * time.Second
}
