package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the gateway's environment-driven settings.
type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string

	// APIBase is the upstream Baltek API root.
	APIBase string

	// ServiceToken, when set, is used to persist relayed messages upstream
	// before confirming them. Empty leaves the relay as a pure in-memory
	// fan-out.
	ServiceToken string

	// ValkeyAddr, when set, enables the proxy response cache.
	ValkeyAddr string

	CORSOrigin    string
	ProxyCacheTTL time.Duration
}

// Load reads config from the environment, with .env as an optional source.
func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		slog.Info("no .env file, reading from system environment")
	}

	return Config{
		Addr:          getenv("GATEWAY_ADDR", ":8080"),
		APIBase:       getenv("BALTEK_API_BASE", "https://api.baltek.net/api"),
		ServiceToken:  os.Getenv("BALTEK_SERVICE_TOKEN"),
		ValkeyAddr:    os.Getenv("VALKEY_ADDR"),
		CORSOrigin:    os.Getenv("CORS_ORIGIN"),
		ProxyCacheTTL: getduration("PROXY_CACHE_TTL", 60*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
