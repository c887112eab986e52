// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "wabridge/pkg/platform/strings"
)

// Config is the full server configuration.
type Config struct {
	Addr     string
	Instance string

	// SocketURL is the upstream gateway's event socket. Empty disables the
	// websocket source (ingest via tests or a future HTTP intake only).
	SocketURL string

	SubscriptionsPath string

	// MessagesDialect selects the JSON query strategy: postgres or mysql.
	MessagesDialect string
	MessagesDSN     string

	// IdentityBackend selects the identity cache: memory, redis or postgres.
	IdentityBackend string
	IdentityDSN     string

	Redis RedisConfig

	KafkaSeeds []string
	KafkaTopic string

	BufferWindow        time.Duration
	DispatchTimeout     time.Duration
	DispatchConcurrency int64

	// APIKeyHash is the bcrypt hash protecting the outcomes endpoint. Empty
	// leaves it open, which is only sensible behind a private network.
	APIKeyHash string

	LogLevel string
}

// RedisConfig captures connection tuning for the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from WABRIDGE_* environment variables, with
// development-friendly defaults.
func FromEnv() Config {
	return Config{
		Addr:              envOr("WABRIDGE_ADDR", ":8080"),
		Instance:          envOr("WABRIDGE_INSTANCE", "default"),
		SocketURL:         os.Getenv("WABRIDGE_SOCKET_URL"),
		SubscriptionsPath: envOr("WABRIDGE_SUBSCRIPTIONS", "subscriptions.json"),

		MessagesDialect: envOr("WABRIDGE_MESSAGES_DIALECT", "postgres"),
		MessagesDSN:     os.Getenv("WABRIDGE_MESSAGES_DSN"),

		IdentityBackend: envOr("WABRIDGE_IDENTITY_BACKEND", "memory"),
		IdentityDSN:     os.Getenv("WABRIDGE_IDENTITY_DSN"),

		Redis: RedisConfig{
			URL:          os.Getenv("WABRIDGE_REDIS_URL"),
			PoolSize:     envInt("WABRIDGE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("WABRIDGE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("WABRIDGE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("WABRIDGE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("WABRIDGE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},

		KafkaSeeds: splitList(os.Getenv("WABRIDGE_KAFKA_SEEDS")),
		KafkaTopic: envOr("WABRIDGE_KAFKA_TOPIC", "wabridge.events"),

		BufferWindow:        envDuration("WABRIDGE_BUFFER_WINDOW", 400*time.Millisecond),
		DispatchTimeout:     envDuration("WABRIDGE_DISPATCH_TIMEOUT", 10*time.Second),
		DispatchConcurrency: int64(envInt("WABRIDGE_DISPATCH_CONCURRENCY", 16)),

		APIKeyHash: os.Getenv("WABRIDGE_API_KEY_HASH"),
		LogLevel:   envOr("WABRIDGE_LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	out := pstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
