// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the environment-driven service configuration. Everything except
// BotToken has a default.
type Config struct {
	BotToken      string
	AllowedUserID int64 // operator chat for alerts; 0 disables alerts

	BindAddress string
	LogDir      string
	LogLevel    string

	DatabaseType string // "sqlite3" or "postgres"
	DatabaseURL  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DisableRedis  bool

	MaxFeedsPerChat         int
	CacheTTL                time.Duration
	MinDelay                time.Duration
	CircuitBreakerThreshold int

	// Reserved for authenticated Reddit access; unused unless set.
	RedditClientID     string
	RedditClientSecret string
	RedditUsername     string
	RedditPassword     string
}

// Load reads .env (when present) and the environment. The only required
// key is BOT_TOKEN.
func Load() (*Config, error) {
	_ = godotenv.Load() // absent .env is fine

	cfg := &Config{
		BotToken:      os.Getenv("BOT_TOKEN"),
		AllowedUserID: envInt64("ALLOWED_USER_ID", 0),

		BindAddress: envStr("BIND_ADDRESS", ":8916"),
		LogDir:      os.Getenv("LOG_DIR"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		DatabaseType: envStr("DATABASE_TYPE", "sqlite3"),
		DatabaseURL:  envStr("DATABASE_URL", "./data/feedwatch.db"),

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(envInt64("REDIS_DB", 0)),
		DisableRedis:  envBool("DISABLE_REDIS"),

		MaxFeedsPerChat:         int(envInt64("MAX_FEEDS_PER_CHAT", 50)),
		CacheTTL:                time.Duration(envInt64("CACHE_TTL_MINUTES", 20)) * time.Minute,
		MinDelay:                time.Duration(envInt64("MIN_DELAY_MS", 5000)) * time.Millisecond,
		CircuitBreakerThreshold: int(envInt64("CIRCUIT_BREAKER_THRESHOLD", 5)),

		RedditClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		RedditClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		RedditUsername:     os.Getenv("REDDIT_USERNAME"),
		RedditPassword:     os.Getenv("REDDIT_PASSWORD"),
	}

	if cfg.BotToken == "" {
		return nil, errors.New("config: BOT_TOKEN must be set")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
