// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the broadcast service.
package server

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and collaborator endpoints.
type Config struct {
	Env               string
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	SendQueueSize     int
	RateLimit         RateLimitConfig
	JWTSecret         string
	DatabaseURL       string
	RedisURL          string
	RedisChannel      string
	NotificationLimit int
	StoreTimeout      time.Duration
	LogLevel          string
}

func defaultConfig() Config {
	return Config{
		Env:  "DEV",
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize: 16 * 1024,
		SendQueueSize:  256,
		RateLimit: RateLimitConfig{
			Burst:          30,
			RefillInterval: time.Second,
		},
		NotificationLimit: 10,
		StoreTimeout:      5 * time.Second,
		LogLevel:          "info",
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	cfg.Env = strings.ToUpper(cfg.Env)

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = def.NotificationLimit
	}

	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, after loading
// an optional .env.<env> file from dir. Unset variables keep their defaults.
func NewConfigFromEnv(dir string) (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(dir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}

	def := defaultConfig()
	v := viper.New()
	v.SetDefault("SERVER_PORT", def.Port)
	v.SetDefault("ALLOWED_ORIGINS", strings.Join(def.AllowedOrigins, ","))
	v.SetDefault("MAX_MESSAGE_SIZE", def.MaxMessageSize)
	v.SetDefault("SEND_QUEUE_SIZE", def.SendQueueSize)
	v.SetDefault("RATE_LIMIT_BURST", def.RateLimit.Burst)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", def.RateLimit.RefillInterval.String())
	v.SetDefault("NOTIFICATION_LIMIT", def.NotificationLimit)
	v.SetDefault("STORE_TIMEOUT", def.StoreTimeout.String())
	v.SetDefault("REDIS_CHANNEL", "")
	v.SetDefault("LOG_LEVEL", def.LogLevel)
	v.AutomaticEnv()

	cfg := Config{
		Env:               env,
		Port:              v.GetString("SERVER_PORT"),
		AllowedOrigins:    parseOrigins(v.GetString("ALLOWED_ORIGINS")),
		MaxMessageSize:    v.GetInt64("MAX_MESSAGE_SIZE"),
		SendQueueSize:     v.GetInt("SEND_QUEUE_SIZE"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		RedisURL:          v.GetString("REDIS_URL"),
		RedisChannel:      v.GetString("REDIS_CHANNEL"),
		NotificationLimit: v.GetInt("NOTIFICATION_LIMIT"),
		StoreTimeout:      durationSetting(v, "STORE_TIMEOUT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("RATE_LIMIT_BURST"),
			RefillInterval: durationSetting(v, "RATE_LIMIT_REFILL_INTERVAL"),
		},
	}

	cfg = sanitizeConfig(cfg)
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}
	return &cfg, nil
}

// durationSetting reads a duration key. A bare integer is a number of
// seconds; anything else must parse with time.ParseDuration. Invalid values
// yield 0 so sanitizeConfig restores the default.
func durationSetting(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
