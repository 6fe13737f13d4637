package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Payment PaymentConfig
	Session SessionConfig
	Redis   RedisConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type GatewayConfig struct {
	// BaseURL is the insurance backend API root, e.g.
	// "https://api.okoafamilia.example/api".
	BaseURL string
}

type PaymentConfig struct {
	MinAmount       int
	PollInterval    time.Duration
	MaxPollAttempts int
	HardTimeout     time.Duration
	DedupTTL        time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("PAY_MIN_AMOUNT", 70)
	viper.SetDefault("PAY_POLL_INTERVAL", "3s")
	viper.SetDefault("PAY_MAX_ATTEMPTS", 20)
	viper.SetDefault("PAY_HARD_TIMEOUT", "60s")
	viper.SetDefault("PAY_DEDUP_TTL", "10s")
	viper.SetDefault("SESSION_TTL", "15m")
	viper.SetDefault("REDIS_DB", 0)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Gateway: GatewayConfig{
			BaseURL: viper.GetString("GATEWAY_BASE_URL"),
		},
		Payment: PaymentConfig{
			MinAmount:       viper.GetInt("PAY_MIN_AMOUNT"),
			PollInterval:    durationOr("PAY_POLL_INTERVAL", 3*time.Second),
			MaxPollAttempts: viper.GetInt("PAY_MAX_ATTEMPTS"),
			HardTimeout:     durationOr("PAY_HARD_TIMEOUT", 60*time.Second),
			DedupTTL:        durationOr("PAY_DEDUP_TTL", 10*time.Second),
		},
		Session: SessionConfig{
			TTL: durationOr("SESSION_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
	}

	if cfg.Gateway.BaseURL == "" {
		log.Println("WARNING: GATEWAY_BASE_URL is not set")
	}

	return cfg, nil
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}
