package config

import (
	"os"
	"strconv"
	"time"

	"wompi-pay/internal/logger"
	"wompi-pay/internal/payment"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string
	// BaseURL is the public URL the customer's browser reaches this service on.
	BaseURL string

	WompiPublicKey       string
	WompiEventsKey       string
	WompiIntegritySecret string
	WompiState           string
	WompiHTTPTimeout     time.Duration
	WebhookAckMode       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ReplayWindow  time.Duration
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    getEnv("APP_PORT", "8080"),
		AppEnv:     os.Getenv("APP_ENV"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),

		WompiPublicKey:       os.Getenv("WOMPI_PUBLIC_KEY"),
		WompiEventsKey:       os.Getenv("WOMPI_EVENTS_KEY"),
		WompiIntegritySecret: os.Getenv("WOMPI_INTEGRITY_SECRET"),
		WompiState:           getEnv("WOMPI_STATE", string(payment.StateTest)),
		WompiHTTPTimeout:     getDuration("WOMPI_HTTP_TIMEOUT", payment.DefaultHTTPTimeout),
		WebhookAckMode:       getEnv("WOMPI_WEBHOOK_ACK_MODE", "lenient"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		ReplayWindow:  getDuration("WOMPI_REPLAY_WINDOW", payment.DefaultReplayWindow),
	}

	if cfg.DBHost == "" {
		logger.L().Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// Wompi returns the provider configuration handed to every verification and
// checkout call.
func (c *Config) Wompi() payment.ProviderConfig {
	return payment.ProviderConfig{
		PublicKey:       c.WompiPublicKey,
		EventsKey:       c.WompiEventsKey,
		IntegritySecret: c.WompiIntegritySecret,
		State:           payment.ProviderState(c.WompiState),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
