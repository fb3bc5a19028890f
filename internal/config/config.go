package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"sales_service/internal/auth"
)

// Config holds the sales service settings.
type Config struct {
	HTTPAddr string
	GinMode  string
	LogLevel string

	// InventoryURL is the base URL of the inventory service.
	InventoryURL string
	// CallTimeout bounds every outbound call made while committing a sale.
	CallTimeout time.Duration
	// StockPolicy is "batched" or "per-line".
	StockPolicy string

	JWTSecret string

	// Optional backends; empty disables them.
	PostgresURL    string
	RedisAddr      string
	IdempotencyTTL time.Duration
	KafkaBrokers   []string
	SalesTopic     string
	OtelEndpoint   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		HTTPAddr:       getenv("SALES_HTTP_ADDR", ":8081"),
		GinMode:        getenv("GIN_MODE", "release"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		InventoryURL:   getenv("INVENTORY_URL", "http://localhost:5036"),
		CallTimeout:    getDuration("INVENTORY_TIMEOUT", 5*time.Second, &errs),
		StockPolicy:    getenv("STOCK_POLICY", "batched"),
		JWTSecret:      os.Getenv("JWT_KEY"),
		PostgresURL:    os.Getenv("PG_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour, &errs),
		KafkaBrokers:   getList("KAFKA_BROKERS"),
		SalesTopic:     getenv("SALES_TOPIC", "sales.created"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < auth.MinSecretLength {
		return errors.New("JWT_KEY must be set and at least 32 characters")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("INVENTORY_TIMEOUT must be positive, got %s", c.CallTimeout)
	}
	switch c.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("GIN_MODE must be debug, release or test, got %q", c.GinMode)
	}
	switch c.StockPolicy {
	case "batched", "per-line":
	default:
		return fmt.Errorf("STOCK_POLICY must be batched or per-line, got %q", c.StockPolicy)
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// getDuration parses key as a Go duration. A malformed value is appended to errs.
func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
