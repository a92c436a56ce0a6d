package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/hotel-refunds/internal/models"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DatabaseURL string
	RedisAddr   string
	LogLevel    string

	API      APIConfig
	GRPCAddr string

	ArbitrationPolicy models.ResolutionPolicy
	Lock              LockConfig
	Kafka             KafkaConfig
	Outbox            OutboxConfig
	SnowflakeNode     int64
}

// APIConfig configures the HTTP server and its middleware.
type APIConfig struct {
	Addr                  string
	TLSCert               string
	TLSKey                string
	TLSCA                 string
	IPAllowlist           []string
	MaxBodyBytes          int64
	RateLimitCapacity     int
	RateLimitRefillPerSec float64
}

type LockConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		Environment: getenv("APP_ENV"),
		DatabaseURL: p.str("DATABASE_URL", "memory://"),
		RedisAddr:   getenv("REDIS_ADDR"),
		LogLevel:    p.str("LOG_LEVEL", "info"),
		API: APIConfig{
			Addr:                  p.str("API_ADDR", ":8080"),
			TLSCert:               getenv("API_TLS_CERT"),
			TLSKey:                getenv("API_TLS_KEY"),
			TLSCA:                 getenv("API_TLS_CA"),
			IPAllowlist:           p.list("API_IP_ALLOWLIST"),
			MaxBodyBytes:          int64(p.int("API_MAX_BODY_BYTES", 1<<20)),
			RateLimitCapacity:     p.int("API_RATE_LIMIT_CAPACITY", 60),
			RateLimitRefillPerSec: p.float("API_RATE_LIMIT_REFILL_PER_SEC", 1),
		},
		GRPCAddr:          p.str("GRPC_ADDR", ":50051"),
		ArbitrationPolicy: models.ResolutionPolicy(p.str("ARBITRATION_POLICY", string(models.PolicyMajority))),
		Lock: LockConfig{
			TTL:         p.duration("LOCK_TTL", 5*time.Second),
			MaxAttempts: p.int("LOCK_MAX_ATTEMPTS", 50),
		},
		Kafka: KafkaConfig{
			Brokers: p.list("KAFKA_BROKERS"),
			Topic:   p.str("KAFKA_REFUND_TOPIC", "refund.approved"),
		},
		Outbox: OutboxConfig{
			PollInterval: p.duration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    p.int("OUTBOX_BATCH_SIZE", 100),
		},
		SnowflakeNode: int64(p.int("SNOWFLAKE_NODE", 1)),
	}
	if len(p.invalid) > 0 {
		return nil, errors.New("invalid environment variables: " + strings.Join(p.invalid, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Production reports whether the deployment needs shared infrastructure.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// DatabaseDriver returns "postgres", "sqlite" or "memory".
func (c *Config) DatabaseDriver() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		return "sqlite"
	case c.DatabaseURL == "memory://":
		return "memory"
	}
	return ""
}

// SQLitePath is the file path of a sqlite:// DATABASE_URL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var missing []string
	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.Production() && c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	switch c.DatabaseDriver() {
	case "":
		return fmt.Errorf("DATABASE_URL must start with postgres://, sqlite:// or be memory://")
	case "memory":
		if c.Production() {
			return fmt.Errorf("DATABASE_URL memory:// is not allowed in %s", c.Environment)
		}
	case "sqlite":
		if c.SQLitePath() == "" {
			return errors.New("DATABASE_URL sqlite:// needs a file path")
		}
	}

	if c.ArbitrationPolicy != models.PolicyMajority && c.ArbitrationPolicy != models.PolicyAllVotes {
		return fmt.Errorf("ARBITRATION_POLICY must be %s or %s", models.PolicyMajority, models.PolicyAllVotes)
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return errors.New("API_TLS_CERT and API_TLS_KEY must be set together")
	}
	if c.API.TLSCA != "" && c.API.TLSCert == "" {
		return errors.New("API_TLS_CA requires API_TLS_CERT and API_TLS_KEY")
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return errors.New("SNOWFLAKE_NODE must be between 0 and 1023")
	}
	if c.Lock.MaxAttempts <= 0 || c.Lock.TTL <= 0 {
		return errors.New("LOCK_TTL and LOCK_MAX_ATTEMPTS must be positive")
	}
	return nil
}

type parser struct {
	getenv  func(string) string
	invalid []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return d
}
