package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hotel-refunds/internal/models"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envOf(map[string]string{"APP_ENV": "development"}))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DatabaseDriver())
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, models.PolicyMajority, cfg.ArbitrationPolicy)
	assert.Equal(t, 5*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "refund.approved", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Production())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://refunds@db:5432/refunds")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("API_IP_ALLOWLIST", "10.0.0.0/8,192.168.1.7")
	t.Setenv("ARBITRATION_POLICY", "all_votes")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DatabaseDriver())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.API.IPAllowlist)
	assert.Equal(t, models.PolicyAllVotes, cfg.ArbitrationPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing env", map[string]string{}, "APP_ENV"},
		{"production needs redis", map[string]string{"APP_ENV": "production", "DATABASE_URL": "postgres://x"}, "REDIS_ADDR"},
		{"production refuses memory", map[string]string{"APP_ENV": "staging", "REDIS_ADDR": "r:6379"}, "memory://"},
		{"unknown database", map[string]string{"APP_ENV": "dev", "DATABASE_URL": "mysql://x"}, "DATABASE_URL"},
		{"empty sqlite path", map[string]string{"APP_ENV": "dev", "DATABASE_URL": "sqlite://"}, "file path"},
		{"bad policy", map[string]string{"APP_ENV": "dev", "ARBITRATION_POLICY": "unanimous"}, "ARBITRATION_POLICY"},
		{"half tls", map[string]string{"APP_ENV": "dev", "API_TLS_CERT": "c.pem"}, "API_TLS_KEY"},
		{"bad duration", map[string]string{"APP_ENV": "dev", "LOCK_TTL": "soon"}, "LOCK_TTL"},
		{"bad int", map[string]string{"APP_ENV": "dev", "OUTBOX_BATCH_SIZE": "many"}, "OUTBOX_BATCH_SIZE"},
		{"node out of range", map[string]string{"APP_ENV": "dev", "SNOWFLAKE_NODE": "4096"}, "SNOWFLAKE_NODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(envOf(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSQLitePath(t *testing.T) {
	cfg, err := load(envOf(map[string]string{"APP_ENV": "dev", "DATABASE_URL": "sqlite:///var/lib/refunds.db"}))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver())
	assert.Equal(t, "/var/lib/refunds.db", cfg.SQLitePath())
}
