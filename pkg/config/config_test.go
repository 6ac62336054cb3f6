package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, "APP_NAME=booking-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "booking-test", cfg.App.Name)
	assert.Equal(t, 10*time.Second, cfg.SeatLock.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.PendingMaxAge)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadWithPath_Overrides(t *testing.T) {
	cfg, err := LoadWithPath(writeEnv(t, `SEATLOCK_TTL=30s
KAFKA_BROKERS=k1:9092, k2:9092
RECONCILE_BATCH_SIZE=10
SERVER_PORT=9000
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SeatLock.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Reconcile.BatchSize)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:       AppConfig{Name: "x", Environment: "development"},
			Server:    ServerConfig{Port: 8080},
			JWT:       JWTConfig{Secret: "s"},
			SeatLock:  SeatLockConfig{TTL: time.Second},
			Kafka:     KafkaConfig{Brokers: []string{"b:9092"}},
			Reconcile: ReconcileConfig{PendingMaxAge: time.Minute},
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.SeatLock.TTL = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Server.Port = 70000
	assert.Error(t, c.Validate())

	c = base()
	c.App.Environment = "production"
	c.JWT.Secret = "your-secret-key-change-in-production"
	assert.Error(t, c.Validate())

	c = base()
	c.Kafka.Brokers = nil
	assert.Error(t, c.Validate())
}
