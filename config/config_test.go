package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(env(map[string]string{"DATABASE_URL": "postgres://x"}))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://x", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 72*time.Hour, cfg.ReservationExpiry)
	assert.Equal(t, 548*24*time.Hour, cfg.Retention)
	assert.Equal(t, int64(1002000), cfg.OrderNumberStart)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadBuildsPostgresConnString(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"DB_HOST": "db", "DB_USER": "mh", "DB_PASSWORD": "secret", "DB_NAME": "bestel",
	}))
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=mh password=secret dbname=bestel sslmode=disable", cfg.DatabaseURL)
}

func TestLoadMissingDatabase(t *testing.T) {
	_, err := load(env(map[string]string{}))
	assert.Error(t, err)
}

func TestLoadSQLite(t *testing.T) {
	cfg, err := load(env(map[string]string{"DB_DRIVER": "SQLite"}))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "bestellingen.db", cfg.DatabaseURL)
}

func TestLoadParsesLists(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"DATABASE_URL":  "x",
		"KAFKA_BROKERS": "k1:9092, k2:9092,",
		"POLL_INTERVAL": "750ms",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := load(env(map[string]string{"DATABASE_URL": "x", "POLL_INTERVAL": "soon"}))
	assert.Error(t, err)

	_, err = load(env(map[string]string{"DATABASE_URL": "x", "UMBRELLA_SELLER_ID": "abc"}))
	assert.Error(t, err)
}
