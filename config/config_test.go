package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-engine/config"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.Driver)
	assert.Equal(t, "fees.db", cfg.DBPath)
	assert.Equal(t, "@every 30s", cfg.OutboxSchedule)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Equal(t, 5, cfg.OutboxMaxAttempts)
	assert.Equal(t, "NGN", cfg.Currency)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(env(map[string]string{
		"PORT":              "9000",
		"DB_DRIVER":         "postgres",
		"DATABASE_URL":      "postgres://localhost/fees",
		"OUTBOX_BATCH_SIZE": "10",
		"APP_ENV":           "production",
		"CORS_ORIGINS":      " https://school.example , ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Driver)
	assert.Equal(t, 10, cfg.OutboxBatchSize)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://school.example"}, cfg.CORSOrigins)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"non-numeric port", map[string]string{"PORT": "http"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"zero batch", map[string]string{"OUTBOX_BATCH_SIZE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.FromEnv(env(tt.vars))
			assert.Error(t, err)
		})
	}
}
