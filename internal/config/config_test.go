package config_test

import (
	"testing"

	"annotation-backend/internal/config"
	"annotation-backend/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/annotations")

	cfg, err := config.Parse[config.APIConfig]()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, []string{"*"}, cfg.CorsAllowedOrigins)
	assert.Empty(t, cfg.RabbitMQURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "annotation:events", cfg.Channel())
}

func TestAPIConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/annotations")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("EVENTS_CHANNEL", "")
	t.Setenv("API_PORT", "9000")

	cfg, err := config.Parse[config.APIConfig]()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.APIPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
	assert.Equal(t, events.DefaultChannel, cfg.Channel())
}

func TestRequiredSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RABBITMQ_URL", "")

	_, err := config.Parse[config.APIConfig]()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/annotations")
	_, err = config.Parse[config.WorkerConfig]()
	assert.Error(t, err)
}

func TestLocalConfigDefaults(t *testing.T) {
	cfg, err := config.Parse[config.LocalConfig]()
	require.NoError(t, err)

	assert.Equal(t, "./annotation-data", cfg.Root)
	assert.Equal(t, 3001, cfg.Port)
}
