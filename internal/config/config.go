package config

import (
	"fmt"

	"annotation-backend/internal/events"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	DatabaseURL        string   `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL        string   `env:"RABBITMQ_URL"`
	RedisURL           string   `env:"REDIS_URL"`
	EventsChannel      string   `env:"EVENTS_CHANNEL" envDefault:"annotation:events"`
	APIPort            string   `env:"API_PORT" envDefault:"8080"`
	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ServerVersion      string   `env:"SERVER_VERSION" envDefault:"dev"`
}

type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
}

// LocalConfig configures the single process mode backed by sqlite.
type LocalConfig struct {
	Root               string   `env:"ROOT" envDefault:"./annotation-data"`
	Port               int      `env:"PORT" envDefault:"3001"`
	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ServerVersion      string   `env:"SERVER_VERSION" envDefault:"dev"`
}

func Parse[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

func (c APIConfig) Channel() string {
	if c.EventsChannel == "" {
		return events.DefaultChannel
	}
	return c.EventsChannel
}
