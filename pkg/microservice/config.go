package microservice

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-userquery/pkg/cache"
	"github.com/illmade-knight/go-userquery/pkg/query"
	"github.com/illmade-knight/go-userquery/pkg/users"
)

// User sources.
const (
	SourceHTTP      = "http"
	SourceFirestore = "firestore"
)

// Config is the service configuration, read from the environment.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:":8081"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"userview"`

	// Source selects where user payloads come from: "http" or "firestore".
	Source    string                `env:"USER_SOURCE" envDefault:"http"`
	API       users.HTTPConfig      `envPrefix:"USERS_API_"`
	Firestore users.FirestoreConfig `envPrefix:"FIRESTORE_"`
	// Redis is optional; leaving REDIS_ADDR empty disables the shared cache.
	Redis cache.RedisConfig `envPrefix:"REDIS_"`
	Query query.Config      `envPrefix:"QUERY_"`
}

// LoadConfig parses the process environment.
func LoadConfig() (*Config, error) {
	return parseConfig(env.Options{})
}

// LoadConfigFrom parses the given variables instead of the process
// environment.
func LoadConfigFrom(environment map[string]string) (*Config, error) {
	return parseConfig(env.Options{Environment: environment})
}

func parseConfig(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected source is fully configured.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	switch c.Source {
	case SourceHTTP:
		if c.API.BaseURL == "" {
			return fmt.Errorf("USERS_API_BASE_URL is required for the http source")
		}
	case SourceFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore source")
		}
	default:
		return fmt.Errorf("unknown USER_SOURCE %q", c.Source)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// RedisEnabled reports whether the shared Redis cache is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
