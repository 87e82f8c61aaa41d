package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Zmiievskyi/Mine-sub000/pkg/config"
	"github.com/Zmiievskyi/Mine-sub000/pkg/database"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"portal"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"portal_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`

	// Refresh sessions
	RefreshShortExpiry      time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"24h"`
	RefreshLongExpiry       time.Duration `env:"REFRESH_TOKEN_REMEMBER_EXPIRY" envDefault:"168h"`
	MaxSessions             int           `env:"MAX_SESSIONS_PER_USER" envDefault:"5"`
	SessionCleanupRetention time.Duration `env:"SESSION_CLEANUP_RETENTION" envDefault:"720h"`

	// OAuth providers
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GithubClientID     string `env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	OAuthRedirectBase  string `env:"OAUTH_REDIRECT_BASE_URL" envDefault:"http://localhost:8001"`

	// Telegram login widget
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TraceSample    float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.RefreshLongExpiry < cfg.RefreshShortExpiry {
		return nil, fmt.Errorf("remember-me expiry (%s) must not be shorter than the standard expiry (%s)",
			cfg.RefreshLongExpiry, cfg.RefreshShortExpiry)
	}
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("MAX_SESSIONS_PER_USER must be at least 1, got %d", cfg.MaxSessions)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == "change-this-to-a-secure-secret" {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
	}

	return cfg, nil
}

// Postgres returns the connection settings for the pool constructor.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPass,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSL,
	}
}
