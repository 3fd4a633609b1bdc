package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Odoo      OdooConfig
	LLM       LLMConfig
	Docs      DocsConfig
	Events    EventsConfig
	Catalog   CatalogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	TurnTimeout     time.Duration `envconfig:"TURN_TIMEOUT" default:"2m"`
}

// GRPCConfig holds the health endpoint used by orchestrators.
type GRPCConfig struct {
	Address string `envconfig:"GRPC_ADDR" default:"0.0.0.0:50061"`
	Enabled bool   `envconfig:"GRPC_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// SessionConfig selects the session backend and its lifetimes.
type SessionConfig struct {
	Backend       string        `envconfig:"SESSION_BACKEND" default:"file"`
	Dir           string        `envconfig:"SESSION_DIR" default:"sessions"`
	DSN           string        `envconfig:"SESSION_DSN" default:"sessions.db"`
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"15m"`
	TerminalGrace time.Duration `envconfig:"SESSION_TERMINAL_GRACE" default:"1h"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

// OdooConfig holds ERP connection settings.
type OdooConfig struct {
	URL      string        `envconfig:"ODOO_URL" default:"http://localhost:8069"`
	Database string        `envconfig:"ODOO_DB" default:"odoo"`
	Username string        `envconfig:"ODOO_USERNAME"`
	Password string        `envconfig:"ODOO_PASSWORD"`
	Timeout  time.Duration `envconfig:"ODOO_TIMEOUT" default:"30s"`
	RPS      float64       `envconfig:"ODOO_RPS" default:"20"`
}

// LLMConfig holds chat completion settings.
type LLMConfig struct {
	APIKey     string        `envconfig:"OPENAI_API_KEY"`
	Model      string        `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	Fallback   string        `envconfig:"OPENAI_FALLBACK_MODEL"`
	BaseURL    string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	MaxHistory int           `envconfig:"LLM_HISTORY" default:"20"`
	Timeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	HistoryDir string        `envconfig:"LLM_HISTORY_DIR" default:"conversations"`
}

// DocsConfig holds document generation settings.
type DocsConfig struct {
	OutputDir string `envconfig:"DOCS_DIR" default:"documents"`
	BaseURL   string `envconfig:"DOCS_BASE_URL" default:"/documents"`
}

// EventsConfig holds flow lifecycle event sinks.
type EventsConfig struct {
	AMQPURL  string `envconfig:"EVENTS_AMQP_URL"`
	Exchange string `envconfig:"EVENTS_EXCHANGE" default:"nasma.flows"`
	Audit    bool   `envconfig:"EVENTS_AUDIT" default:"true"`
	// AuditDSN is used when sessions live in files; with a table backend
	// the audit shares the session database.
	AuditDSN string `envconfig:"EVENTS_AUDIT_DSN" default:"events.db"`
}

// CatalogConfig points at an optional flow catalog override file and the
// time zone relative dates are read in.
type CatalogConfig struct {
	File     string `envconfig:"CATALOG_FILE"`
	TimeZone string `envconfig:"NASMA_TZ" default:"Asia/Dubai"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
			TurnTimeout:     2 * time.Minute,
		},
		GRPC: GRPCConfig{
			Address: "0.0.0.0:50061",
			Enabled: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Session: SessionConfig{
			Backend:       "file",
			Dir:           "sessions",
			DSN:           "sessions.db",
			TTL:           15 * time.Minute,
			TerminalGrace: time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Odoo: OdooConfig{
			URL:      "http://localhost:8069",
			Database: "odoo",
			Timeout:  30 * time.Second,
			RPS:      20,
		},
		LLM: LLMConfig{
			Model:      "gpt-4o",
			BaseURL:    "https://api.openai.com/v1",
			MaxHistory: 20,
			Timeout:    60 * time.Second,
			HistoryDir: "conversations",
		},
		Docs: DocsConfig{
			OutputDir: "documents",
			BaseURL:   "/documents",
		},
		Events: EventsConfig{
			Exchange: "nasma.flows",
			Audit:    true,
			AuditDSN: "events.db",
		},
		Catalog: CatalogConfig{
			TimeZone: "Asia/Dubai",
		},
	}
}
