// Package config loads marks-reconciliation settings from environment
// variables. Every value has a default except the database URL, and the
// whole configuration is validated once at startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Index    IndexConfig
	Sessions SessionConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for
	// in-flight uploads to drain.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the chi middleware timeout. Bulk uploads of large
	// workbooks need more than the usual minute.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. DB_URL is accepted as well.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema migrations at server startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"false"`
}

// UploadConfig holds bulk upload settings.
type UploadConfig struct {
	// MaxFileSize is the largest accepted workbook in bytes (default: 20MB).
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent caps how many prepares and bulk uploads run at once.
	MaxConcurrent int           `env:"UPLOAD_MAX_CONCURRENT" default:"5"`
	MaxWaitTime   time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the chunk size used when the server splits a single-shot
	// bulk upload into process-batch calls.
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"500"`

	// MaxRows rejects single-shot uploads larger than this; callers with
	// more rows should use prepare + process-batch.
	MaxRows int `env:"UPLOAD_MAX_ROWS" default:"50000"`

	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`
}

// IndexConfig bounds the lookup index scans.
type IndexConfig struct {
	// PageSize is the number of rows requested per page.
	PageSize int `env:"INDEX_PAGE_SIZE" default:"1000"`

	// MaxPages stops a scan that never returns a short page.
	MaxPages int `env:"INDEX_MAX_PAGES" default:"500"`

	// Timeout is the wall-clock budget for building one index.
	Timeout time.Duration `env:"INDEX_TIMEOUT" default:"2m"`
}

// SessionConfig holds settings for server-held upload contexts.
type SessionConfig struct {
	TTL           time.Duration `env:"UPLOAD_SESSION_TTL" default:"30m"`
	SweepInterval time.Duration `env:"UPLOAD_SESSION_SWEEP_INTERVAL" default:"1m"`
	MaxOpen       int           `env:"UPLOAD_SESSION_MAX_OPEN" default:"50"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checking on /api routes.
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
