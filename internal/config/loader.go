package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies the
// default tags and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an explicit variable lookup, so callers such as the
// CLI can layer flags over the environment.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	l := &envLoader{getenv: getenv}
	l.load(reflect.ValueOf(cfg).Elem())
	if len(l.errs) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(l.errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envLoader fills tagged struct fields from a variable lookup. Missing and
// malformed variables are gathered rather than stopping at the first.
type envLoader struct {
	getenv func(string) string
	errs   []string
}

func (l *envLoader) load(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		switch {
		case !fv.CanSet():
		case field.Type.Kind() == reflect.Struct:
			l.load(fv)
		default:
			l.loadField(field, fv)
		}
	}
}

func (l *envLoader) loadField(field reflect.StructField, fv reflect.Value) {
	name := field.Tag.Get("env")
	if name == "" {
		return
	}

	value := l.lookup(name, field.Tag.Get("envAlt"))
	if value == "" {
		if field.Tag.Get("required") == "true" {
			l.errs = append(l.errs, fmt.Sprintf("required environment variable %s is not set", name))
			return
		}
		value = field.Tag.Get("default")
	}
	if value == "" {
		return
	}

	if err := setField(fv, value); err != nil {
		l.errs = append(l.errs, fmt.Sprintf("invalid value for %s=%q: %v", name, value, err))
	}
}

// lookup returns the first non-blank value among names.
func (l *envLoader) lookup(names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := strings.TrimSpace(l.getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// setField parses value into field according to the field's type.
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Every problem is collected so one restart fixes all of them.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.BatchSize <= 0 {
		errs = append(errs, "UPLOAD_BATCH_SIZE must be positive")
	}
	if c.Upload.MaxRows < c.Upload.BatchSize {
		errs = append(errs, fmt.Sprintf("UPLOAD_MAX_ROWS (%d) must be >= UPLOAD_BATCH_SIZE (%d)",
			c.Upload.MaxRows, c.Upload.BatchSize))
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, "UPLOAD_TIMEOUT must be positive")
	}

	if c.Index.PageSize <= 0 {
		errs = append(errs, "INDEX_PAGE_SIZE must be positive")
	}
	if c.Index.MaxPages <= 0 {
		errs = append(errs, "INDEX_MAX_PAGES must be positive")
	}
	if c.Index.Timeout <= 0 {
		errs = append(errs, "INDEX_TIMEOUT must be positive")
	}

	if c.Sessions.TTL <= 0 {
		errs = append(errs, "UPLOAD_SESSION_TTL must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		errs = append(errs, "UPLOAD_SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Sessions.MaxOpen <= 0 {
		errs = append(errs, "UPLOAD_SESSION_MAX_OPEN must be positive")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a loggable summary of the config with the database URL
// and API keys masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, AutoMigrate: %v}, ",
		c.Database.MaxConns, c.Database.AutoMigrate)
	fmt.Fprintf(&b, "Upload: {MaxConcurrent: %d, BatchSize: %d, MaxRows: %d}, ",
		c.Upload.MaxConcurrent, c.Upload.BatchSize, c.Upload.MaxRows)
	fmt.Fprintf(&b, "Index: {PageSize: %d, MaxPages: %d, Timeout: %s}, ",
		c.Index.PageSize, c.Index.MaxPages, c.Index.Timeout)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
