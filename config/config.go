// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/apikit/adapters/schema/fieldschema"
)

// Config is the root configuration structure.
type Config struct {
	Logging  LoggingConfig            `yaml:"logging"`
	Metrics  MetricsConfig            `yaml:"metrics"`
	Cache    CacheConfig              `yaml:"cache"`
	Sessions map[string]SessionConfig `yaml:"sessions"`
	Schemas  map[string]SchemaConfig  `yaml:"schemas"`
	Specs    map[string]SpecConfig    `yaml:"specs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "console" or "auto"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheConfig configures the response cache used by sessions with cache: true.
type CacheConfig struct {
	Driver       string        `yaml:"driver"` // "memory" or "sqlite"
	DSN          string        `yaml:"dsn"`
	TTL          time.Duration `yaml:"ttl"`
	StaleIfError bool          `yaml:"stale_if_error"`
}

// SessionConfig configures a named HTTP session.
type SessionConfig struct {
	Timeout         time.Duration     `yaml:"timeout"`
	MaxIdleConns    int               `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration     `yaml:"idle_conn_timeout"`
	MaxBodyBytes    int64             `yaml:"max_body_bytes"`
	Headers         map[string]string `yaml:"headers,omitempty"`
	UserAgent       string            `yaml:"user_agent,omitempty"`
	BearerToken     string            `yaml:"bearer_token,omitempty"`
	APIKey          APIKeyConfig      `yaml:"api_key,omitempty"`
	Retry           RetryConfig       `yaml:"retry"`
	RateLimit       RateLimitConfig   `yaml:"rate_limit"`
	Cache           bool              `yaml:"cache"`
}

// APIKeyConfig configures API key authorization.
type APIKeyConfig struct {
	Header string `yaml:"header,omitempty"` // default: X-API-Key
	Value  string `yaml:"value,omitempty"`
}

// RetryConfig configures retries of idempotent requests.
type RetryConfig struct {
	Max     int           `yaml:"max"` // 0 means default, negative disables
	Backoff time.Duration `yaml:"backoff"`
}

// RateLimitConfig configures client-side throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Schema kinds.
const (
	SchemaFields     = "fields"
	SchemaJSONSchema = "jsonschema"
)

// SchemaConfig declares a named schema.
type SchemaConfig struct {
	Kind     string              `yaml:"kind"`              // "fields" or "jsonschema"
	Unknown  string              `yaml:"unknown,omitempty"` // fields only: strip, strict, passthrough
	Fields   []fieldschema.Field `yaml:"fields,omitempty"`
	Document map[string]any      `yaml:"document,omitempty"` // jsonschema inline document
	File     string              `yaml:"file,omitempty"`     // jsonschema document path
}

// SpecConfig declares a named gateway specification.
// url and method may be left out; a spec missing either fails at first use.
type SpecConfig struct {
	Extends        string            `yaml:"extends,omitempty"`
	BaseURL        string            `yaml:"base_url,omitempty"`
	URL            string            `yaml:"url,omitempty"`
	Method         string            `yaml:"method,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty"`
	Session        string            `yaml:"session,omitempty"`
	RequestSchema  string            `yaml:"request_schema,omitempty"`
	ResponseSchema string            `yaml:"response_schema,omitempty"`
	Select         string            `yaml:"select,omitempty"`
	Scope          string            `yaml:"scope,omitempty"` // "instance" or "shared"
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given:
// no specs, memory cache, info logging.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides applies APIKIT_* environment variables to the config.
// Environment variables always override file-based configuration.
//
//	APIKIT_LOG_LEVEL            - Log level: debug, info, warn, error
//	APIKIT_LOG_FORMAT           - Log format: json, console or auto
//	APIKIT_METRICS_ENABLED      - Enable metrics
//	APIKIT_CACHE_DRIVER         - Cache driver: memory or sqlite
//	APIKIT_CACHE_DSN            - SQLite cache path
//	APIKIT_CACHE_TTL            - Cache TTL (duration)
//	APIKIT_CACHE_STALE_IF_ERROR - Serve stale entries on upstream failure
func applyEnvOverrides(cfg *Config) {
	// Logging configuration
	if v := os.Getenv("APIKIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("APIKIT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("APIKIT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// Cache configuration
	if v := os.Getenv("APIKIT_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("APIKIT_CACHE_DSN"); v != "" {
		cfg.Cache.DSN = v
	}
	if v := os.Getenv("APIKIT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("APIKIT_CACHE_STALE_IF_ERROR"); v != "" {
		cfg.Cache.StaleIfError = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "memory"
	}
	if cfg.Cache.DSN == "" {
		cfg.Cache.DSN = "apikit-cache.db"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Minute
	}

	for name, s := range cfg.Schemas {
		if s.Kind == "" {
			s.Kind = SchemaFields
			if s.Document != nil || s.File != "" {
				s.Kind = SchemaJSONSchema
			}
			cfg.Schemas[name] = s
		}
	}
}

func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "json", "console", "auto":
	default:
		return fmt.Errorf("logging.format must be 'json', 'console' or 'auto', got %q", cfg.Logging.Format)
	}

	if cfg.Cache.Driver != "memory" && cfg.Cache.Driver != "sqlite" {
		return fmt.Errorf("cache.driver must be 'memory' or 'sqlite', got %q", cfg.Cache.Driver)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	for _, name := range sortedKeys(cfg.Sessions) {
		s := cfg.Sessions[name]
		if s.RateLimit.RPS < 0 {
			return fmt.Errorf("sessions.%s.rate_limit.rps must not be negative", name)
		}
		if s.APIKey.Header != "" && s.APIKey.Value == "" {
			return fmt.Errorf("sessions.%s.api_key.value is required when api_key.header is set", name)
		}
	}

	for _, name := range sortedKeys(cfg.Schemas) {
		s := cfg.Schemas[name]
		switch s.Kind {
		case SchemaFields:
			if s.Document != nil || s.File != "" {
				return fmt.Errorf("schemas.%s: document and file require kind 'jsonschema'", name)
			}
			switch s.Unknown {
			case "", "strip", "strict", "passthrough":
			default:
				return fmt.Errorf("schemas.%s.unknown must be one of: strip, strict, passthrough", name)
			}
		case SchemaJSONSchema:
			if (s.Document == nil) == (s.File == "") {
				return fmt.Errorf("schemas.%s: exactly one of document or file is required", name)
			}
		default:
			return fmt.Errorf("schemas.%s.kind must be 'fields' or 'jsonschema', got %q", name, s.Kind)
		}
	}

	for _, name := range sortedKeys(cfg.Specs) {
		s := cfg.Specs[name]
		if s.Extends != "" && !isBuiltinSpec(s.Extends) {
			if _, ok := cfg.Specs[s.Extends]; !ok {
				return fmt.Errorf("specs.%s.extends: unknown spec %q", name, s.Extends)
			}
		}
		if s.Session != "" {
			if _, ok := cfg.Sessions[s.Session]; !ok {
				return fmt.Errorf("specs.%s.session: unknown session %q", name, s.Session)
			}
		}
		if s.RequestSchema != "" {
			if _, ok := cfg.Schemas[s.RequestSchema]; !ok {
				return fmt.Errorf("specs.%s.request_schema: unknown schema %q", name, s.RequestSchema)
			}
		}
		if s.ResponseSchema != "" {
			if _, ok := cfg.Schemas[s.ResponseSchema]; !ok {
				return fmt.Errorf("specs.%s.response_schema: unknown schema %q", name, s.ResponseSchema)
			}
		}
		switch strings.ToLower(s.Scope) {
		case "", "instance", "shared":
		default:
			return fmt.Errorf("specs.%s.scope must be 'instance' or 'shared', got %q", name, s.Scope)
		}
	}

	if cycle := findCycle(cfg.Specs); cycle != "" {
		return fmt.Errorf("specs: inheritance cycle through %q", cycle)
	}

	return nil
}

// BuiltinSpecs are the names specs may extend without declaring them.
var BuiltinSpecs = []string{"Root", "GET", "POST", "PUT", "PATCH", "DELETE"}

func isBuiltinSpec(name string) bool {
	for _, b := range BuiltinSpecs {
		if b == name {
			return true
		}
	}
	return false
}

func findCycle(specs map[string]SpecConfig) string {
	for _, start := range sortedKeys(specs) {
		seen := map[string]bool{}
		for cur := start; cur != ""; cur = specs[cur].Extends {
			if seen[cur] {
				return cur
			}
			seen[cur] = true
			if _, ok := specs[cur]; !ok {
				break
			}
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SpecNames returns the declared spec names in sorted order.
func (c *Config) SpecNames() []string {
	return sortedKeys(c.Specs)
}
