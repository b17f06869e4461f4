package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artpar/apikit/adapters/schema/fieldschema"
	"github.com/artpar/apikit/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
logging:
  level: debug
  format: console

cache:
  driver: sqlite
  dsn: ":memory:"
  ttl: 5m
  stale_if_error: true

sessions:
  httpbin:
    timeout: 10s
    bearer_token: "tok"
    headers:
      X-Client: apikit
    retry:
      max: 2
      backoff: 100ms
    rate_limit:
      rps: 5
      burst: 2
    cache: true

schemas:
  pair:
    fields:
      - name: foo
        type: string
        required: true
      - name: bar
        type: string
  echoed:
    kind: jsonschema
    document:
      type: object
      required: [json]

specs:
  base:
    base_url: "https://httpbin.org"
    session: httpbin
  echo:
    extends: base
    url: /post
    method: POST
    request_schema: pair
    response_schema: echoed
    select: body.json
    scope: shared
`

	cfg := writeAndLoad(t, content)

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Cache.Driver != "sqlite" || cfg.Cache.TTL != 5*time.Minute || !cfg.Cache.StaleIfError {
		t.Errorf("Cache = %+v", cfg.Cache)
	}

	s := cfg.Sessions["httpbin"]
	if s.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", s.Timeout)
	}
	if s.Retry.Max != 2 || s.Retry.Backoff != 100*time.Millisecond {
		t.Errorf("Retry = %+v", s.Retry)
	}
	if s.RateLimit.RPS != 5 || s.RateLimit.Burst != 2 {
		t.Errorf("RateLimit = %+v", s.RateLimit)
	}
	if s.Headers["X-Client"] != "apikit" || !s.Cache || s.BearerToken != "tok" {
		t.Errorf("session = %+v", s)
	}

	pair := cfg.Schemas["pair"]
	if pair.Kind != config.SchemaFields {
		t.Errorf("pair.Kind = %q, want fields", pair.Kind)
	}
	if len(pair.Fields) != 2 || pair.Fields[0].Type != fieldschema.TypeString || !pair.Fields[0].Required {
		t.Errorf("pair.Fields = %+v", pair.Fields)
	}
	if cfg.Schemas["echoed"].Document["type"] != "object" {
		t.Errorf("echoed.Document = %v", cfg.Schemas["echoed"].Document)
	}

	echo := cfg.Specs["echo"]
	if echo.Extends != "base" || echo.Method != "POST" || echo.Select != "body.json" || echo.Scope != "shared" {
		t.Errorf("echo = %+v", echo)
	}

	if got := strings.Join(cfg.SpecNames(), ","); got != "base,echo" {
		t.Errorf("SpecNames = %s", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "specs: {}\n")

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Cache.Driver != "memory" {
		t.Errorf("Cache.Driver = %s, want memory", cfg.Cache.Driver)
	}
	if cfg.Cache.DSN != "apikit-cache.db" {
		t.Errorf("Cache.DSN = %s, want apikit-cache.db", cfg.Cache.DSN)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("Cache.TTL = %v, want 30m", cfg.Cache.TTL)
	}
}

func TestLoad_SchemaKindInferred(t *testing.T) {
	cfg := writeAndLoad(t, `
schemas:
  doc:
    file: person.json
`)
	if cfg.Schemas["doc"].Kind != config.SchemaJSONSchema {
		t.Errorf("Kind = %q, want jsonschema", cfg.Schemas["doc"].Kind)
	}
}

func TestLoad_MissingURLAndMethodAreNotLoadErrors(t *testing.T) {
	cfg := writeAndLoad(t, `
specs:
  incomplete:
    base_url: "https://example.org"
`)
	if _, ok := cfg.Specs["incomplete"]; !ok {
		t.Error("incomplete spec was dropped")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_APIKIT_TOKEN", "secret-token")

	cfg := writeAndLoad(t, `
sessions:
  api:
    bearer_token: "${TEST_APIKIT_TOKEN}"
`)
	if cfg.Sessions["api"].BearerToken != "secret-token" {
		t.Errorf("BearerToken = %s, want secret-token", cfg.Sessions["api"].BearerToken)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", "logging: {level: loud}", "logging.level"},
		{"log format", "logging: {format: xml}", "logging.format"},
		{"cache driver", "cache: {driver: redis}", "cache.driver"},
		{"schema kind", "schemas: {a: {kind: avro}}", "schemas.a.kind"},
		{"unknown policy", "schemas: {a: {unknown: loose}}", "schemas.a.unknown"},
		{"jsonschema both", "schemas: {a: {kind: jsonschema, file: x.json, document: {type: object}}}", "exactly one"},
		{"fields with file", "schemas: {a: {kind: fields, file: x.json}}", "require kind"},
		{"unknown parent", "specs: {a: {extends: missing}}", "specs.a.extends"},
		{"unknown session", "specs: {a: {session: missing}}", "specs.a.session"},
		{"unknown request schema", "specs: {a: {request_schema: missing}}", "request_schema"},
		{"unknown response schema", "specs: {a: {response_schema: missing}}", "response_schema"},
		{"bad scope", "specs: {a: {scope: global}}", "specs.a.scope"},
		{"cycle", "specs: {a: {extends: b}, b: {extends: a}}", "cycle"},
		{"api key without value", "sessions: {s: {api_key: {header: X-Key}}}", "api_key.value"},
		{"negative rps", "sessions: {s: {rate_limit: {rps: -1}}}", "rate_limit.rps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BuiltinParents(t *testing.T) {
	for _, parent := range config.BuiltinSpecs {
		_, err := writeAndLoadErr(t, "specs: {a: {extends: "+parent+", url: \"https://x.org\"}}")
		if err != nil {
			t.Errorf("extends %s: %v", parent, err)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("APIKIT_LOG_LEVEL", "warn")
	t.Setenv("APIKIT_LOG_FORMAT", "console")
	t.Setenv("APIKIT_METRICS_ENABLED", "yes")
	t.Setenv("APIKIT_CACHE_DRIVER", "sqlite")
	t.Setenv("APIKIT_CACHE_DSN", "/tmp/cache.db")
	t.Setenv("APIKIT_CACHE_TTL", "1h")
	t.Setenv("APIKIT_CACHE_STALE_IF_ERROR", "1")

	cfg := writeAndLoad(t, `
logging:
  level: debug
cache:
  driver: memory
  ttl: 5m
`)

	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Cache.Driver != "sqlite" || cfg.Cache.DSN != "/tmp/cache.db" || cfg.Cache.TTL != time.Hour || !cfg.Cache.StaleIfError {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
}

func TestEnvOverrides_InvalidDuration(t *testing.T) {
	t.Setenv("APIKIT_CACHE_TTL", "soon")

	cfg := writeAndLoad(t, "cache: {ttl: 2m}")
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache.TTL = %v, want file value 2m", cfg.Cache.TTL)
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Cache.Driver != "memory" || cfg.Logging.Level != "info" {
		t.Errorf("Default() = %+v", cfg)
	}
	if len(cfg.Specs) != 0 {
		t.Errorf("Specs = %v, want none", cfg.Specs)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := writeAndLoadErr(t, "specs: [unclosed")
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

// Helpers

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return config.Load(path)
}
