package app_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/artpar/apikit/adapters/http"
	"github.com/artpar/apikit/adapters/metrics"
	"github.com/artpar/apikit/app"
	"github.com/artpar/apikit/config"
	"github.com/artpar/apikit/domain/endpoint"
)

const registryConfig = `
sessions:
  echo:
    headers:
      X-Client: apikit-test
  cached:
    cache: true

schemas:
  pair:
    unknown: strict
    fields:
      - {name: foo, type: string, required: true}
      - {name: bar, type: string, required: true}
  echoed:
    kind: jsonschema
    document:
      type: object
      required: [foo, bar]
      properties:
        foo: {type: string}
        bar: {type: string}

specs:
  base:
    base_url: "%[1]s"
    session: echo
  echo:
    extends: base
    url: /post
    method: post
    request_schema: pair
    response_schema: echoed
    select: body.json
  args:
    extends: GET
    base_url: "%[1]s"
    url: /get
    session: cached
    select: body.args
  incomplete:
    extends: base
`

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newEchoServer(t *testing.T) *countingServer {
	t.Helper()
	cs := &countingServer{}
	router := apihttp.NewEchoRouter(zerolog.Nop(), apihttp.EchoConfig{})
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func parseConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(content))
	require.NoError(t, err)
	return cfg
}

func newRegistry(t *testing.T, cfg *config.Config, m *metrics.Collector) *app.Registry {
	t.Helper()
	r, err := app.NewRegistry(cfg, app.RegistryOptions{Logger: zerolog.Nop(), Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_Call(t *testing.T) {
	server := newEchoServer(t)
	r := newRegistry(t, parseConfig(t, fmt.Sprintf(registryConfig, server.URL)), nil)

	assert.Equal(t, []string{"args", "base", "echo", "incomplete"}, r.Names())

	out, err := r.Call(context.Background(), "echo", map[string]any{"foo": "1", "bar": "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "1", "bar": "2"}, out)

	g, err := r.Gateway(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/post", g.URL())
	assert.Equal(t, endpoint.MethodPost, g.Method())
}

func TestRegistry_ValidationBeforeSend(t *testing.T) {
	server := newEchoServer(t)
	r := newRegistry(t, parseConfig(t, fmt.Sprintf(registryConfig, server.URL)), nil)

	_, err := r.Call(context.Background(), "echo", map[string]any{"foo": "1", "bar": "2", "baz": 3})
	var ve *endpoint.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, endpoint.CodeUnknownKey, ve.Violations[0].Code)
	assert.Equal(t, int32(0), server.hits.Load())
}

func TestRegistry_Errors(t *testing.T) {
	server := newEchoServer(t)
	r := newRegistry(t, parseConfig(t, fmt.Sprintf(registryConfig, server.URL)), nil)

	_, err := r.Call(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, app.ErrUnknownSpec))

	_, err = r.Gateway(context.Background(), "incomplete")
	var ce *endpoint.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"url", "method"}, ce.Missing)

	failures := r.Check(context.Background())
	assert.Len(t, failures, 2)
	assert.Contains(t, failures, "incomplete")
	assert.Contains(t, failures, "base")
}

func TestRegistry_CachedSession(t *testing.T) {
	server := newEchoServer(t)
	r := newRegistry(t, parseConfig(t, fmt.Sprintf(registryConfig, server.URL)), nil)

	for i := 0; i < 3; i++ {
		out, err := r.Call(context.Background(), "args", map[string]any{"q": "go"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"q": "go"}, out)
	}
	assert.Equal(t, int32(1), server.hits.Load())
}

func TestRegistry_Apply(t *testing.T) {
	server := newEchoServer(t)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := newRegistry(t, parseConfig(t, fmt.Sprintf(registryConfig, server.URL)), m)

	before, err := r.Gateway(context.Background(), "echo")
	require.NoError(t, err)

	updated := parseConfig(t, fmt.Sprintf(`
specs:
  echo:
    base_url: "%s"
    url: /put
    method: PUT
`, server.URL))
	require.NoError(t, r.Apply(updated))

	after, err := r.Gateway(context.Background(), "echo")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, server.URL+"/put", after.URL())
	assert.Equal(t, []string{"echo"}, r.Names())

	broken := parseConfig(t, `
schemas:
  bad:
    fields:
      - {name: x, type: blob}
`)
	assert.Error(t, r.Apply(broken))
	assert.Equal(t, []string{"echo"}, r.Names(), "failed apply must keep previous specs")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConfigReloads))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConfigReloadErrors))
}

func TestRegistry_WatchHolder(t *testing.T) {
	server := newEchoServer(t)
	path := filepath.Join(t.TempDir(), "apikit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(registryConfig, server.URL)), 0644))

	h, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)
	defer h.Stop()

	r := newRegistry(t, h.Get(), nil)
	r.Watch(h)

	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
specs:
  only:
    base_url: "%s"
    url: /delete
    method: DELETE
`, server.URL)), 0644))
	require.NoError(t, h.Reload())

	assert.Equal(t, []string{"only"}, r.Names())
	_, err = r.Call(context.Background(), "only", map[string]any{"id": "7"})
	require.NoError(t, err)
}

func TestRegistry_SQLiteCache(t *testing.T) {
	server := newEchoServer(t)
	cfg := parseConfig(t, fmt.Sprintf(registryConfig, server.URL))
	cfg.Cache.Driver = "sqlite"
	cfg.Cache.DSN = filepath.Join(t.TempDir(), "cache.db")

	r := newRegistry(t, cfg, nil)
	for i := 0; i < 2; i++ {
		_, err := r.Call(context.Background(), "args", map[string]any{"q": "persist"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), server.hits.Load())

	entry, ok := r.Schema("pair")
	require.True(t, ok)
	assert.Len(t, entry.Describe(), 2)
}

func TestRegistry_JSONSchemaFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "item.json"), []byte(`{"type":"object","required":["id"]}`), 0644))

	cfg := parseConfig(t, `
schemas:
  item:
    file: item.json
`)
	r, err := app.NewRegistry(cfg, app.RegistryOptions{BaseDir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer r.Close()

	s, ok := r.Schema("item")
	require.True(t, ok)
	_, err = s.Validate(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestRegistry_MetricsEnabled(t *testing.T) {
	server := newEchoServer(t)
	cfg := parseConfig(t, fmt.Sprintf(registryConfig, server.URL))

	disabled := newRegistry(t, cfg, nil)
	assert.Nil(t, disabled.Metrics())

	cfg.Metrics.Enabled = true
	r, err := app.NewRegistry(cfg, app.RegistryOptions{Logger: zerolog.Nop(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer r.Close()

	m := r.Metrics()
	require.NotNil(t, m)
	_, err = r.Call(context.Background(), "echo", map[string]any{"foo": "1", "bar": "2"})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConfigReloads))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionRequests))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewaysBuilt))
}

func TestRegistry_CachedSessionsKeepCredentialsApart(t *testing.T) {
	server := newEchoServer(t)
	cfg := parseConfig(t, fmt.Sprintf(`
sessions:
  alice: {cache: true, bearer_token: alice-token}
  bob:   {cache: true, bearer_token: bob-token}
specs:
  me:
    extends: GET
    base_url: "%[1]s"
    url: /get
    select: body.headers.Authorization
  alice_me: {extends: me, session: alice}
  bob_me:   {extends: me, session: bob}
`, server.URL))
	r := newRegistry(t, cfg, nil)

	for i := 0; i < 2; i++ {
		who, err := r.Call(context.Background(), "alice_me", nil)
		require.NoError(t, err)
		assert.Equal(t, "Bearer alice-token", who)

		who, err = r.Call(context.Background(), "bob_me", nil)
		require.NoError(t, err)
		assert.Equal(t, "Bearer bob-token", who)
	}
	assert.Equal(t, int32(2), server.hits.Load(), "one upstream call per credential")
}

func TestRegistry_AliasSpec(t *testing.T) {
	server := newEchoServer(t)
	cfg := parseConfig(t, fmt.Sprintf(registryConfig+`
  latest:
    extends: echo
`, server.URL))
	r := newRegistry(t, cfg, nil)

	echo, ok := r.Spec("echo")
	require.True(t, ok)
	latest, ok := r.Spec("latest")
	require.True(t, ok)
	assert.Equal(t, "latest", latest.Name())
	assert.Same(t, echo, latest.Parent())

	out, err := r.Call(context.Background(), "latest", map[string]any{"foo": "1", "bar": "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "1", "bar": "2"}, out)
}
