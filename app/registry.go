// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/apikit/adapters/clock"
	"github.com/artpar/apikit/adapters/memory"
	"github.com/artpar/apikit/adapters/metrics"
	"github.com/artpar/apikit/adapters/schema/fieldschema"
	"github.com/artpar/apikit/adapters/schema/jsonschema"
	"github.com/artpar/apikit/adapters/session"
	"github.com/artpar/apikit/adapters/sqlite"
	"github.com/artpar/apikit/config"
	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/gateway"
	"github.com/artpar/apikit/ports"
)

// ErrUnknownSpec is returned for names the configuration does not declare.
var ErrUnknownSpec = errors.New("unknown spec")

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// BaseDir resolves relative schema file paths. Usually the config file's
	// directory.
	BaseDir string

	// Transport overrides the HTTP transport of every session (tests).
	Transport http.RoundTripper

	Clock  ports.Clock
	Logger zerolog.Logger

	// Metrics overrides the collector. Without it a collector is created
	// when the config enables metrics, registered with Registerer or the
	// default Prometheus registerer.
	Metrics    *metrics.Collector
	Registerer prometheus.Registerer
}

// Registry turns a configuration into named specifications served by one
// binder. Apply swaps in a new configuration atomically; gateways built from
// the previous one are discarded.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]*gateway.Spec
	schemas  map[string]ports.Schema
	sessions *session.Pool
	binder   *gateway.Binder

	cache ports.ResponseCache
	db    *sqlite.DB

	opts    RegistryOptions
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewRegistry creates a registry and applies cfg. The response cache backend
// is chosen once here; later Apply calls keep it.
func NewRegistry(cfg *config.Config, opts RegistryOptions) (*Registry, error) {
	r := &Registry{
		sessions: session.NewPool(),
		opts:     opts,
		clock:    clock.Or(opts.Clock),
		logger:   opts.Logger.With().Str("component", "registry").Logger(),
		metrics:  opts.Metrics,
	}
	if r.metrics == nil && cfg.Metrics.Enabled {
		reg := opts.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		r.metrics = metrics.NewWithRegistry(reg)
	}
	r.binder = gateway.NewBinder(gateway.BinderConfig{
		SessionFactory: r.defaultSession,
		Logger:         opts.Logger,
		Metrics:        r.metrics,
	})

	switch cfg.Cache.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Cache.DSN)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate cache: %w", err)
		}
		r.db = db
		r.cache = sqlite.NewResponseCache(db)
	default:
		r.cache = memory.NewResponseCache()
	}

	if err := r.Apply(cfg); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Apply rebuilds schemas, sessions and specs from cfg. On error the current
// state is kept.
func (r *Registry) Apply(cfg *config.Config) error {
	err := r.apply(cfg)
	r.metrics.ObserveReload(err, float64(r.clock.Now().Unix()))
	return err
}

func (r *Registry) apply(cfg *config.Config) error {
	schemas, err := r.buildSchemas(cfg)
	if err != nil {
		return err
	}

	pool := session.NewPool()
	for _, name := range sortedNames(cfg.Sessions) {
		s, err := r.buildSession(name, cfg.Sessions[name], cfg.Cache)
		if err != nil {
			pool.Close()
			return err
		}
		pool.Register(name, s)
	}

	specs := make(map[string]*gateway.Spec, len(cfg.Specs))
	for _, name := range sortedNames(cfg.Specs) {
		if _, err := r.buildSpec(name, cfg, schemas, pool, specs); err != nil {
			pool.Close()
			return err
		}
	}

	r.mu.Lock()
	old := r.sessions
	r.specs = specs
	r.schemas = schemas
	r.sessions = pool
	r.mu.Unlock()

	r.binder.Reset()
	if err := old.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("closing previous sessions")
	}

	r.logger.Info().
		Int("specs", len(specs)).
		Int("schemas", len(schemas)).
		Int("sessions", len(cfg.Sessions)).
		Msg("registry applied")
	return nil
}

func (r *Registry) buildSchemas(cfg *config.Config) (map[string]ports.Schema, error) {
	schemas := make(map[string]ports.Schema, len(cfg.Schemas))
	for _, name := range sortedNames(cfg.Schemas) {
		sc := cfg.Schemas[name]
		switch sc.Kind {
		case config.SchemaJSONSchema:
			var (
				s   *jsonschema.Schema
				err error
			)
			if sc.File != "" {
				path := sc.File
				if !filepath.IsAbs(path) && r.opts.BaseDir != "" {
					path = filepath.Join(r.opts.BaseDir, path)
				}
				s, err = jsonschema.NewFromFile(name, path)
			} else {
				s, err = jsonschema.NewFromMap(name, sc.Document)
			}
			if err != nil {
				return nil, fmt.Errorf("schema %s: %w", name, err)
			}
			schemas[name] = s
		default:
			s := fieldschema.New(name, sc.Fields...).WithUnknown(fieldschema.UnknownPolicy(sc.Unknown))
			if err := s.Check(); err != nil {
				return nil, fmt.Errorf("schema %s: %w", name, err)
			}
			schemas[name] = s
		}
	}
	return schemas, nil
}

func (r *Registry) buildSession(name string, sc config.SessionConfig, cc config.CacheConfig) (ports.Session, error) {
	var auth session.Chain
	if sc.BearerToken != "" {
		b, err := session.NewBearerToken(sc.BearerToken)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", name, err)
		}
		auth = append(auth, b)
	}
	if sc.APIKey.Value != "" {
		k, err := session.NewAPIKey(sc.APIKey.Header, sc.APIKey.Value)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", name, err)
		}
		auth = append(auth, k)
	}

	opts := session.Options{
		Name:            name,
		Timeout:         sc.Timeout,
		MaxIdleConns:    sc.MaxIdleConns,
		IdleConnTimeout: sc.IdleConnTimeout,
		MaxBodyBytes:    sc.MaxBodyBytes,
		Headers:         sc.Headers,
		UserAgent:       sc.UserAgent,
		Retry:           session.RetryPolicy{Max: sc.Retry.Max, Backoff: sc.Retry.Backoff},
		RateLimit:       session.RateLimit{RPS: sc.RateLimit.RPS, Burst: sc.RateLimit.Burst},
		Transport:       r.opts.Transport,
		Logger:          r.opts.Logger,
		Metrics:         r.metrics,
	}
	if len(auth) > 0 {
		opts.Authorizer = auth
	}

	var s ports.Session = session.New(opts)
	if sc.Cache {
		s = session.NewCached(s, r.cache, session.CacheOptions{
			Name:         name,
			TTL:          cc.TTL,
			StaleIfError: cc.StaleIfError,
			Clock:        r.clock,
			Logger:       r.opts.Logger,
			Metrics:      r.metrics,
		})
	}
	return s, nil
}

// buildSpec resolves name and its declared ancestors into specs, memoized.
func (r *Registry) buildSpec(name string, cfg *config.Config, schemas map[string]ports.Schema, pool *session.Pool, specs map[string]*gateway.Spec) (*gateway.Spec, error) {
	if s, ok := specs[name]; ok {
		return s, nil
	}
	sc, declared := cfg.Specs[name]
	if !declared {
		if b := builtinSpec(name); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("spec %s: %w", name, ErrUnknownSpec)
	}

	parent := gateway.Root
	if sc.Extends != "" {
		p, err := r.buildSpec(sc.Extends, cfg, schemas, pool, specs)
		if err != nil {
			return nil, err
		}
		parent = p
	}

	// A spec that only extends another is an alias of it.
	if sc.Extends != "" && reflect.DeepEqual(sc, config.SpecConfig{Extends: sc.Extends}) {
		spec := parent.Named(name)
		specs[name] = spec
		return spec, nil
	}

	scope, err := gateway.ParseScope(sc.Scope)
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", name, err)
	}
	fields := gateway.Fields{
		BaseURL: sc.BaseURL,
		URL:     sc.URL,
		Method:  endpoint.Method(strings.ToUpper(strings.TrimSpace(sc.Method))),
		Headers: sc.Headers,
		Timeout: sc.Timeout,
		Select:  sc.Select,
	}
	if sc.Scope != "" {
		fields.Scope = scope
	}
	if sc.RequestSchema != "" {
		fields.RequestModel = schemas[sc.RequestSchema]
	}
	if sc.ResponseSchema != "" {
		fields.ResponseModel = schemas[sc.ResponseSchema]
	}
	if sc.Session != "" {
		s, ok := pool.Get(sc.Session)
		if !ok {
			return nil, fmt.Errorf("spec %s: unknown session %q", name, sc.Session)
		}
		fields.SessionFactory = gateway.StaticSession(s)
	}

	spec := parent.Extend(name, fields)
	specs[name] = spec
	return spec, nil
}

// defaultSession serves specs without a named session.
func (r *Registry) defaultSession(ctx context.Context, res gateway.Resolved, owner any) (ports.Session, error) {
	return session.New(session.Options{
		Name:       res.Name,
		Timeout:    res.Timeout,
		Authorizer: res.Authorizer,
		Transport:  r.opts.Transport,
		Logger:     r.opts.Logger,
		Metrics:    r.metrics,
	}), nil
}

func builtinSpec(name string) *gateway.Spec {
	switch name {
	case "Root":
		return gateway.Root
	case "GET":
		return gateway.GET
	case "POST":
		return gateway.POST
	case "PUT":
		return gateway.PUT
	case "PATCH":
		return gateway.PATCH
	case "DELETE":
		return gateway.DELETE
	}
	return nil
}

// Spec returns the named specification.
func (r *Registry) Spec(name string) (*gateway.Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Schema returns the named schema.
func (r *Registry) Schema(name string) (ports.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the declared spec names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.specs)
}

// Gateway returns the gateway for the named spec, building it on first use.
func (r *Registry) Gateway(ctx context.Context, name string) (*gateway.Gateway, error) {
	spec, ok := r.Spec(name)
	if !ok {
		return nil, fmt.Errorf("spec %s: %w", name, ErrUnknownSpec)
	}
	return r.binder.Bind(ctx, spec, nil)
}

// Call calls the named spec with value.
func (r *Registry) Call(ctx context.Context, name string, value any) (any, error) {
	g, err := r.Gateway(ctx, name)
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, value)
}

// Check builds every spec's gateway and returns the failures by name.
func (r *Registry) Check(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range r.Names() {
		if _, err := r.Gateway(ctx, name); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Watch applies every configuration the holder reloads.
func (r *Registry) Watch(h *config.Holder) {
	h.OnChange(func(cfg *config.Config) {
		if err := r.Apply(cfg); err != nil {
			r.logger.Error().Err(err).Msg("apply reloaded config failed, keeping previous specs")
		}
	})
}

// Binder returns the registry's binder.
func (r *Registry) Binder() *gateway.Binder { return r.binder }

// Metrics returns the registry's collector, nil when metrics are disabled.
func (r *Registry) Metrics() *metrics.Collector { return r.metrics }

// Cache returns the response cache shared by cached sessions.
func (r *Registry) Cache() ports.ResponseCache { return r.cache }

// Close releases sessions and the cache database.
func (r *Registry) Close() error {
	r.binder.Reset()

	r.mu.Lock()
	pool := r.sessions
	r.sessions = session.NewPool()
	r.mu.Unlock()

	errs := []error{pool.Close()}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
