package gateway

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/apikit/adapters/metrics"
	"github.com/artpar/apikit/domain/endpoint"
)

// BinderConfig configures a Binder.
type BinderConfig struct {
	// SessionFactory is used by specifications that do not set their own.
	// Nil means DefaultSessionFactory.
	SessionFactory SessionFactory

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// bindingKey identifies a cached gateway. owner is the owner value for
// ScopeInstance and the owner's reflect.Type for ScopeShared.
type bindingKey struct {
	spec  *Spec
	owner any
}

// flight is a build in progress for one key. Concurrent Binds of the key
// join it through its singleflight id.
type flight struct {
	id string
	// stale is set when the key is evicted mid-build; the result is handed
	// to waiting callers but not cached.
	stale bool
}

// Binder builds gateways on first use and caches them per specification
// and owner. Concurrent first uses of the same key build exactly once.
// Failed builds are not cached; the next use tries again.
//
// Specifications are keyed by pointer, so they should be declared once
// (package variables or registry entries) rather than derived per call.
type Binder struct {
	mu       sync.Mutex
	gateways map[bindingKey]*Gateway
	flights  map[bindingKey]*flight
	seq      uint64
	group    singleflight.Group

	sessions SessionFactory
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// NewBinder creates a binder.
func NewBinder(cfg BinderConfig) *Binder {
	return &Binder{
		gateways: make(map[bindingKey]*Gateway),
		flights:  make(map[bindingKey]*flight),
		sessions: cfg.SessionFactory,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Bind returns the gateway for spec and owner, building it if needed.
func (b *Binder) Bind(ctx context.Context, spec *Spec, owner any) (*Gateway, error) {
	if spec == nil {
		return nil, &endpoint.ConfigurationError{Reason: "nil specification"}
	}
	r := spec.Resolve()
	key, err := keyFor(spec, r, owner)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if g, ok := b.gateways[key]; ok {
		b.mu.Unlock()
		return g, nil
	}
	f, ok := b.flights[key]
	if !ok {
		b.seq++
		f = &flight{id: strconv.FormatUint(b.seq, 10)}
		b.flights[key] = f
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do(f.id, func() (any, error) {
		return b.build(ctx, spec, r, key, owner, f)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Gateway), nil
}

func (b *Binder) build(ctx context.Context, spec *Spec, r Resolved, key bindingKey, owner any, f *flight) (*Gateway, error) {
	b.mu.Lock()
	if g, ok := b.gateways[key]; ok {
		b.mu.Unlock()
		return g, nil
	}
	if b.flights[key] != f {
		// f finished before this caller joined it.
		b.mu.Unlock()
		return b.Bind(ctx, spec, owner)
	}
	b.mu.Unlock()

	g, err := r.Build(ctx, owner, b.sessions)
	b.metrics.ObserveBuild(r.Name, err)

	b.mu.Lock()
	delete(b.flights, key)
	cached := err == nil && !f.stale
	if cached {
		b.gateways[key] = g
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Debug().Err(err).Str("spec", r.Name).Msg("gateway build failed")
		return nil, err
	}
	b.logger.Debug().
		Str("spec", r.Name).
		Str("method", string(g.Method())).
		Str("url", g.URL()).
		Str("scope", string(r.Scope)).
		Bool("cached", cached).
		Msg("gateway built")
	return g, nil
}

// Call binds spec for owner and calls the gateway with value.
func (b *Binder) Call(ctx context.Context, spec *Spec, owner, value any) (any, error) {
	g, err := b.Bind(ctx, spec, owner)
	if err != nil {
		return nil, err
	}
	return g.Call(ctx, value)
}

// Evict drops the cached gateway for spec and owner. The next Bind
// rebuilds it. A build already running is joined by concurrent Binds but
// its result is not cached. Evict reports whether a gateway was cached.
func (b *Binder) Evict(spec *Spec, owner any) bool {
	if spec == nil {
		return false
	}
	key, err := keyFor(spec, spec.Resolve(), owner)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.gateways[key]
	delete(b.gateways, key)
	if f, building := b.flights[key]; building {
		f.stale = true
	}
	return ok
}

// Reset drops every cached gateway. Builds already running finish
// without caching their result.
func (b *Binder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gateways = make(map[bindingKey]*Gateway)
	for _, f := range b.flights {
		f.stale = true
	}
}

// Len returns the number of cached gateways.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.gateways)
}

func keyFor(spec *Spec, r Resolved, owner any) (bindingKey, error) {
	if r.Scope == ScopeShared {
		return bindingKey{spec: spec, owner: reflect.TypeOf(owner)}, nil
	}
	if owner != nil && !reflect.TypeOf(owner).Comparable() {
		return bindingKey{}, &endpoint.ConfigurationError{
			Spec:   r.Name,
			Reason: fmt.Sprintf("owner of type %T cannot key a gateway; use a pointer or shared scope", owner),
		}
	}
	return bindingKey{spec: spec, owner: owner}, nil
}

var defaultBinder = NewBinder(BinderConfig{})

// DefaultBinder returns the process-wide binder used by Spec.Gateway,
// Spec.Call and Attr values without a binder.
func DefaultBinder() *Binder { return defaultBinder }

// Gateway returns the gateway for s and owner from the default binder.
func (s *Spec) Gateway(ctx context.Context, owner any) (*Gateway, error) {
	return defaultBinder.Bind(ctx, s, owner)
}

// Call calls the gateway for s and owner from the default binder.
func (s *Spec) Call(ctx context.Context, owner, value any) (any, error) {
	return defaultBinder.Call(ctx, s, owner, value)
}

// Attr attaches a specification to an owning type. Declare it as a field
// or package variable and call Get with the owner.
type Attr struct {
	Spec   *Spec
	Binder *Binder // nil means DefaultBinder
}

// Get returns the gateway bound to owner.
func (a Attr) Get(ctx context.Context, owner any) (*Gateway, error) {
	return a.binder().Bind(ctx, a.Spec, owner)
}

// Call calls the gateway bound to owner with value.
func (a Attr) Call(ctx context.Context, owner, value any) (any, error) {
	return a.binder().Call(ctx, a.Spec, owner, value)
}

func (a Attr) binder() *Binder {
	if a.Binder != nil {
		return a.Binder
	}
	return defaultBinder
}
