package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/apikit/adapters/clock"
	"github.com/artpar/apikit/adapters/metrics"
	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// DefaultCacheTTL is how long cached responses stay fresh.
const DefaultCacheTTL = 30 * time.Minute

// CacheOptions configures a cached session.
type CacheOptions struct {
	Name string
	TTL  time.Duration

	// StaleIfError serves an expired entry when the upstream call fails.
	StaleIfError bool

	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// CachedSession serves successful GET and HEAD responses from a cache.
// Other methods pass straight through.
type CachedSession struct {
	next         ports.Session
	cache        ports.ResponseCache
	name         string
	ttl          time.Duration
	staleIfError bool
	clock        ports.Clock
	logger       zerolog.Logger
	metrics      *metrics.Collector
}

// NewCached wraps next with cache.
func NewCached(next ports.Session, cache ports.ResponseCache, opts CacheOptions) *CachedSession {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}
	return &CachedSession{
		next:         next,
		cache:        cache,
		name:         name,
		ttl:          ttl,
		staleIfError: opts.StaleIfError,
		clock:        clock.Or(opts.Clock),
		logger:       opts.Logger.With().Str("session", name).Logger(),
		metrics:      opts.Metrics,
	}
}

// Execute returns a fresh cached response or performs the request.
func (s *CachedSession) Execute(ctx context.Context, req endpoint.Request) (endpoint.Response, error) {
	if req.Method != endpoint.MethodGet && req.Method != endpoint.MethodHead {
		return s.next.Execute(ctx, req)
	}

	scope, err := s.scope(ctx, req)
	if err != nil {
		return s.next.Execute(ctx, req)
	}
	key, err := CacheKey(scope, req)
	if err != nil {
		return s.next.Execute(ctx, req)
	}

	entry, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache lookup failed")
		found = false
	}
	if found && !clock.Expired(s.clock, entry.StoredAt, s.ttl) {
		s.metrics.ObserveCache(s.name, "hit")
		return entry.Response, nil
	}

	resp, err := s.next.Execute(ctx, req)
	if err != nil {
		if found && s.staleIfError {
			s.metrics.ObserveCache(s.name, "stale")
			s.logger.Debug().Err(err).Str("url", req.URL).Msg("serving stale response")
			return entry.Response, nil
		}
		return resp, err
	}
	s.metrics.ObserveCache(s.name, "miss")

	if resp.OK() {
		if err := s.cache.Set(ctx, key, ports.CachedResponse{Response: resp, StoredAt: s.clock.Now()}); err != nil {
			s.logger.Warn().Err(err).Msg("cache store failed")
		}
	}
	return resp, nil
}

// Purge drops entries older than the TTL.
func (s *CachedSession) Purge(ctx context.Context) (int64, error) {
	return s.cache.Purge(ctx, s.clock.Now().Add(-s.ttl))
}

// Fingerprinter is implemented by sessions that add caller state such as
// credentials to requests. The fingerprint must differ whenever that state
// would produce a different response.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, req endpoint.Request) (string, error)
}

// scope partitions a shared cache by session name and by the wrapped
// session's fingerprint.
func (s *CachedSession) scope(ctx context.Context, req endpoint.Request) (string, error) {
	f, ok := s.next.(Fingerprinter)
	if !ok {
		return s.name, nil
	}
	fp, err := f.Fingerprint(ctx, req)
	if err != nil {
		return "", err
	}
	return s.name + "\x00" + fp, nil
}

// CacheKey identifies a request within scope by method, full URL and the
// headers that change the representation or the caller.
func CacheKey(scope string, req endpoint.Request) (string, error) {
	target, err := req.FullURL()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(target))
	for _, name := range []string{"Accept", "Authorization"} {
		h.Write([]byte{0})
		h.Write([]byte(headerValue(req.Headers, name)))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == name {
			return v
		}
	}
	return ""
}

// Ensure interface compliance.
var _ ports.Session = (*CachedSession)(nil)

// Close closes the wrapped session if it holds resources.
func (s *CachedSession) Close() error {
	if c, ok := s.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
