// Package session provides the HTTP transport sessions gateways execute
// requests on.
package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/artpar/apikit/adapters/idgen"
	"github.com/artpar/apikit/adapters/metrics"
	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// Defaults applied by New.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxIdleConns    = 100
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultMaxBodyBytes    = 50 << 20 // 50MB
	DefaultUserAgent       = "apikit/1.0"
	DefaultRetries         = 3
	DefaultBackoff         = 350 * time.Millisecond

	// RequestIDHeader carries the per-request identifier.
	RequestIDHeader = "X-Request-ID"
)

// RetryPolicy controls retries of failed round trips.
// Only connection-level failures of idempotent methods are retried;
// responses are never retried whatever their status.
type RetryPolicy struct {
	// Max is the number of retries after the first attempt.
	// Zero selects DefaultRetries; a negative value disables retries.
	Max int

	// Backoff is the base delay. Retry n waits Backoff * 2^(n-1).
	Backoff time.Duration
}

// ErrRateLimited is returned when the client-side rate limiter cannot admit
// a request before the context ends.
var ErrRateLimited = errors.New("rate limited")

// NoRetry disables retries.
var NoRetry = RetryPolicy{Max: -1}

// RateLimit throttles outgoing requests client-side.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Options configures an HTTP session.
type Options struct {
	// Name labels logs and metrics.
	Name string

	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	MaxBodyBytes    int64

	// Headers are sent with every request and override the JSON defaults.
	Headers   map[string]string
	UserAgent string

	Authorizer ports.Authorizer
	Retry      RetryPolicy
	RateLimit  RateLimit

	// AcceptStatus decides which statuses are successes.
	// Defaults to 2xx; anything else is reported as *endpoint.StatusError.
	AcceptStatus func(status int) bool

	// Transport overrides the HTTP transport (tests, proxies).
	Transport http.RoundTripper

	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// HTTPSession executes requests over net/http.
// It is safe for concurrent use.
type HTTPSession struct {
	name         string
	client       *http.Client
	headers      http.Header
	maxBody      int64
	authorizer   ports.Authorizer
	retry        RetryPolicy
	limiter      *rate.Limiter
	acceptStatus func(int) bool
	idGen        ports.IDGenerator
	logger       zerolog.Logger
	metrics      *metrics.Collector
}

// New creates an HTTP session.
func New(opts Options) *HTTPSession {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = DefaultMaxIdleConns
	}

	idleConnTimeout := opts.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	maxBody := opts.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConns,
			IdleConnTimeout:     idleConnTimeout,
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", userAgent)
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	retry := opts.Retry
	if retry.Max == 0 {
		retry.Max = DefaultRetries
	}
	if retry.Backoff == 0 {
		retry.Backoff = DefaultBackoff
	}

	var limiter *rate.Limiter
	if opts.RateLimit.RPS > 0 {
		burst := opts.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit.RPS), burst)
	}

	accept := opts.AcceptStatus
	if accept == nil {
		accept = Accept2xx
	}

	idGen := opts.IDGen
	if idGen == nil {
		idGen = idgen.RequestID{}
	}

	name := opts.Name
	if name == "" {
		name = "default"
	}

	return &HTTPSession{
		name:         name,
		client:       &http.Client{Transport: transport, Timeout: timeout},
		headers:      headers,
		maxBody:      maxBody,
		authorizer:   opts.Authorizer,
		retry:        retry,
		limiter:      limiter,
		acceptStatus: accept,
		idGen:        idGen,
		logger:       opts.Logger.With().Str("session", name).Logger(),
		metrics:      opts.Metrics,
	}
}

// Accept2xx accepts statuses in the 2xx range.
func Accept2xx(status int) bool {
	return status >= 200 && status < 300
}

// AcceptAll accepts every status, leaving interpretation to the caller.
func AcceptAll(int) bool { return true }

// Name returns the session name.
func (s *HTTPSession) Name() string { return s.name }

// Execute performs req, retrying connection failures of idempotent methods.
func (s *HTTPSession) Execute(ctx context.Context, req endpoint.Request) (endpoint.Response, error) {
	req, err := s.prepare(ctx, req)
	if err != nil {
		return endpoint.Response{}, err
	}
	target, err := req.FullURL()
	if err != nil {
		return endpoint.Response{}, fmt.Errorf("build url: %w", err)
	}

	s.metrics.InFlight(1)
	defer s.metrics.InFlight(-1)

	start := time.Now()
	var resp endpoint.Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.metrics.ObserveRetry(s.name)
			if err := sleep(ctx, s.backoff(attempt)); err != nil {
				return endpoint.Response{}, err
			}
		}
		resp, err = s.roundTrip(ctx, req, target)
		if err == nil || !s.retryable(ctx, req.Method, err) || attempt >= s.retry.Max {
			break
		}
		s.logger.Debug().Err(err).Int("attempt", attempt+1).Str("url", target).Msg("retrying request")
	}

	elapsed := time.Since(start)
	resp.LatencyMs = elapsed.Milliseconds()
	resp.RequestID = req.Headers[http.CanonicalHeaderKey(RequestIDHeader)]

	if err != nil {
		s.metrics.ObserveError(s.name, errorKind(err))
		s.logger.Debug().Err(err).
			Str("method", string(req.Method)).
			Str("url", target).
			Str("request_id", resp.RequestID).
			Dur("latency", elapsed).
			Msg("request failed")
		return endpoint.Response{}, err
	}

	s.metrics.ObserveRequest(s.name, string(req.Method), resp.Status, elapsed.Seconds())
	s.logger.Debug().
		Str("method", string(req.Method)).
		Str("url", target).
		Int("status", resp.Status).
		Int("bytes", len(resp.Body)).
		Int64("latency_ms", resp.LatencyMs).
		Str("request_id", resp.RequestID).
		Msg("round trip")

	if !s.acceptStatus(resp.Status) {
		s.metrics.ObserveError(s.name, "status")
		return resp, &endpoint.StatusError{Status: resp.Status, Body: resp.Body}
	}
	return resp, nil
}

// Fingerprint hashes what the session adds to req on its own: fixed headers
// and whatever the authorizer sets. Two sessions with different credentials
// never share a fingerprint.
func (s *HTTPSession) Fingerprint(ctx context.Context, req endpoint.Request) (string, error) {
	h := sha256.New()
	writeHeaders(h, s.headers)

	if s.authorizer != nil {
		authed := endpoint.Request{
			Method:  req.Method,
			URL:     req.URL,
			Query:   url.Values{},
			Headers: map[string]string{},
		}
		if err := s.authorizer.Authorize(ctx, &authed); err != nil {
			return "", fmt.Errorf("authorize: %w", err)
		}
		added := http.Header{}
		for k, v := range authed.Headers {
			added.Set(k, v)
		}
		h.Write([]byte{1})
		writeHeaders(h, added)
		h.Write([]byte(authed.Query.Encode()))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeHeaders(w io.Writer, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\x00", k, strings.Join(headers[k], ","))
	}
}

// prepare merges session headers, assigns a request ID and authorizes.
func (s *HTTPSession) prepare(ctx context.Context, req endpoint.Request) (endpoint.Request, error) {
	h := s.headers.Clone()
	for k, v := range req.Headers {
		h.Set(k, v)
	}
	if h.Get(RequestIDHeader) == "" {
		h.Set(RequestIDHeader, s.idGen.New())
	}
	if len(req.Body) == 0 {
		h.Del("Content-Type")
	}

	headers := make(map[string]string, len(h))
	for k := range h {
		headers[k] = h.Get(k)
	}
	req.Headers = headers

	if s.authorizer != nil {
		if err := s.authorizer.Authorize(ctx, &req); err != nil {
			return endpoint.Request{}, fmt.Errorf("authorize: %w", err)
		}
	}
	return req, nil
}

func (s *HTTPSession) roundTrip(ctx context.Context, req endpoint.Request, target string) (endpoint.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return endpoint.Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target, body)
	if err != nil {
		return endpoint.Response{}, fmt.Errorf("create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return endpoint.Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return endpoint.Response{}, fmt.Errorf("read response: %w", err)
	}

	return endpoint.Response{
		Status:  resp.StatusCode,
		Headers: responseHeaders(resp.Header),
		Body:    respBody,
		URL:     target,
	}, nil
}

func (s *HTTPSession) retryable(ctx context.Context, method endpoint.Method, err error) bool {
	if s.retry.Max < 0 || !method.Idempotent() {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, ErrRateLimited) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (s *HTTPSession) backoff(attempt int) time.Duration {
	return time.Duration(float64(s.retry.Backoff) * math.Pow(2, float64(attempt-1)))
}

// Close releases idle connections.
func (s *HTTPSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSession) String() string {
	if s.authorizer != nil {
		return fmt.Sprintf("HTTPSession(%s, %v)", s.name, s.authorizer)
	}
	return fmt.Sprintf("HTTPSession(%s)", s.name)
}

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func responseHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for k, v := range h {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}

func errorKind(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	return "connection"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ensure interface compliance.
var (
	_ ports.Session = (*HTTPSession)(nil)
	_ Fingerprinter = (*HTTPSession)(nil)
)
