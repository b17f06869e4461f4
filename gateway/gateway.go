// Package gateway composes a session, a URL, a method and a pair of adapters
// into a callable unit, and provides the inheritable specifications that
// build gateways lazily.
//
// A call runs three steps: Prepare (request adapter), Egress (session) and
// Ingress (response adapter). The package never logs, retries or
// substitutes fallback values; errors are the typed errors of
// domain/endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// Config describes a gateway.
type Config struct {
	Name            string
	Session         ports.Session
	URL             string
	Method          endpoint.Method
	Headers         map[string]string
	RequestAdapter  ports.RequestAdapter  // nil means pass-through
	ResponseAdapter ports.ResponseAdapter // nil means pass-through
}

// Gateway is an immutable request/response pipeline bound to one endpoint.
// It is safe for concurrent use if its session is.
type Gateway struct {
	name     string
	session  ports.Session
	url      string
	method   endpoint.Method
	headers  map[string]string
	request  ports.RequestAdapter
	response ports.ResponseAdapter
}

// New creates a gateway. A missing session, URL or method is a
// ConfigurationError.
func New(cfg Config) (*Gateway, error) {
	var missing []string
	if cfg.URL == "" {
		missing = append(missing, "url")
	}
	if cfg.Method == "" {
		missing = append(missing, "method")
	}
	if cfg.Session == nil {
		missing = append(missing, "session")
	}
	if len(missing) > 0 {
		return nil, &endpoint.ConfigurationError{Spec: cfg.Name, Missing: missing}
	}
	if !cfg.Method.Valid() {
		return nil, &endpoint.ConfigurationError{Spec: cfg.Name, Reason: fmt.Sprintf("unsupported method %q", cfg.Method)}
	}
	if !endpoint.IsAbsoluteURL(cfg.URL) {
		return nil, &endpoint.ConfigurationError{Spec: cfg.Name, Reason: fmt.Sprintf("url %q is not absolute", cfg.URL)}
	}

	g := &Gateway{
		name:     cfg.Name,
		session:  cfg.Session,
		url:      cfg.URL,
		method:   cfg.Method,
		headers:  copyHeaders(cfg.Headers),
		request:  cfg.RequestAdapter,
		response: cfg.ResponseAdapter,
	}
	if g.request == nil {
		g.request = NewRequestAdapter(nil)
	}
	if g.response == nil {
		g.response = &ResponseAdapter{}
	}
	return g, nil
}

// Call sends value and returns the adapted response.
// Exactly one session invocation happens unless value fails validation,
// in which case none does.
func (g *Gateway) Call(ctx context.Context, value any) (any, error) {
	req, err := g.Prepare(ctx, value)
	if err != nil {
		return nil, err
	}
	resp, err := g.Egress(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.Ingress(ctx, resp)
}

// Prepare runs the request adapter and assembles the request.
func (g *Gateway) Prepare(ctx context.Context, value any) (endpoint.Request, error) {
	var payload endpoint.Payload
	if value != nil {
		p, err := g.request.Adapt(ctx, g.method, value)
		if err != nil {
			return endpoint.Request{}, err
		}
		payload = p
	}
	return endpoint.NewRequest(g.method, g.url, g.headers, payload), nil
}

// Egress executes req on the session. Every failure is a TransportError.
func (g *Gateway) Egress(ctx context.Context, req endpoint.Request) (endpoint.Response, error) {
	resp, err := g.session.Execute(ctx, req)
	if err != nil {
		var te *endpoint.TransportError
		if errors.As(err, &te) {
			return endpoint.Response{}, err
		}
		return endpoint.Response{}, &endpoint.TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	return resp, nil
}

// Ingress runs the response adapter.
func (g *Gateway) Ingress(ctx context.Context, resp endpoint.Response) (any, error) {
	return g.response.Adapt(ctx, resp)
}

// Name returns the name of the specification that built the gateway.
func (g *Gateway) Name() string { return g.name }

// URL returns the resolved endpoint URL.
func (g *Gateway) URL() string { return g.url }

// Method returns the HTTP method.
func (g *Gateway) Method() endpoint.Method { return g.method }

// Headers returns a copy of the per-gateway headers.
func (g *Gateway) Headers() map[string]string { return copyHeaders(g.headers) }

// Session returns the session.
func (g *Gateway) Session() ports.Session { return g.session }

// RequestAdapter returns the request adapter.
func (g *Gateway) RequestAdapter() ports.RequestAdapter { return g.request }

// ResponseAdapter returns the response adapter.
func (g *Gateway) ResponseAdapter() ports.ResponseAdapter { return g.response }

func (g *Gateway) String() string {
	return fmt.Sprintf("%s %s", g.method, g.url)
}

// CallAs calls g and asserts the result type.
func CallAs[T any](ctx context.Context, g *Gateway, value any) (T, error) {
	var zero T
	out, err := g.Call(ctx, value)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("gateway %s: result is %T, not %T", g.name, out, zero)
	}
	return typed, nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
