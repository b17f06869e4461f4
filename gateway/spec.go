package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/apikit/adapters/session"
	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// Scope selects what a binder caches gateways by.
type Scope string

const (
	// ScopeInstance caches one gateway per owner value.
	ScopeInstance Scope = "instance"

	// ScopeShared caches one gateway per owner type.
	ScopeShared Scope = "shared"
)

// ParseScope parses a scope name. The empty string is ScopeInstance.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeInstance:
		return ScopeInstance, nil
	case ScopeShared:
		return ScopeShared, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// SessionFactory creates the session for a resolved specification.
// owner is the value the gateway is being bound for (may be nil).
type SessionFactory func(ctx context.Context, r Resolved, owner any) (ports.Session, error)

// RequestAdapterFactory builds a request adapter from a request model.
type RequestAdapterFactory func(model ports.Schema) (ports.RequestAdapter, error)

// ResponseAdapterFactory builds a response adapter from a response model
// and select expression.
type ResponseAdapterFactory func(model ports.Schema, selectExpr string) (ports.ResponseAdapter, error)

// Fields are the declarable parts of a specification.
// Zero values mean "not set here": they are inherited from the parent.
type Fields struct {
	BaseURL string
	URL     string
	Method  endpoint.Method
	Headers map[string]string

	RequestAdapter         ports.RequestAdapter
	ResponseAdapter        ports.ResponseAdapter
	RequestAdapterFactory  RequestAdapterFactory
	ResponseAdapterFactory ResponseAdapterFactory
	RequestModel           ports.Schema
	ResponseModel          ports.Schema
	Select                 string

	SessionFactory SessionFactory
	Authorizer     ports.Authorizer
	Timeout        time.Duration
	Scope          Scope

	// Gateway short-circuits construction with a prebuilt gateway.
	Gateway *Gateway
}

// Spec is a reusable, inheritable gateway template.
// Specs are immutable; Extend and With derive new ones. The pointer identity
// of a Spec is its cache key in a Binder.
type Spec struct {
	name   string
	parent *Spec
	fields Fields
}

// Root is the base of every specification. It sets nothing.
var Root = &Spec{name: "Root"}

// Method-fixing specifications.
var (
	GET    = Root.Extend("GET", Fields{Method: endpoint.MethodGet})
	POST   = Root.Extend("POST", Fields{Method: endpoint.MethodPost})
	PUT    = Root.Extend("PUT", Fields{Method: endpoint.MethodPut})
	PATCH  = Root.Extend("PATCH", Fields{Method: endpoint.MethodPatch})
	DELETE = Root.Extend("DELETE", Fields{Method: endpoint.MethodDelete})
)

// Extend declares a derived specification with its own defaults.
func (s *Spec) Extend(name string, f Fields) *Spec {
	return &Spec{name: name, parent: s, fields: f}
}

// With declares an instance of s with the given values.
func (s *Spec) With(f Fields) *Spec {
	return &Spec{name: s.name, parent: s, fields: f}
}

// Named returns an instance of s with a different name and no other changes.
func (s *Spec) Named(name string) *Spec {
	return &Spec{name: name, parent: s}
}

// Name returns the specification name.
func (s *Spec) Name() string { return s.name }

// Parent returns the specification s derives from, or nil for Root.
func (s *Spec) Parent() *Spec { return s.parent }

// Own returns the fields declared on s itself.
func (s *Spec) Own() Fields { return s.fields }

// Chain returns s and its ancestors, nearest first.
func (s *Spec) Chain() []*Spec {
	var chain []*Spec
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	return chain
}

// Resolved is the field-wise merge of a specification chain.
type Resolved struct {
	Name string
	Fields
}

// Resolve merges s with its ancestors. Each field takes the value of the
// nearest specification that sets it.
func (s *Spec) Resolve() Resolved {
	r := Resolved{Name: s.name}
	for _, cur := range s.Chain() {
		f := cur.fields
		if r.BaseURL == "" {
			r.BaseURL = f.BaseURL
		}
		if r.URL == "" {
			r.URL = f.URL
		}
		if r.Method == "" {
			r.Method = f.Method
		}
		if r.Headers == nil {
			r.Headers = f.Headers
		}
		if r.RequestAdapter == nil {
			r.RequestAdapter = f.RequestAdapter
		}
		if r.ResponseAdapter == nil {
			r.ResponseAdapter = f.ResponseAdapter
		}
		if r.RequestAdapterFactory == nil {
			r.RequestAdapterFactory = f.RequestAdapterFactory
		}
		if r.ResponseAdapterFactory == nil {
			r.ResponseAdapterFactory = f.ResponseAdapterFactory
		}
		if r.RequestModel == nil {
			r.RequestModel = f.RequestModel
		}
		if r.ResponseModel == nil {
			r.ResponseModel = f.ResponseModel
		}
		if r.Select == "" {
			r.Select = f.Select
		}
		if r.SessionFactory == nil {
			r.SessionFactory = f.SessionFactory
		}
		if r.Authorizer == nil {
			r.Authorizer = f.Authorizer
		}
		if r.Timeout == 0 {
			r.Timeout = f.Timeout
		}
		if r.Scope == "" {
			r.Scope = f.Scope
		}
		if r.Gateway == nil {
			r.Gateway = f.Gateway
		}
	}
	if r.Scope == "" {
		r.Scope = ScopeInstance
	}
	return r
}

// Build constructs a new gateway from s without caching it, using the
// default HTTP session when no session factory is set.
func (s *Spec) Build(ctx context.Context, owner any) (*Gateway, error) {
	return s.Resolve().Build(ctx, owner, nil)
}

// Build constructs a gateway. fallback is used when r has no session
// factory; a nil fallback means DefaultSessionFactory.
func (r Resolved) Build(ctx context.Context, owner any, fallback SessionFactory) (*Gateway, error) {
	if r.Gateway != nil {
		return r.Gateway, nil
	}

	var missing []string
	if r.URL == "" {
		missing = append(missing, "url")
	}
	if r.Method == "" {
		missing = append(missing, "method")
	}
	if len(missing) > 0 {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Missing: missing}
	}
	method, err := endpoint.ParseMethod(string(r.Method))
	if err != nil {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Reason: err.Error()}
	}
	target, err := endpoint.ResolveURL(r.BaseURL, r.URL)
	if err != nil {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Reason: err.Error()}
	}

	reqAdapter, err := r.requestAdapter()
	if err != nil {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Reason: fmt.Sprintf("request adapter: %v", err)}
	}
	respAdapter, err := r.responseAdapter()
	if err != nil {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Reason: fmt.Sprintf("response adapter: %v", err)}
	}

	factory := r.SessionFactory
	if factory == nil {
		factory = fallback
	}
	if factory == nil {
		factory = DefaultSessionFactory
	}
	sess, err := factory(ctx, r, owner)
	if err != nil {
		return nil, &endpoint.ConfigurationError{Spec: r.Name, Reason: fmt.Sprintf("session: %v", err)}
	}

	return New(Config{
		Name:            r.Name,
		Session:         sess,
		URL:             target,
		Method:          method,
		Headers:         r.Headers,
		RequestAdapter:  reqAdapter,
		ResponseAdapter: respAdapter,
	})
}

// requestAdapter picks the explicit adapter, then the factory, then the default.
func (r Resolved) requestAdapter() (ports.RequestAdapter, error) {
	switch {
	case r.RequestAdapter != nil:
		return r.RequestAdapter, nil
	case r.RequestAdapterFactory != nil:
		return r.RequestAdapterFactory(r.RequestModel)
	}
	return NewRequestAdapter(r.RequestModel), nil
}

func (r Resolved) responseAdapter() (ports.ResponseAdapter, error) {
	switch {
	case r.ResponseAdapter != nil:
		return r.ResponseAdapter, nil
	case r.ResponseAdapterFactory != nil:
		return r.ResponseAdapterFactory(r.ResponseModel, r.Select)
	}
	return NewResponseAdapter(r.ResponseModel, r.Select)
}

// DefaultSessionFactory creates a new HTTP session carrying the resolved
// timeout and authorizer.
func DefaultSessionFactory(ctx context.Context, r Resolved, owner any) (ports.Session, error) {
	return session.New(session.Options{
		Name:       r.Name,
		Timeout:    r.Timeout,
		Authorizer: r.Authorizer,
	}), nil
}

// StaticSession returns a factory that always yields s.
func StaticSession(s ports.Session) SessionFactory {
	return func(context.Context, Resolved, any) (ports.Session, error) {
		return s, nil
	}
}

func (s *Spec) String() string {
	names := make([]string, 0, 4)
	for _, cur := range s.Chain() {
		names = append(names, cur.name)
	}
	return strings.Join(names, " < ")
}
