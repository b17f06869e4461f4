package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// BearerToken authorizes requests with a static bearer token.
type BearerToken struct {
	token string
}

// NewBearerToken creates a bearer token authorizer.
func NewBearerToken(token string) (*BearerToken, error) {
	if token == "" {
		return nil, errors.New("bearer token must not be empty")
	}
	return &BearerToken{token: token}, nil
}

// Authorize sets the Authorization header.
func (b *BearerToken) Authorize(ctx context.Context, req *endpoint.Request) error {
	setHeader(req, "Authorization", "Bearer "+b.token)
	return nil
}

// String shows only the last four characters of the token.
func (b *BearerToken) String() string {
	return fmt.Sprintf("BearerToken(%s)", Obfuscate(b.token))
}

// APIKey authorizes requests with a key in a custom header.
type APIKey struct {
	header string
	value  string
}

// NewAPIKey creates an API key authorizer. The header defaults to X-API-Key.
func NewAPIKey(header, value string) (*APIKey, error) {
	if value == "" {
		return nil, errors.New("api key must not be empty")
	}
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKey{header: http.CanonicalHeaderKey(header), value: value}, nil
}

// Authorize sets the key header.
func (a *APIKey) Authorize(ctx context.Context, req *endpoint.Request) error {
	setHeader(req, a.header, a.value)
	return nil
}

func (a *APIKey) String() string {
	return fmt.Sprintf("APIKey(%s: %s)", a.header, Obfuscate(a.value))
}

// Chain applies several authorizers in order.
type Chain []ports.Authorizer

// Authorize runs every authorizer, stopping at the first error.
func (c Chain) Authorize(ctx context.Context, req *endpoint.Request) error {
	for _, a := range c {
		if err := a.Authorize(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// Obfuscate masks all but the last four characters of a secret.
// Secrets of four characters or fewer are masked entirely.
func Obfuscate(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}

func setHeader(req *endpoint.Request, key, value string) {
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	req.Headers[http.CanonicalHeaderKey(key)] = value
}

// Ensure interface compliance.
var (
	_ ports.Authorizer = (*BearerToken)(nil)
	_ ports.Authorizer = (*APIKey)(nil)
	_ ports.Authorizer = Chain(nil)
)
