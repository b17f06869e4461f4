// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/apikit/domain/endpoint"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Schema Ports
// -----------------------------------------------------------------------------

// Schema is the capability set a validation engine exposes to adapters.
// Implementations must be safe for concurrent use and must never mutate
// the values they are given.
type Schema interface {
	// Describe lists the top-level fields the schema knows about.
	Describe() []endpoint.Field

	// Validate checks and coerces a raw value into the schema's typed value.
	// Failures are reported as endpoint.Violations.
	Validate(ctx context.Context, value any) (any, error)

	// Serialize turns a validated value into its wire form: a mapping,
	// slice or scalar ready for JSON encoding.
	Serialize(ctx context.Context, value any) (any, error)
}

// -----------------------------------------------------------------------------
// Adapter Ports
// -----------------------------------------------------------------------------

// RequestAdapter converts a domain value into a wire payload.
type RequestAdapter interface {
	Adapt(ctx context.Context, method endpoint.Method, value any) (endpoint.Payload, error)
}

// ResponseAdapter converts a raw response into a domain value.
type ResponseAdapter interface {
	Adapt(ctx context.Context, resp endpoint.Response) (any, error)
}

// -----------------------------------------------------------------------------
// Transport Ports
// -----------------------------------------------------------------------------

// Session executes prepared requests.
// Thread safety is the implementation's contract.
type Session interface {
	// Execute performs exactly one logical request. Failures (network or
	// rejected status) are returned as errors.
	Execute(ctx context.Context, req endpoint.Request) (endpoint.Response, error)
}

// Authorizer decorates outgoing requests with credentials.
type Authorizer interface {
	Authorize(ctx context.Context, req *endpoint.Request) error
}

// CachedResponse is a response stored by a ResponseCache.
type CachedResponse struct {
	Response endpoint.Response
	StoredAt time.Time
}

// ResponseCache persists responses for cached sessions.
type ResponseCache interface {
	// Get returns the cached entry for key. The bool is false on a miss.
	Get(ctx context.Context, key string) (CachedResponse, bool, error)

	// Set stores or replaces the entry for key.
	Set(ctx context.Context, key string, entry CachedResponse) error

	// Delete removes the entry for key.
	Delete(ctx context.Context, key string) error

	// Purge removes entries stored before the given time.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
