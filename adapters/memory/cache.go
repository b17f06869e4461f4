// Package memory provides in-memory implementations for testing and
// single-process use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// ResponseCache is an in-memory implementation of ports.ResponseCache.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]ports.CachedResponse
}

// NewResponseCache creates a new in-memory response cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]ports.CachedResponse),
	}
}

// Get retrieves the entry stored under key.
func (c *ResponseCache) Get(ctx context.Context, key string) (ports.CachedResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return ports.CachedResponse{}, false, nil
	}
	return ports.CachedResponse{Response: cloneResponse(e.Response), StoredAt: e.StoredAt}, true, nil
}

// Set stores or replaces an entry.
func (c *ResponseCache) Set(ctx context.Context, key string, entry ports.CachedResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Response = cloneResponse(entry.Response)
	c.entries[key] = entry
	return nil
}

// Delete removes an entry.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Purge removes entries stored before the given time.
func (c *ResponseCache) Purge(ctx context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, e := range c.entries {
		if e.StoredAt.Before(before) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries (for testing).
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneResponse(r endpoint.Response) endpoint.Response {
	if r.Body != nil {
		r.Body = append([]byte(nil), r.Body...)
	}
	if r.Headers != nil {
		h := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			h[k] = v
		}
		r.Headers = h
	}
	return r
}

// Ensure interface compliance.
var _ ports.ResponseCache = (*ResponseCache)(nil)
