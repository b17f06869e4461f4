package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/ports"
)

// ResponseCache implements ports.ResponseCache using SQLite, so cached
// responses survive restarts of the CLI.
type ResponseCache struct {
	db *DB
}

// NewResponseCache creates a new SQLite response cache.
func NewResponseCache(db *DB) *ResponseCache {
	return &ResponseCache{db: db}
}

// Get retrieves the entry stored under key.
func (c *ResponseCache) Get(ctx context.Context, key string) (ports.CachedResponse, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT status, headers, body, url, request_id, stored_at
		FROM response_cache
		WHERE key = ?
	`, key)

	var (
		resp     endpoint.Response
		headers  string
		storedAt int64
	)
	err := row.Scan(&resp.Status, &headers, &resp.Body, &resp.URL, &resp.RequestID, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.CachedResponse{}, false, nil
	}
	if err != nil {
		return ports.CachedResponse{}, false, fmt.Errorf("get cached response: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &resp.Headers); err != nil {
		return ports.CachedResponse{}, false, fmt.Errorf("decode cached headers: %w", err)
	}

	return ports.CachedResponse{Response: resp, StoredAt: time.Unix(0, storedAt).UTC()}, true, nil
}

// Set stores or replaces an entry.
func (c *ResponseCache) Set(ctx context.Context, key string, entry ports.CachedResponse) error {
	headers := entry.Response.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode cached headers: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO response_cache (key, status, headers, body, url, request_id, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			url = excluded.url,
			request_id = excluded.request_id,
			stored_at = excluded.stored_at
	`, key, entry.Response.Status, string(encoded), entry.Response.Body,
		entry.Response.URL, entry.Response.RequestID, entry.StoredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("set cached response: %w", err)
	}
	return nil
}

// Delete removes an entry. Deleting a missing key is not an error.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM response_cache WHERE key = ?`, key)
	return err
}

// Purge removes entries stored before the given time.
func (c *ResponseCache) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM response_cache WHERE stored_at < ?
	`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of cached entries.
func (c *ResponseCache) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM response_cache`).Scan(&n)
	return n, err
}

// Ensure interface compliance.
var _ ports.ResponseCache = (*ResponseCache)(nil)
