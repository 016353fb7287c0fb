package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// GetCachedPrompt returns a cache entry. Misses and entries past their
// TTL both come back as ErrNotFound.
func (s *Store) GetCachedPrompt(ctx context.Context, key string) (*controlplane.CachedPrompt, error) {
	var entry controlplane.CachedPrompt
	var response string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT cache_key, provider, model,
		response, created_at, expires_at FROM prompt_cache WHERE cache_key = ?`), key).
		Scan(&entry.Key, &entry.Provider, &entry.Model, &response,
			&entry.CreatedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cached prompt: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached prompt: %w", err)
	}
	if s.now().After(entry.ExpiresAt) {
		return nil, fmt.Errorf("cached prompt: %w", ErrNotFound)
	}
	entry.Response = []byte(response)
	return &entry, nil
}

// PutCachedPrompt upserts a cache entry under its fingerprint key.
func (s *Store) PutCachedPrompt(ctx context.Context, entry controlplane.CachedPrompt) error {
	if entry.Key == "" {
		return fmt.Errorf("%w: cache key is required", ErrInvalid)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: expiresAt is required", ErrInvalid)
	}

	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO prompt_cache (cache_key, provider, model, response,
			created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE provider = VALUES(provider),
			model = VALUES(model), response = VALUES(response),
			created_at = VALUES(created_at), expires_at = VALUES(expires_at)`
	default:
		query = `INSERT INTO prompt_cache (cache_key, provider, model, response,
			created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (cache_key) DO UPDATE SET provider = excluded.provider,
			model = excluded.model, response = excluded.response,
			created_at = excluded.created_at, expires_at = excluded.expires_at`
	}
	_, err := s.db.ExecContext(ctx, s.q(query), entry.Key, entry.Provider,
		entry.Model, string(entry.Response), entry.CreatedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store cached prompt: %w", err)
	}
	return nil
}

// DeleteCacheBefore removes cache entries created before the cutoff.
func (s *Store) DeleteCacheBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM prompt_cache
		WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep prompt cache: %w", err)
	}
	return res.RowsAffected()
}
