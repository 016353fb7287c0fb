package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// CreateProvider registers an LLM provider record.
func (s *Store) CreateProvider(ctx context.Context, provider controlplane.Provider) (*controlplane.Provider, error) {
	switch provider.Kind {
	case "openai", "anthropic":
	default:
		return nil, fmt.Errorf("%w: invalid provider kind: %s", ErrInvalid, provider.Kind)
	}
	if provider.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalid)
	}
	if provider.ID == "" {
		provider.ID = uuid.New().String()
	}
	now := s.now()
	provider.CreatedAt = now
	provider.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO providers
		(id, kind, base_url, model, api_key_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		provider.ID, provider.Kind, nullString(provider.BaseURL), provider.Model,
		nullString(provider.APIKeyRef), provider.CreatedAt, provider.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return &provider, nil
}

// GetProvider fetches one provider by id.
func (s *Store) GetProvider(ctx context.Context, id string) (*controlplane.Provider, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, kind, base_url, model,
		api_key_ref, created_at, updated_at FROM providers WHERE id = ?`), id)
	provider, err := scanProvider(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("provider: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provider: %w", err)
	}
	return provider, nil
}

// ListProviders returns all registered providers in registration order.
func (s *Store) ListProviders(ctx context.Context) ([]controlplane.Provider, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, kind, base_url, model,
		api_key_ref, created_at, updated_at FROM providers
		ORDER BY created_at, id`))
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []controlplane.Provider
	for rows.Next() {
		provider, err := scanProvider(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to read provider: %w", err)
		}
		providers = append(providers, *provider)
	}
	return providers, rows.Err()
}

// UpdateProvider overwrites the mutable fields of a provider. Empty
// fields are left unchanged.
func (s *Store) UpdateProvider(ctx context.Context, id string, update controlplane.Provider) (*controlplane.Provider, error) {
	provider, err := s.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Kind != "" {
		switch update.Kind {
		case "openai", "anthropic":
			provider.Kind = update.Kind
		default:
			return nil, fmt.Errorf("%w: invalid provider kind: %s", ErrInvalid, update.Kind)
		}
	}
	if update.BaseURL != "" {
		provider.BaseURL = update.BaseURL
	}
	if update.Model != "" {
		provider.Model = update.Model
	}
	if update.APIKeyRef != "" {
		provider.APIKeyRef = update.APIKeyRef
	}
	provider.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE providers SET kind = ?,
		base_url = ?, model = ?, api_key_ref = ?, updated_at = ? WHERE id = ?`),
		provider.Kind, nullString(provider.BaseURL), provider.Model,
		nullString(provider.APIKeyRef), provider.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update provider: %w", err)
	}
	return provider, nil
}

func scanProvider(scan func(...any) error) (*controlplane.Provider, error) {
	var provider controlplane.Provider
	var baseURL, apiKeyRef sql.NullString
	err := scan(&provider.ID, &provider.Kind, &baseURL, &provider.Model,
		&apiKeyRef, &provider.CreatedAt, &provider.UpdatedAt)
	if err != nil {
		return nil, err
	}
	provider.BaseURL = baseURL.String
	provider.APIKeyRef = apiKeyRef.String
	return &provider, nil
}
