package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func TestProviderCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateProvider(ctx, controlplane.Provider{
		Kind:      "openai",
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o",
		APIKeyRef: "OPENAI_API_KEY",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := s.GetProvider(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "openai", got.Kind)
	assert.Equal(t, "OPENAI_API_KEY", got.APIKeyRef)

	updated, err := s.UpdateProvider(ctx, created.ID, controlplane.Provider{
		Model: "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", updated.Model)
	assert.Equal(t, "openai", updated.Kind)
	assert.Equal(t, "https://api.openai.com/v1", updated.BaseURL)

	_, err = s.CreateProvider(ctx, controlplane.Provider{
		ID:    "anthropic-main",
		Kind:  "anthropic",
		Model: "claude-sonnet",
	})
	require.NoError(t, err)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)
}

func TestProviderValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProvider(ctx, controlplane.Provider{Kind: "gemini", Model: "g"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateProvider(ctx, controlplane.Provider{Kind: "openai"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.GetProvider(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateProvider(ctx, "missing", controlplane.Provider{Model: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
