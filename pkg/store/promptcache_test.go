package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func TestPromptCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key:       "fp-1",
		Provider:  "openai",
		Model:     "gpt-4o",
		Response:  json.RawMessage(`{"text":"hello"}`),
		ExpiresAt: now.Add(24 * time.Hour),
	}))

	entry, err := s.GetCachedPrompt(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "openai", entry.Provider)
	assert.JSONEq(t, `{"text":"hello"}`, string(entry.Response))

	// Same key overwrites.
	require.NoError(t, s.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key:       "fp-1",
		Provider:  "openai",
		Model:     "gpt-4o",
		Response:  json.RawMessage(`{"text":"updated"}`),
		ExpiresAt: now.Add(24 * time.Hour),
	}))
	entry, err = s.GetCachedPrompt(ctx, "fp-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"updated"}`, string(entry.Response))
}

func TestPromptCacheMiss(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetCachedPrompt(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromptCacheExpiredEntryMisses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key:       "fp-old",
		Provider:  "anthropic",
		Model:     "claude-sonnet",
		Response:  json.RawMessage(`{}`),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}))

	_, err := s.GetCachedPrompt(ctx, "fp-old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutCachedPromptValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Provider: "openai", ExpiresAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalid)

	err = s.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key: "fp-1", Provider: "openai",
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "enforce", settings.EgressMode)
	assert.Equal(t, 30, settings.TraceRetentionDays)
	assert.False(t, settings.PromptCacheEnabled)
	assert.Equal(t, "chars", settings.TokenEstimator)

	settings.PromptCacheEnabled = true
	settings.AllowedHosts = []string{"api.github.com"}
	_, err = s.PutSettings(ctx, *settings)
	require.NoError(t, err)

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, got.PromptCacheEnabled)
	assert.Equal(t, []string{"api.github.com"}, got.AllowedHosts)
	assert.Equal(t, "enforce", got.EgressMode)
}
