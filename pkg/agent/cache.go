package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/utils"
)

// promptCacheTTL is how long a cached provider response stays valid.
const promptCacheTTL = 24 * time.Hour

// promptCacheKey fingerprints one provider call. Identical calls hash to
// the same key regardless of map insertion order in tool inputs.
func promptCacheKey(kind llms.ProviderKind, model, system string, maxTokens int, messages []llms.Message) (string, error) {
	canon, err := utils.StableStringify(map[string]any{
		"providerKind": string(kind),
		"model":        model,
		"system":       system,
		"maxTokens":    maxTokens,
		"messages":     messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint prompt: %w", err)
	}
	return utils.HashFields(canon), nil
}

// cachedTurn returns the decoded cache entry for key, or nil on miss,
// expiry, or any decode problem. Cache failures never fail the turn.
func (a *Agent) cachedTurn(ctx context.Context, rt *runtime, key string) *llms.Turn {
	entry, err := a.client.GetCachedPrompt(ctx, key)
	if err != nil {
		slog.Debug("Prompt cache lookup failed", "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	turn, err := a.provider.NormalizeCachedResponse(entry.Response)
	if err != nil {
		slog.Debug("Discarding undecodable prompt cache entry", "key", key, "error", err)
		return nil
	}
	rt.traces.Append(rt.runID, "prompt_cache.hit", map[string]any{"key": key})
	return turn
}

// storeCachedTurn writes a finished turn back to the cache.
func (a *Agent) storeCachedTurn(ctx context.Context, key string, turn *llms.Turn) {
	encoded, err := a.provider.EncodeCacheEntry(turn)
	if err != nil {
		slog.Debug("Failed to encode prompt cache entry", "error", err)
		return
	}
	err = a.client.PutCachedPrompt(ctx, controlplane.CachedPrompt{
		Key:       key,
		Provider:  string(a.provider.Kind()),
		Model:     a.provider.Model(),
		Response:  encoded,
		ExpiresAt: a.now().Add(promptCacheTTL),
	})
	if err != nil {
		slog.Debug("Prompt cache write failed", "error", err)
	}
}
