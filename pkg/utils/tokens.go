package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator converts text into an approximate token count.
type Estimator func(text string) int

// EstimateTokens gives a rough token count at four characters per token.
// This is the default estimator for context-pressure checks; it needs no
// model files and never fails.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// NewEstimator returns the estimator for the given mode. Mode "tiktoken"
// uses a precise tokenizer for the model when one can be loaded; any other
// mode, or a tokenizer load failure, falls back to the chars/4 heuristic.
func NewEstimator(mode, model string) Estimator {
	if mode == "tiktoken" {
		if tc, err := NewTokenCounter(model); err == nil {
			return tc.Count
		}
	}
	return EstimateTokens
}

// TokenCounter counts tokens precisely for a specific model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Encodings are expensive to initialize, so they are cached per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. Unknown models fall
// back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the exact token count for text under this model's encoding.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// Model returns the model name this counter was built for.
func (tc *TokenCounter) Model() string {
	return tc.model
}
