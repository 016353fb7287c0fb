// Package llms normalizes OpenAI-style and Anthropic-style streaming chat
// APIs into a uniform Turn so the rest of the system never sees provider
// wire formats.
package llms

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProviderKind is a closed enum: exactly these two wire protocols exist.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// ParseProviderKind validates a provider kind string.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(s) {
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unknown provider kind %q", s)
	}
}

// ToolCall is one tool invocation extracted from an assistant turn.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult pairs a tool call id with its outcome.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"isError"`
}

// ToolDefinition describes a callable tool to the provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one entry in a provider conversation. Raw, when set, is the
// provider-native JSON for this message and is sent verbatim; otherwise the
// Role/Content/ToolCallID fields are serialized into the provider's shape.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Turn is the provider-normalized result of one streaming call.
// RawAssistantMessage is provider-native and must be appended to the
// conversation unchanged so tool_use ids keep matching.
type Turn struct {
	TextContent         string          `json:"textContent"`
	ToolCalls           []ToolCall      `json:"toolCalls"`
	RawAssistantMessage json.RawMessage `json:"rawAssistantMessage"`
	InputTokens         int             `json:"inputTokens"`
	OutputTokens        int             `json:"outputTokens"`
}

// HasToolCalls reports whether the assistant requested any tool use.
func (t *Turn) HasToolCalls() bool {
	return len(t.ToolCalls) > 0
}

// Provider adapts one wire protocol.
type Provider interface {
	// Kind identifies the wire protocol.
	Kind() ProviderKind

	// Model returns the configured model name.
	Model() string

	// StreamTurn performs one streaming chat call. systemPrompt may be
	// empty; messages must not include a system entry. onDelta receives
	// text fragments as they arrive and may be nil.
	StreamTurn(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, onDelta func(string)) (*Turn, error)

	// BuildToolResultMessages converts tool results into the provider's
	// conversation shape: one role=tool message per result for OpenAI, a
	// single role=user message of tool_result blocks for Anthropic.
	BuildToolResultMessages(results []ToolResult) []Message

	// NormalizeCachedResponse converts a cached provider-native response
	// back into a Turn.
	NormalizeCachedResponse(cached json.RawMessage) (*Turn, error)

	// EncodeCacheEntry renders a turn as the provider-native response JSON
	// accepted by NormalizeCachedResponse.
	EncodeCacheEntry(turn *Turn) (json.RawMessage, error)
}

// ProviderError carries the HTTP status and a truncated body from a failed
// provider call.
type ProviderError struct {
	Kind       ProviderKind
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Kind, e.StatusCode, e.Body)
}

const maxErrorBodyLength = 500

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyLength {
		return string(body[:maxErrorBodyLength]) + "..."
	}
	return string(body)
}

// New constructs the adapter for a provider kind. An empty baseURL selects
// the provider's public endpoint; maxTokens <= 0 selects a default of 4096.
func New(kind ProviderKind, baseURL, apiKey, model string, maxTokens int) (Provider, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	switch kind {
	case ProviderOpenAI:
		return newOpenAIProvider(baseURL, apiKey, model, maxTokens), nil
	case ProviderAnthropic:
		return newAnthropicProvider(baseURL, apiKey, model, maxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
