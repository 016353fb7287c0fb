package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/retry"
)

func TestAnthropicStreamTurnText(t *testing.T) {
	server := newSSEServer([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":42}}}`,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`,
		`data: {"type":"message_stop"}`,
	})
	defer server.Close()

	provider := newAnthropicProvider(server.URL, "test-key", "claude-sonnet-4", 1024)

	var deltas []string
	turn, err := provider.StreamTurn(context.Background(), "Be brief.", []Message{
		{Role: "user", Content: "hi"},
	}, nil, func(delta string) { deltas = append(deltas, delta) })

	require.NoError(t, err)
	assert.Equal(t, "Hello there", turn.TextContent)
	assert.Equal(t, []string{"Hello", " there"}, deltas)
	assert.Equal(t, 42, turn.InputTokens)
	assert.Equal(t, 7, turn.OutputTokens)
	assert.False(t, turn.HasToolCalls())

	var raw anthropicWireMessage
	require.NoError(t, json.Unmarshal(turn.RawAssistantMessage, &raw))
	assert.Equal(t, "assistant", raw.Role)
	require.Len(t, raw.Content, 1)
	assert.Equal(t, "text", raw.Content[0].Type)
	assert.Equal(t, "Hello there", raw.Content[0].Text)
}

func TestAnthropicStreamTurnToolUse(t *testing.T) {
	server := newSSEServer([]string{
		`data: {"type":"message_start","message":{"usage":{"input_tokens":10}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Reading the file."}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"pa"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"th\":\"go.mod\"}"}}`,
		`data: {"type":"content_block_stop","index":1}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":15}}`,
		`data: {"type":"message_stop"}`,
	})
	defer server.Close()

	provider := newAnthropicProvider(server.URL, "test-key", "claude-sonnet-4", 1024)

	turn, err := provider.StreamTurn(context.Background(), "", []Message{{Role: "user", Content: "go"}}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Reading the file.", turn.TextContent)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "toolu_1", turn.ToolCalls[0].ID)
	assert.Equal(t, "read_file", turn.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "go.mod"}, turn.ToolCalls[0].Input)

	var raw anthropicWireMessage
	require.NoError(t, json.Unmarshal(turn.RawAssistantMessage, &raw))
	require.Len(t, raw.Content, 2)
	assert.Equal(t, "text", raw.Content[0].Type)
	assert.Equal(t, "tool_use", raw.Content[1].Type)
	assert.Equal(t, "toolu_1", raw.Content[1].ID)
	assert.JSONEq(t, `{"path":"go.mod"}`, string(raw.Content[1].Input))
}

func TestAnthropicStreamTurnEmptyToolInput(t *testing.T) {
	server := newSSEServer([]string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"list_dir"}}`,
		`data: {"type":"content_block_stop","index":0}`,
		`data: {"type":"message_stop"}`,
	})
	defer server.Close()

	provider := newAnthropicProvider(server.URL, "test-key", "claude-sonnet-4", 1024)

	turn, err := provider.StreamTurn(context.Background(), "", []Message{{Role: "user", Content: "go"}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, turn.ToolCalls, 1)
	assert.NotNil(t, turn.ToolCalls[0].Input)
	assert.Empty(t, turn.ToolCalls[0].Input)

	var raw anthropicWireMessage
	require.NoError(t, json.Unmarshal(turn.RawAssistantMessage, &raw))
	require.Len(t, raw.Content, 1)
	assert.JSONEq(t, `{}`, string(raw.Content[0].Input))
}

func TestAnthropicRequestShape(t *testing.T) {
	var captured []byte
	var apiKey, version string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		captured, _ = io.ReadAll(r.Body)
		_, _ = fmt.Fprint(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer server.Close()

	provider := newAnthropicProvider(server.URL, "secret", "claude-sonnet-4", 2048)

	rawResultMsg := json.RawMessage(`{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_9","content":"ok"}]}`)
	_, err := provider.StreamTurn(context.Background(), "system prompt", []Message{
		{Role: "user", Content: "question"},
		{Role: "user", Raw: rawResultMsg},
	}, []ToolDefinition{
		{Name: "read_file", Description: "Reads a file", Parameters: map[string]any{"type": "object"}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, anthropicVersion, version)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.Equal(t, 2048, req.MaxTokens)
	assert.True(t, req.Stream)
	assert.Equal(t, "system prompt", req.System)

	require.Len(t, req.Messages, 2)
	var first anthropicWireMessage
	require.NoError(t, json.Unmarshal(req.Messages[0], &first))
	assert.Equal(t, "user", first.Role)
	require.Len(t, first.Content, 1)
	assert.Equal(t, "question", first.Content[0].Text)
	assert.JSONEq(t, string(rawResultMsg), string(req.Messages[1]))

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "read_file", req.Tools[0].Name)
	assert.Equal(t, map[string]any{"type": "object"}, req.Tools[0].InputSchema)
}

func TestAnthropicHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass retry.Class
	}{
		{"overloaded is transient", http.StatusServiceUnavailable, retry.ClassTransient},
		{"rate limit is transient", http.StatusTooManyRequests, retry.ClassTransient},
		{"invalid request is provider", http.StatusBadRequest, retry.ClassProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"error":{"message":"upstream says no"}}`)
			}))
			defer server.Close()

			provider := newAnthropicProvider(server.URL, "test-key", "claude-sonnet-4", 1024)
			_, err := provider.StreamTurn(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, nil, nil)
			require.Error(t, err)

			assert.Equal(t, tt.wantClass, retry.Classify(retry.StageLLM, err))

			var perr *ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.status, perr.StatusCode)
		})
	}
}

func TestAnthropicBuildToolResultMessages(t *testing.T) {
	provider := newAnthropicProvider("", "k", "claude-sonnet-4", 1024)

	messages := provider.BuildToolResultMessages([]ToolResult{
		{ID: "toolu_1", Content: "file contents"},
		{ID: "toolu_2", Content: "command failed", IsError: true},
	})
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)

	var raw anthropicWireMessage
	require.NoError(t, json.Unmarshal(messages[0].Raw, &raw))
	assert.Equal(t, "user", raw.Role)
	require.Len(t, raw.Content, 2)

	assert.Equal(t, "tool_result", raw.Content[0].Type)
	assert.Equal(t, "toolu_1", raw.Content[0].ToolUseID)
	assert.Equal(t, "file contents", raw.Content[0].Content)
	assert.False(t, raw.Content[0].IsError)

	assert.Equal(t, "toolu_2", raw.Content[1].ToolUseID)
	assert.True(t, raw.Content[1].IsError)
}

func TestAnthropicCacheRoundTrip(t *testing.T) {
	provider := newAnthropicProvider("", "k", "claude-sonnet-4", 1024)

	cached := json.RawMessage(`{
		"content":[
			{"type":"text","text":"On it."},
			{"type":"tool_use","id":"toolu_1","name":"write_file","input":{"path":"a.txt"}}
		],
		"usage":{"input_tokens":100,"output_tokens":20}
	}`)

	turn, err := provider.NormalizeCachedResponse(cached)
	require.NoError(t, err)
	assert.Equal(t, "On it.", turn.TextContent)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "write_file", turn.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "a.txt"}, turn.ToolCalls[0].Input)
	assert.Equal(t, 100, turn.InputTokens)
	assert.Equal(t, 20, turn.OutputTokens)

	encoded, err := provider.EncodeCacheEntry(turn)
	require.NoError(t, err)

	again, err := provider.NormalizeCachedResponse(encoded)
	require.NoError(t, err)
	assert.Equal(t, turn.TextContent, again.TextContent)
	assert.Equal(t, turn.ToolCalls, again.ToolCalls)
	assert.Equal(t, turn.OutputTokens, again.OutputTokens)
}

func TestProviderFactory(t *testing.T) {
	openai, err := New(ProviderOpenAI, "", "k", "gpt-4o", 0)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, openai.Kind())
	assert.Equal(t, "gpt-4o", openai.Model())

	anthropic, err := New(ProviderAnthropic, "", "k", "claude-sonnet-4", 0)
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, anthropic.Kind())

	_, err = New(ProviderKind("mistral"), "", "k", "m", 0)
	require.Error(t, err)
}
