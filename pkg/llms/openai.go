package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/autoagent/autoagent/pkg/retry"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat-completions SSE protocol.
type OpenAIProvider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int

	// No client-level timeout: streams run until the context ends.
	client *http.Client
}

func newOpenAIProvider(baseURL, apiKey, model string, maxTokens int) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

func (p *OpenAIProvider) Kind() ProviderKind { return ProviderOpenAI }

func (p *OpenAIProvider) Model() string { return p.model }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string           `json:"type"`
	Function openAIToolSchema `json:"function"`
}

type openAIToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []json.RawMessage    `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream"`
	Tools         []openAITool         `json:"tools,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIDeltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIDeltaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
}

// StreamTurn performs one streaming chat-completions call.
func (p *OpenAIProvider) StreamTurn(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, onDelta func(string)) (*Turn, error) {
	body, err := p.buildRequest(systemPrompt, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.NewClassifiedError(retry.ClassTransient, retry.StageLLM, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providerHTTPError(ProviderOpenAI, resp)
	}

	return p.consumeStream(resp.Body, onDelta)
}

func (p *OpenAIProvider) buildRequest(systemPrompt string, messages []Message, tools []ToolDefinition) ([]byte, error) {
	wire := make([]json.RawMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		m, err := json.Marshal(openAIMessage{Role: "system", Content: systemPrompt})
		if err != nil {
			return nil, err
		}
		wire = append(wire, m)
	}
	for _, msg := range messages {
		if len(msg.Raw) > 0 {
			wire = append(wire, msg.Raw)
			continue
		}
		m, err := json.Marshal(openAIMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID})
		if err != nil {
			return nil, err
		}
		wire = append(wire, m)
	}

	req := openAIRequest{
		Model:         p.model,
		Messages:      wire,
		MaxTokens:     p.maxTokens,
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return json.Marshal(req)
}

// consumeStream accumulates SSE chunks into a Turn. Tool-call fragments are
// keyed by index, concatenating function.arguments until [DONE].
func (p *OpenAIProvider) consumeStream(body io.Reader, onDelta func(string)) (*Turn, error) {
	type pendingCall struct {
		id   string
		name string
		args strings.Builder
	}

	var text strings.Builder
	pending := make(map[int]*pendingCall)
	var order []int
	var usage openAIUsage

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, retry.NewClassifiedError(retry.ClassTransient, retry.StageLLM, fmt.Errorf("reading stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		// Usage arrives on the final chunk when stream_options asks for it.
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		for _, dc := range delta.ToolCalls {
			call, ok := pending[dc.Index]
			if !ok {
				call = &pendingCall{}
				pending[dc.Index] = call
				order = append(order, dc.Index)
			}
			if dc.ID != "" {
				call.id = dc.ID
			}
			if dc.Function.Name != "" {
				call.name = dc.Function.Name
			}
			call.args.WriteString(dc.Function.Arguments)
		}
	}

	sort.Ints(order)

	turn := &Turn{
		TextContent:  text.String(),
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}

	var wireCalls []openAIToolCall
	for _, idx := range order {
		call := pending[idx]
		input, err := parseToolArguments(call.args.String())
		if err != nil {
			return nil, retry.NewClassifiedError(retry.ClassProvider, retry.StageLLM,
				fmt.Errorf("tool call %q arguments: %w", call.name, err))
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: call.id, Name: call.name, Input: input})
		wireCalls = append(wireCalls, openAIToolCall{
			ID:       call.id,
			Type:     "function",
			Function: openAIToolFunction{Name: call.name, Arguments: call.args.String()},
		})
	}

	raw, err := json.Marshal(openAIMessage{Role: "assistant", Content: turn.TextContent, ToolCalls: wireCalls})
	if err != nil {
		return nil, err
	}
	turn.RawAssistantMessage = raw
	return turn, nil
}

// BuildToolResultMessages emits one role=tool message per result.
func (p *OpenAIProvider) BuildToolResultMessages(results []ToolResult) []Message {
	messages := make([]Message, 0, len(results))
	for _, r := range results {
		raw, _ := json.Marshal(openAIMessage{Role: "tool", Content: r.Content, ToolCallID: r.ID})
		messages = append(messages, Message{Role: "tool", Content: r.Content, ToolCallID: r.ID, Raw: raw})
	}
	return messages
}

// NormalizeCachedResponse converts a cached chat-completions response body
// into a Turn.
func (p *OpenAIProvider) NormalizeCachedResponse(cached json.RawMessage) (*Turn, error) {
	var resp openAIResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		return nil, fmt.Errorf("decoding cached response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("cached response has no choices")
	}

	message := resp.Choices[0].Message
	turn := &Turn{TextContent: message.Content}
	for _, call := range message.ToolCalls {
		input, err := parseToolArguments(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("cached tool call %q: %w", call.Function.Name, err)
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: call.ID, Name: call.Function.Name, Input: input})
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	turn.RawAssistantMessage = raw

	if resp.Usage != nil {
		turn.InputTokens = resp.Usage.PromptTokens
		turn.OutputTokens = resp.Usage.CompletionTokens
	}
	return turn, nil
}

// EncodeCacheEntry renders a turn as a chat-completions response body.
func (p *OpenAIProvider) EncodeCacheEntry(turn *Turn) (json.RawMessage, error) {
	var message openAIMessage
	if len(turn.RawAssistantMessage) > 0 {
		if err := json.Unmarshal(turn.RawAssistantMessage, &message); err != nil {
			return nil, fmt.Errorf("encoding cache entry: %w", err)
		}
	} else {
		message = openAIMessage{Role: "assistant", Content: turn.TextContent}
	}

	resp := openAIResponse{
		Choices: []openAIChoice{{Message: message, FinishReason: "stop"}},
		Usage:   &openAIUsage{PromptTokens: turn.InputTokens, CompletionTokens: turn.OutputTokens},
	}
	return json.Marshal(resp)
}
