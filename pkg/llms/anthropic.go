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

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider speaks the messages SSE protocol.
type AnthropicProvider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

func newAnthropicProvider(baseURL, apiKey, model string, maxTokens int) *AnthropicProvider {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{},
	}
}

func (p *AnthropicProvider) Kind() ProviderKind { return ProviderAnthropic }

func (p *AnthropicProvider) Model() string { return p.model }

type anthropicRequest struct {
	Model     string            `json:"model"`
	Messages  []json.RawMessage `json:"messages"`
	MaxTokens int               `json:"max_tokens"`
	Stream    bool              `json:"stream"`
	System    string            `json:"system,omitempty"`
	Tools     []anthropicTool   `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicContentBlock covers text, tool_use and tool_result blocks. Input
// stays raw JSON so empty tool inputs survive as {} instead of being dropped.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicWireMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	ContentBlock *anthropicContentBlock `json:"content_block"`
	Delta        *anthropicStreamDelta  `json:"delta"`
	Message      *anthropicMessageInfo  `json:"message"`
	Usage        *anthropicUsage        `json:"usage"`
}

type anthropicStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicMessageInfo struct {
	Usage *anthropicUsage `json:"usage"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   *anthropicUsage         `json:"usage,omitempty"`
}

// StreamTurn performs one streaming messages call.
func (p *AnthropicProvider) StreamTurn(ctx context.Context, systemPrompt string, messages []Message, tools []ToolDefinition, onDelta func(string)) (*Turn, error) {
	body, err := p.buildRequest(systemPrompt, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.NewClassifiedError(retry.ClassTransient, retry.StageLLM, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, providerHTTPError(ProviderAnthropic, resp)
	}

	return p.consumeStream(resp.Body, onDelta)
}

func (p *AnthropicProvider) buildRequest(systemPrompt string, messages []Message, tools []ToolDefinition) ([]byte, error) {
	wire := make([]json.RawMessage, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Raw) > 0 {
			wire = append(wire, msg.Raw)
			continue
		}
		m, err := json.Marshal(anthropicWireMessage{
			Role:    msg.Role,
			Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
		})
		if err != nil {
			return nil, err
		}
		wire = append(wire, m)
	}

	req := anthropicRequest{
		Model:     p.model,
		Messages:  wire,
		MaxTokens: p.maxTokens,
		Stream:    true,
		System:    systemPrompt,
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return json.Marshal(req)
}

type anthropicPendingBlock struct {
	blockType string
	id        string
	name      string
	text      strings.Builder
	argsJSON  strings.Builder
	input     map[string]any
}

// consumeStream walks the event sequence. Text deltas accumulate per block,
// tool inputs buffer partial_json fragments and parse at content_block_stop.
func (p *AnthropicProvider) consumeStream(body io.Reader, onDelta func(string)) (*Turn, error) {
	blocks := make(map[int]*anthropicPendingBlock)
	var order []int
	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				inputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_start":
			if event.ContentBlock == nil {
				continue
			}
			block := &anthropicPendingBlock{
				blockType: event.ContentBlock.Type,
				id:        event.ContentBlock.ID,
				name:      event.ContentBlock.Name,
			}
			blocks[event.Index] = block
			order = append(order, event.Index)
		case "content_block_delta":
			block := blocks[event.Index]
			if block == nil || event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				block.text.WriteString(event.Delta.Text)
				if onDelta != nil {
					onDelta(event.Delta.Text)
				}
			case "input_json_delta":
				block.argsJSON.WriteString(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			block := blocks[event.Index]
			if block == nil || block.blockType != "tool_use" {
				continue
			}
			input, err := parseToolArguments(block.argsJSON.String())
			if err != nil {
				return nil, retry.NewClassifiedError(retry.ClassProvider, retry.StageLLM,
					fmt.Errorf("tool call %q input: %w", block.name, err))
			}
			block.input = input
		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, retry.NewClassifiedError(retry.ClassTransient, retry.StageLLM, fmt.Errorf("reading stream: %w", err))
	}

	sort.Ints(order)

	turn := &Turn{InputTokens: inputTokens, OutputTokens: outputTokens}
	var text strings.Builder
	var wireBlocks []anthropicContentBlock

	for _, idx := range order {
		block := blocks[idx]
		switch block.blockType {
		case "text":
			text.WriteString(block.text.String())
			wireBlocks = append(wireBlocks, anthropicContentBlock{Type: "text", Text: block.text.String()})
		case "tool_use":
			input := block.input
			if input == nil {
				parsed, err := parseToolArguments(block.argsJSON.String())
				if err != nil {
					return nil, retry.NewClassifiedError(retry.ClassProvider, retry.StageLLM,
						fmt.Errorf("tool call %q input: %w", block.name, err))
				}
				input = parsed
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: block.id, Name: block.name, Input: input})

			rawInput := strings.TrimSpace(block.argsJSON.String())
			if rawInput == "" {
				rawInput = "{}"
			}
			wireBlocks = append(wireBlocks, anthropicContentBlock{
				Type:  "tool_use",
				ID:    block.id,
				Name:  block.name,
				Input: json.RawMessage(rawInput),
			})
		}
	}
	turn.TextContent = text.String()

	raw, err := json.Marshal(anthropicWireMessage{Role: "assistant", Content: wireBlocks})
	if err != nil {
		return nil, err
	}
	turn.RawAssistantMessage = raw
	return turn, nil
}

// BuildToolResultMessages packs every result into a single user message of
// tool_result blocks, as the messages API requires.
func (p *AnthropicProvider) BuildToolResultMessages(results []ToolResult) []Message {
	if len(results) == 0 {
		return nil
	}
	blocks := make([]anthropicContentBlock, 0, len(results))
	var summary strings.Builder
	for i, r := range results {
		blocks = append(blocks, anthropicContentBlock{
			Type:      "tool_result",
			ToolUseID: r.ID,
			Content:   r.Content,
			IsError:   r.IsError,
		})
		if i > 0 {
			summary.WriteString("\n")
		}
		summary.WriteString(r.Content)
	}
	raw, _ := json.Marshal(anthropicWireMessage{Role: "user", Content: blocks})
	return []Message{{Role: "user", Content: summary.String(), Raw: raw}}
}

// NormalizeCachedResponse converts a cached messages response body into a
// Turn.
func (p *AnthropicProvider) NormalizeCachedResponse(cached json.RawMessage) (*Turn, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		return nil, fmt.Errorf("decoding cached response: %w", err)
	}

	turn := &Turn{}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("cached tool call %q: %w", block.Name, err)
				}
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	turn.TextContent = text.String()

	raw, err := json.Marshal(anthropicWireMessage{Role: "assistant", Content: resp.Content})
	if err != nil {
		return nil, err
	}
	turn.RawAssistantMessage = raw

	if resp.Usage != nil {
		turn.InputTokens = resp.Usage.InputTokens
		turn.OutputTokens = resp.Usage.OutputTokens
	}
	return turn, nil
}

// EncodeCacheEntry renders a turn as a messages response body.
func (p *AnthropicProvider) EncodeCacheEntry(turn *Turn) (json.RawMessage, error) {
	var content []anthropicContentBlock
	if len(turn.RawAssistantMessage) > 0 {
		var msg anthropicWireMessage
		if err := json.Unmarshal(turn.RawAssistantMessage, &msg); err != nil {
			return nil, fmt.Errorf("encoding cache entry: %w", err)
		}
		content = msg.Content
	} else if turn.TextContent != "" {
		content = []anthropicContentBlock{{Type: "text", Text: turn.TextContent}}
	}

	resp := anthropicResponse{
		Content: content,
		Usage:   &anthropicUsage{InputTokens: turn.InputTokens, OutputTokens: turn.OutputTokens},
	}
	return json.Marshal(resp)
}
