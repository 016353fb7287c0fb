package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/autoagent/autoagent/pkg/checkpoint"
	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/operator"
	"github.com/autoagent/autoagent/pkg/retry"
	"github.com/autoagent/autoagent/pkg/safety"
	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/tool/builtin"
	"github.com/autoagent/autoagent/pkg/tool/functiontool"
	"github.com/autoagent/autoagent/pkg/tool/mcptoolset"
	"github.com/autoagent/autoagent/pkg/utils"
)

// asyncWriteTimeout bounds each fire-and-forget control-plane write.
const asyncWriteTimeout = 10 * time.Second

// runtime is the per-run working state. It lives for one executeRun call
// and is only ever touched by that run's goroutines.
type runtime struct {
	runID    string
	threadID string
	input    string
	turn     int
	stats    controlplane.ExecutionStats
	system   string
	messages []llms.Message
	settings controlplane.Settings
	estimate utils.Estimator
	started  time.Time
	resumed  bool
	lastText string

	// expectedFragments accumulates the verificationProfile expectations
	// seen during the run; scoring grades the final text against them.
	expectedFragments []string

	coord       *operator.Coordinator
	traces      *controlplane.TraceBuffer
	registry    *tool.Registry
	toolsets    []*mcptoolset.Toolset
	checkpoints *checkpoint.Manager
	policy      *safety.ToolPolicy

	bg sync.WaitGroup
}

// async runs fn on a background goroutine with a detached bounded
// context, so aborts do not lose the writes describing them. Joined by
// wait before the run returns.
func (rt *runtime) async(fn func(context.Context)) {
	rt.bg.Add(1)
	go func() {
		defer rt.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// wait joins all fire-and-forget writes and pending trace appends.
func (rt *runtime) wait() {
	rt.bg.Wait()
	rt.traces.Flush()
}

// executeRun drives one run from the operator gate through the turn loop
// to finalization. rt must arrive with runID, threadID, input, settings,
// system and messages populated; resumed runs also carry turn and stats.
func (a *Agent) executeRun(parent context.Context, rt *runtime) (*Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	a.registerRun(rt.runID, rt.input, cancel)
	defer a.releaseRun(rt.runID)

	rt.started = a.now()
	rt.traces = controlplane.NewTraceBuffer(a.client)
	rt.coord = a.newCoordinator(rt)
	rt.checkpoints = checkpoint.NewManager(a.client)
	rt.policy = safety.NewToolPolicy(rt.settings.AllowedTools, rt.settings.ApprovalTools)
	rt.estimate = utils.NewEstimator(a.estimatorMode(rt.settings), a.provider.Model())

	registry, toolsets, err := a.buildRegistry(ctx)
	if err != nil {
		a.failRun(rt, err)
		return nil, err
	}
	rt.registry = registry
	rt.toolsets = toolsets
	defer closeToolsets(rt.toolsets)

	rt.traces.Append(rt.runID, "run.started", map[string]any{
		"objective": rt.input,
		"provider":  a.providerID,
		"model":     a.provider.Model(),
		"resumed":   rt.resumed,
	})

	if !rt.resumed {
		a.setRunStatus(ctx, rt, controlplane.RunAwaitingApproval, "")
		if err := rt.coord.RequestRunApproval(ctx, rt.runID, "start run: "+threadTitle(rt.input)); err != nil {
			return nil, a.rejectRun(rt, err)
		}

		state := checkpoint.NewState(rt.runID, rt.input).WithStats(rt.stats).Build()
		if err := rt.checkpoints.Save(ctx, state); err != nil {
			slog.Warn("Initial state write failed", "run_id", rt.runID, "error", err)
		}
	}
	a.setRunStatus(ctx, rt, controlplane.RunRunning, "")

	finalText, err := a.runLoop(ctx, rt)
	if err != nil {
		a.failRun(rt, err)
		return nil, err
	}
	return a.finalizeRun(ctx, rt, finalText)
}

// runLoop is the turn loop. It returns the final assistant text, or an
// error that fails the run. A turn with no tool calls ends the loop;
// exhausting the turn budget finalizes with the last text seen.
func (a *Agent) runLoop(ctx context.Context, rt *runtime) (string, error) {
	for rt.turn < a.cfg.Agent.MaxTurns {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rt.turn++

		a.compressContext(ctx, rt)

		turn, err := a.streamAssistantTurn(ctx, rt)
		if err != nil {
			return "", err
		}
		rt.stats.TotalInputTokens += turn.InputTokens
		rt.stats.TotalOutputTokens += turn.OutputTokens
		if turn.TextContent != "" {
			rt.lastText = turn.TextContent
		}
		if rt.turn == 1 {
			rt.stats.ReflectionNotes = appendNote(rt.stats.ReflectionNotes, firstLine(turn.TextContent))
		}

		rt.messages = append(rt.messages, llms.Message{
			Role:    "assistant",
			Content: turn.TextContent,
			Raw:     turn.RawAssistantMessage,
		})
		a.appendThreadMessage(rt, "assistant", turn.TextContent, "")

		if !turn.HasToolCalls() {
			return turn.TextContent, nil
		}

		results, err := a.dispatchToolCalls(ctx, rt, turn.ToolCalls)
		if err != nil {
			return "", err
		}

		// The conversation carries the truncated copy; traces already
		// have the full text.
		conversational := make([]llms.ToolResult, len(results))
		for i, result := range results {
			conversational[i] = result
			conversational[i].Content = truncateToolResult(result.Content)
			a.appendThreadMessage(rt, "tool", conversational[i].Content, result.ID)
		}
		rt.messages = append(rt.messages, a.provider.BuildToolResultMessages(conversational)...)

		messageCount := len(rt.messages) + 1
		if err := rt.checkpoints.CheckpointTurn(ctx, rt.runID, rt.input, rt.turn, rt.stats, messageCount); err != nil {
			slog.Warn("Checkpoint write failed", "run_id", rt.runID, "turn", rt.turn, "error", err)
		} else {
			rt.traces.Append(rt.runID, "checkpoint.saved", map[string]any{
				"turn":         rt.turn,
				"messageCount": messageCount,
			})
		}
	}
	return rt.lastText, nil
}

// streamAssistantTurn performs one provider call under the retry runner
// and the provider's circuit, consulting the prompt cache when settings
// enable it. Text deltas stream to the event sink as they arrive.
func (a *Agent) streamAssistantTurn(ctx context.Context, rt *runtime) (*llms.Turn, error) {
	defs := providerToolDefs(rt.registry.Definitions())

	var cacheKey string
	if rt.settings.PromptCacheEnabled {
		key, err := promptCacheKey(a.provider.Kind(), a.provider.Model(), rt.system, a.maxTokens, rt.messages)
		if err != nil {
			slog.Debug("Prompt fingerprint failed", "error", err)
		} else {
			cacheKey = key
			if turn := a.cachedTurn(ctx, rt, key); turn != nil {
				return turn, nil
			}
		}
	}

	breaker := a.breakers.Get(a.providerID)
	started := a.now()
	turn, err := retry.DoWithResult(ctx, a.retrier, retry.StageLLM, func(ctx context.Context) (*llms.Turn, error) {
		var streamed *llms.Turn
		execErr := breaker.Execute(ctx, func(ctx context.Context) error {
			var streamErr error
			streamed, streamErr = a.provider.StreamTurn(ctx, rt.system, rt.messages, defs, func(delta string) {
				a.emit(Event{Type: EventToken, RunID: rt.runID, Turn: rt.turn, Message: delta})
			})
			return streamErr
		})
		return streamed, execErr
	}, func(attempt int, attemptErr error) {
		rt.stats.Retries++
		rt.traces.Append(rt.runID, "execution.retry", map[string]any{
			"stage":   "llm",
			"attempt": attempt,
			"error":   attemptErr.Error(),
		})
	})

	inputTokens, outputTokens := 0, 0
	if turn != nil {
		inputTokens, outputTokens = turn.InputTokens, turn.OutputTokens
	}
	a.recorder.RecordLLMRequest(ctx, a.providerID, a.provider.Model(), a.since(started), inputTokens, outputTokens, err)
	if err != nil {
		return nil, err
	}

	rt.traces.Append(rt.runID, "llm.turn", map[string]any{
		"turn":         rt.turn,
		"inputTokens":  turn.InputTokens,
		"outputTokens": turn.OutputTokens,
		"toolCalls":    len(turn.ToolCalls),
	})
	if cacheKey != "" {
		a.storeCachedTurn(ctx, cacheKey, turn)
	}
	return turn, nil
}

// buildRegistry assembles the run's tool surface: builtin tools rooted at
// the project, the ask_user relay, and one toolset per configured MCP
// adapter. Adapter subprocesses belong to this run and are closed with it.
func (a *Agent) buildRegistry(ctx context.Context) (*tool.Registry, []*mcptoolset.Toolset, error) {
	registry := tool.NewRegistry()
	if err := builtin.Register(registry, a.cfg.Agent.ProjectRoot); err != nil {
		return nil, nil, err
	}
	if err := registry.Register(newAskUserTool()); err != nil {
		return nil, nil, err
	}

	var toolsets []*mcptoolset.Toolset
	fail := func(err error) (*tool.Registry, []*mcptoolset.Toolset, error) {
		closeToolsets(toolsets)
		return nil, nil, err
	}

	for _, adapter := range a.cfg.Agent.MCPAdapters {
		toolset, err := mcptoolset.New(mcptoolset.Config{
			ID:      adapter.ID,
			Command: adapter.Command,
			Args:    adapter.Args,
			Env:     adapter.Env,
			Filter:  adapter.Tools,
		})
		if err != nil {
			return fail(err)
		}
		toolsets = append(toolsets, toolset)

		tools, err := toolset.Tools(ctx)
		if err != nil {
			return fail(err)
		}
		for _, t := range tools {
			if err := registry.Register(t); err != nil {
				return fail(err)
			}
		}
	}
	return registry, toolsets, nil
}

func closeToolsets(toolsets []*mcptoolset.Toolset) {
	for _, toolset := range toolsets {
		if err := toolset.Close(); err != nil {
			slog.Debug("MCP adapter shutdown failed", "adapter", toolset.ID(), "error", err)
		}
	}
}

type askUserArgs struct {
	Question string `json:"question" jsonschema:"required,description=The question for the human operator"`
}

// newAskUserTool defines the ask_user surface the model sees. The
// dispatcher routes these calls to the operator coordinator before the
// registry is consulted, so the handler only fires if that routing is
// bypassed.
func newAskUserTool() tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        askUserToolName,
		Description: "Ask the human operator a question and wait for their answer. Use when blocked on a decision only they can make.",
	}, func(_ context.Context, _ askUserArgs) (string, error) {
		return "", errors.New("ask_user must be routed through the operator coordinator")
	})
}

// newCoordinator builds the run's operator coordinator, wiring its
// lifecycle notifications into the trace stream and the event sink.
func (a *Agent) newCoordinator(rt *runtime) *operator.Coordinator {
	opts := []operator.Option{
		operator.WithNotifier(func(eventType string, payload map[string]any) {
			rt.traces.Append(rt.runID, eventType, payload)
			a.emit(Event{Type: EventStatus, RunID: rt.runID, Turn: rt.turn, Message: eventType, Detail: payload})
		}),
	}
	if a.prompter != nil {
		opts = append(opts, operator.WithPrompter(a.prompter))
	}
	if a.pollInterval > 0 {
		opts = append(opts, operator.WithPollInterval(a.pollInterval))
	}
	return operator.NewCoordinator(a.client, opts...)
}

// appendThreadMessage persists one conversation message without blocking
// the turn.
func (a *Agent) appendThreadMessage(rt *runtime, role, content, toolCallID string) {
	if rt.threadID == "" {
		return
	}
	req := controlplane.AppendMessageRequest{
		Role:       role,
		Content:    content,
		ToolCallID: toolCallID,
		TurnNumber: rt.turn,
	}
	rt.async(func(ctx context.Context) {
		if _, err := a.client.AppendThreadMessage(ctx, rt.threadID, req); err != nil {
			a.logDroppedWrite("thread message", rt.runID, err)
		}
	})
}

func (a *Agent) logDroppedWrite(kind, runID string, err error) {
	slog.Debug("Dropped background write", "kind", kind, "run_id", runID, "error", err)
}

func (a *Agent) setRunStatus(ctx context.Context, rt *runtime, status controlplane.RunStatus, summary string) {
	if _, err := a.client.UpdateRun(ctx, rt.runID, controlplane.UpdateRunRequest{
		Status:  status,
		Summary: summary,
	}); err != nil {
		slog.Warn("Run status update failed", "run_id", rt.runID, "status", status, "error", err)
	}
	a.emit(Event{Type: EventStatus, RunID: rt.runID, Turn: rt.turn, Message: string(status)})
}

func providerToolDefs(defs []tool.Definition) []llms.ToolDefinition {
	out := make([]llms.ToolDefinition, len(defs))
	for i, def := range defs {
		out[i] = llms.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.InputSchema,
		}
	}
	return out
}

func (a *Agent) estimatorMode(settings controlplane.Settings) string {
	if settings.TokenEstimator != "" {
		return settings.TokenEstimator
	}
	return a.cfg.Agent.TokenEstimator
}

func (a *Agent) since(started time.Time) time.Duration {
	return a.now().Sub(started)
}

const (
	maxNoteLength      = 200
	maxReflectionNotes = 5
)

// firstLine extracts the first non-empty line as a reflection note.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > maxNoteLength {
			trimmed = trimmed[:maxNoteLength]
		}
		return trimmed
	}
	return ""
}

func appendNote(notes []string, note string) []string {
	if note == "" || len(notes) >= maxReflectionNotes {
		return notes
	}
	return append(notes, note)
}

// failureSummary truncates an error into a run summary.
func failureSummary(err error) string {
	message := err.Error()
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}
