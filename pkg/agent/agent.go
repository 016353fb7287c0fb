// Package agent is the run orchestrator. It drives an objective from
// the operator's start approval through the turn loop to a scored,
// checkpointed outcome: provider streaming under retry and circuit
// protection, safety-gated tool dispatch, context compression when the
// conversation grows, and a durable execution state after every turn
// that produced tool results. One Agent serves many runs; each run owns
// its cancellation token, trace buffer and MCP subprocesses.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autoagent/autoagent/pkg/checkpoint"
	"github.com/autoagent/autoagent/pkg/config"
	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/observability"
	"github.com/autoagent/autoagent/pkg/operator"
	"github.com/autoagent/autoagent/pkg/retry"
)

// Agent orchestrates runs against one primary provider. Safe for
// concurrent use; the maps below are the only state shared across runs.
type Agent struct {
	cfg      *config.Config
	client   *controlplane.Client
	provider llms.Provider
	aux      llms.Provider

	prompter     operator.Prompter
	recorder     observability.Recorder
	sink         EventSink
	retrier      *retry.Runner
	breakers     *retry.BreakerRegistry
	providerID   string
	routingMode  string
	maxTokens    int
	pollInterval time.Duration
	now          func() time.Time

	mu          sync.Mutex
	controllers map[string]context.CancelFunc
	runInputs   map[string]string
	baselines   map[string]float64
}

// Option configures an Agent.
type Option func(*Agent)

// WithAuxProvider sets the model used for auxiliary calls such as
// context summarization. Defaults to the primary provider.
func WithAuxProvider(p llms.Provider) Option {
	return func(a *Agent) { a.aux = p }
}

// WithPrompter attaches a terminal prompter so approvals and ask_user
// questions can be answered locally instead of through the HTTP API.
func WithPrompter(p operator.Prompter) Option {
	return func(a *Agent) { a.prompter = p }
}

// WithEventSink attaches a sink for run lifecycle and token events.
func WithEventSink(sink EventSink) Option {
	return func(a *Agent) { a.sink = sink }
}

// WithRecorder overrides the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithPollInterval overrides the operator poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) { a.pollInterval = d }
}

// WithRetryPolicies overrides the retry table.
func WithRetryPolicies(policies map[retry.Stage]map[retry.Class]retry.Policy) Option {
	return func(a *Agent) { a.retrier = retry.NewRunner(policies) }
}

// New creates an Agent over a loaded config, a control-plane client and
// the primary provider.
func New(cfg *config.Config, client *controlplane.Client, provider llms.Provider, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if client == nil {
		return nil, errors.New("control-plane client is required")
	}
	if provider == nil {
		return nil, errors.New("llm provider is required")
	}

	a := &Agent{
		cfg:         cfg,
		client:      client,
		provider:    provider,
		aux:         provider,
		recorder:    observability.GetGlobalRecorder(),
		retrier:     retry.NewRunner(nil),
		breakers:    retry.NewBreakerRegistry(0, 0),
		providerID:  string(provider.Kind()),
		routingMode: cfg.Agent.RoutingMode,
		now:         func() time.Time { return time.Now().UTC() },
		controllers: make(map[string]context.CancelFunc),
		runInputs:   make(map[string]string),
		baselines:   make(map[string]float64),
	}
	if primary := cfg.PrimaryProvider(); primary != nil {
		if primary.ID != "" {
			a.providerID = primary.ID
		}
		a.maxTokens = primary.MaxTokens
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Execute runs one objective end to end and returns the outcome. The
// run blocks on the operator's start approval before any execution.
func (a *Agent) Execute(ctx context.Context, objective string) (*Result, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, errors.New("objective is required")
	}

	run, err := a.client.CreateRun(ctx, controlplane.CreateRunRequest{
		ProjectID: a.projectID(),
		Objective: objective,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	rt := &runtime{
		runID:    run.RunID,
		input:    objective,
		settings: a.fetchSettings(ctx),
		system:   a.buildSystemPrompt(),
		messages: []llms.Message{{Role: "user", Content: objective}},
	}

	thread, err := a.client.CreateThread(ctx, controlplane.CreateThreadRequest{
		RunID: run.RunID,
		Title: threadTitle(objective),
	})
	if err != nil {
		slog.Warn("Thread creation failed, conversation will not persist",
			"run_id", run.RunID, "error", err)
	} else {
		rt.threadID = thread.ThreadID
		a.appendThreadMessage(rt, "user", objective, "")
	}

	return a.executeRun(ctx, rt)
}

// Resume continues a checkpointed run from its replay boundary. The
// conversation is rebuilt from the stored thread, the persisted stats
// carry over, and the start approval is not repeated.
func (a *Agent) Resume(ctx context.Context, runID string) (*Result, error) {
	state, err := checkpoint.NewManager(a.client).LoadForResume(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s cannot resume: %w", runID, err)
	}
	if err := a.verifyResumable(ctx, runID); err != nil {
		return nil, err
	}

	input := state.Input
	if input == "" {
		run, gerr := a.client.GetRun(ctx, runID)
		if gerr != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, gerr)
		}
		input = run.Objective
	}

	rt := &runtime{
		runID:    runID,
		input:    input,
		turn:     state.ReplayBoundary.Turn,
		stats:    state.Stats,
		settings: a.fetchSettings(ctx),
		system:   a.buildSystemPrompt(),
		resumed:  true,
	}
	a.restoreConversation(ctx, rt)
	return a.executeRun(ctx, rt)
}

// Retry re-enters a terminal run from scratch with its original input.
// Turn count, stats and conversation start over; only the thread is
// shared, and the operator approves the start again.
func (a *Agent) Retry(ctx context.Context, runID string) (*Result, error) {
	state, err := checkpoint.NewManager(a.client).LoadForRetry(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s cannot retry: %w", runID, err)
	}
	if err := a.verifyResumable(ctx, runID); err != nil {
		return nil, err
	}

	input := state.Input
	if input == "" {
		run, gerr := a.client.GetRun(ctx, runID)
		if gerr != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, gerr)
		}
		input = run.Objective
	}

	rt := &runtime{
		runID:    runID,
		input:    input,
		settings: a.fetchSettings(ctx),
		system:   a.buildSystemPrompt(),
		messages: []llms.Message{{Role: "user", Content: input}},
	}
	if thread, terr := a.client.ThreadByRun(ctx, runID); terr == nil && thread != nil {
		rt.threadID = thread.ThreadID
	}
	return a.executeRun(ctx, rt)
}

// FollowUp launches a suggestion as a new run that shares the prior
// run's thread, so the stored conversation carries across runs.
func (a *Agent) FollowUp(ctx context.Context, priorRunID string, suggestion Suggestion) (*Result, error) {
	objective := strings.TrimSpace(suggestion.ObjectiveHint)
	if objective == "" {
		return nil, errors.New("suggestion carries no objective")
	}

	run, err := a.client.CreateRun(ctx, controlplane.CreateRunRequest{
		ProjectID: a.projectID(),
		Objective: objective,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create follow-up run: %w", err)
	}

	rt := &runtime{
		runID:    run.RunID,
		input:    objective,
		settings: a.fetchSettings(ctx),
		system:   a.buildSystemPrompt(),
		messages: []llms.Message{{Role: "user", Content: objective}},
	}

	thread, terr := a.client.ThreadByRun(ctx, priorRunID)
	if terr != nil || thread == nil {
		if terr != nil {
			slog.Warn("Prior thread lookup failed, starting a fresh one",
				"prior_run_id", priorRunID, "error", terr)
		}
		thread, terr = a.client.CreateThread(ctx, controlplane.CreateThreadRequest{
			RunID: run.RunID,
			Title: threadTitle(objective),
		})
		if terr != nil {
			slog.Warn("Thread creation failed, conversation will not persist",
				"run_id", run.RunID, "error", terr)
		}
	}
	if thread != nil {
		rt.threadID = thread.ThreadID
		a.appendThreadMessage(rt, "user", objective, "")
	}

	return a.executeRun(ctx, rt)
}

// Abort cancels a run executing in this process. It reports whether a
// controller was found; the aborted state is persisted by the run's own
// goroutine as the cancellation unwinds.
func (a *Agent) Abort(runID string) bool {
	a.mu.Lock()
	cancel, ok := a.controllers[runID]
	a.mu.Unlock()

	if ok {
		slog.Info("Aborting run", "run_id", runID)
		cancel()
	}
	return ok
}

// ActiveRuns returns the objectives of runs currently executing in this
// process, keyed by run id.
func (a *Agent) ActiveRuns() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]string, len(a.runInputs))
	for id, input := range a.runInputs {
		out[id] = input
	}
	return out
}

func (a *Agent) registerRun(runID, input string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controllers[runID] = cancel
	a.runInputs[runID] = input
}

func (a *Agent) releaseRun(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.controllers, runID)
	delete(a.runInputs, runID)
}

// raiseBaseline ratchets the routing-mode baseline up to the best
// aggregate score this process has seen. It never moves down.
func (a *Agent) raiseBaseline(mode string, score float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if score > a.baselines[mode] {
		a.baselines[mode] = score
	}
	return a.baselines[mode]
}

// verifyResumable refuses resume and retry while operator decisions
// are unsettled for the run.
func (a *Agent) verifyResumable(ctx context.Context, runID string) error {
	return operator.NewCoordinator(a.client).VerifyResumable(ctx, runID)
}

// restoreConversation rebuilds the in-memory conversation from the
// run's stored thread. Without stored messages the run restarts from
// the objective alone, which the replay boundary still permits.
func (a *Agent) restoreConversation(ctx context.Context, rt *runtime) {
	rt.messages = []llms.Message{{Role: "user", Content: rt.input}}

	thread, err := a.client.ThreadByRun(ctx, rt.runID)
	if err != nil || thread == nil {
		if err != nil {
			slog.Warn("Thread lookup failed on resume", "run_id", rt.runID, "error", err)
		}
		return
	}
	rt.threadID = thread.ThreadID

	stored, err := a.client.ListThreadMessages(ctx, thread.ThreadID)
	if err != nil {
		slog.Warn("Stored conversation unavailable on resume", "run_id", rt.runID, "error", err)
		return
	}
	if rebuilt := rebuildConversation(stored); len(rebuilt) > 0 {
		rt.messages = rebuilt
	}
}

// fetchSettings loads the operator settings, falling back to defaults
// when the control plane has none or is unreachable.
func (a *Agent) fetchSettings(ctx context.Context) controlplane.Settings {
	settings, err := a.client.GetSettings(ctx)
	if err != nil || settings == nil {
		if err != nil {
			slog.Warn("Settings unavailable, using defaults", "error", err)
		}
		return controlplane.DefaultSettings()
	}
	return *settings
}

// projectID derives the control-plane project id from the project root
// directory name.
func (a *Agent) projectID() string {
	root := a.cfg.Agent.ProjectRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return filepath.Base(root)
}
