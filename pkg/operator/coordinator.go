package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/utils"
)

// Operator decision errors. Rejection and expiry are both denials, but
// callers distinguish them for trace payloads and run summaries.
var (
	ErrApprovalRejected = errors.New("approval rejected by operator")
	ErrApprovalExpired  = errors.New("approval expired before resolution")
	ErrPromptExpired    = errors.New("user prompt expired before an answer")
	ErrPromptCancelled  = errors.New("user prompt was cancelled")
	ErrPendingApprovals = errors.New("pending tool approvals remain")
	ErrStaleApproval    = errors.New("approved approval has expired")
)

// Defaults for decision windows and the resolution poll cadence.
const (
	DefaultApprovalTTL  = 10 * time.Minute
	DefaultPromptTTL    = 15 * time.Minute
	DefaultPollInterval = time.Second
)

// ControlPlane is the slice of the control-plane API the coordinator
// uses. *controlplane.Client satisfies it.
type ControlPlane interface {
	CreateApproval(ctx context.Context, req controlplane.CreateApprovalRequest) (*controlplane.Approval, error)
	GetApproval(ctx context.Context, id string) (*controlplane.Approval, error)
	ResolveApproval(ctx context.Context, id string, req controlplane.ResolveApprovalRequest) (*controlplane.Approval, error)
	ListApprovals(ctx context.Context, opts controlplane.ListApprovalsOptions) ([]controlplane.Approval, error)
	CreatePrompt(ctx context.Context, req controlplane.CreatePromptRequest) (*controlplane.UserPrompt, error)
	GetPrompt(ctx context.Context, promptID string) (*controlplane.UserPrompt, error)
	AnswerPrompt(ctx context.Context, promptID string, req controlplane.AnswerPromptRequest) (*controlplane.UserPrompt, error)
}

// Notifier receives coordinator lifecycle events for the trace stream.
type Notifier func(eventType string, payload map[string]any)

// Coordinator gates run starts and tool invocations behind operator
// approvals and relays ask_user questions.
type Coordinator struct {
	client       ControlPlane
	prompter     Prompter
	notifier     Notifier
	pollInterval time.Duration
	approvalTTL  time.Duration
	promptTTL    time.Duration
	now          func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPrompter attaches a local prompter. Without one, or with a
// non-interactive one, decisions must arrive through the HTTP API.
func WithPrompter(p Prompter) Option {
	return func(c *Coordinator) { c.prompter = p }
}

// WithNotifier attaches an event sink for approval and prompt events.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithPollInterval overrides the resolution poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// NewCoordinator creates a Coordinator over a control-plane client.
func NewCoordinator(client ControlPlane, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:       client,
		pollInterval: DefaultPollInterval,
		approvalTTL:  DefaultApprovalTTL,
		promptTTL:    DefaultPromptTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToolContextHash fingerprints one tool invocation. The hash is computed
// once, before the operator sees the request, and carried verbatim into
// the resolve call so a decision can never land on different input.
func ToolContextHash(runID string, turn int, toolName string, input map[string]any) (string, error) {
	canon, err := utils.StableStringify(input)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize tool input: %w", err)
	}
	return utils.HashFields(runID, strconv.Itoa(turn), toolName, canon), nil
}

// RequestRunApproval gates the start of a run. It blocks until the
// operator decides; a rejection cancels the run at the caller.
func (c *Coordinator) RequestRunApproval(ctx context.Context, runID, reason string) error {
	approval, err := c.client.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID:  runID,
		Scope:  controlplane.ScopeRun,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to create run approval: %w", err)
	}
	c.notify("approval.requested", map[string]any{
		"approvalId": approval.ID,
		"scope":      string(controlplane.ScopeRun),
		"reason":     reason,
	})
	return c.await(ctx, approval, "")
}

// ToolApprovalRequest describes the tool invocation needing approval.
type ToolApprovalRequest struct {
	RunID    string
	Turn     int
	ToolName string
	Input    map[string]any
	Reason   string
}

// RequestToolApproval gates one tool invocation. The approval carries
// the canonical input and its context hash, expires after ten minutes,
// and anything other than an explicit approve is a denial.
func (c *Coordinator) RequestToolApproval(ctx context.Context, req ToolApprovalRequest) error {
	canon, err := utils.StableStringify(req.Input)
	if err != nil {
		return fmt.Errorf("failed to canonicalize tool input: %w", err)
	}
	hash := utils.HashFields(req.RunID, strconv.Itoa(req.Turn), req.ToolName, canon)

	expires := c.now().Add(c.approvalTTL)
	approval, err := c.client.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID:       req.RunID,
		Scope:       controlplane.ScopeTool,
		Reason:      req.Reason,
		ToolName:    req.ToolName,
		ToolInput:   json.RawMessage(canon),
		ContextHash: hash,
		ExpiresAt:   &expires,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool approval: %w", err)
	}
	c.notify("approval.requested", map[string]any{
		"approvalId": approval.ID,
		"scope":      string(controlplane.ScopeTool),
		"tool":       req.ToolName,
		"turn":       req.Turn,
	})
	return c.await(ctx, approval, hash)
}

// await resolves an approval locally when a human is on the terminal,
// otherwise polls until a remote operator decides or the window closes.
func (c *Coordinator) await(ctx context.Context, approval *controlplane.Approval, hash string) error {
	if c.prompter != nil && c.prompter.Interactive() {
		decided, err := c.resolveLocally(ctx, approval, hash)
		if decided {
			return err
		}
	}
	return c.pollApproval(ctx, approval.ID, hash)
}

// resolveLocally prompts on the terminal and pushes the decision through
// the same resolve endpoint a remote operator would use. The first
// return value reports whether the decision is final; false falls back
// to polling.
func (c *Coordinator) resolveLocally(ctx context.Context, approval *controlplane.Approval, hash string) (bool, error) {
	var input string
	if len(approval.ToolInput) > 0 {
		input = string(approval.ToolInput)
	}
	approved, err := c.prompter.Confirm(ctx, ConfirmRequest{
		RunID:     approval.RunID,
		Scope:     approval.Scope,
		Reason:    approval.Reason,
		ToolName:  approval.ToolName,
		ToolInput: input,
		ExpiresAt: approval.ExpiresAt,
	})
	if err != nil {
		slog.Warn("Terminal prompt failed, waiting for remote resolution",
			"approval_id", approval.ID, "error", err)
		return false, nil
	}

	slog.Info("Operator approval decision",
		"approval_id", approval.ID,
		"run_id", approval.RunID,
		"approved", approved)

	_, err = c.client.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{
		Approved:            approved,
		ExpectedContextHash: hash,
	})
	if reason, ok := controlplane.ConflictReason(err); ok {
		switch reason {
		case controlplane.ResolveAlreadyResolved:
			// Raced a remote operator; their decision stands.
			return false, nil
		case controlplane.ResolveExpired:
			return true, c.denied(approval, ErrApprovalExpired)
		default:
			return true, fmt.Errorf("approval %s: %s", approval.ID, reason)
		}
	}
	if err != nil {
		return true, fmt.Errorf("failed to resolve approval %s: %w", approval.ID, err)
	}
	if !approved {
		return true, c.denied(approval, ErrApprovalRejected)
	}
	c.notify("approval.resolved", map[string]any{
		"approvalId": approval.ID, "approved": true,
	})
	return true, nil
}

// pollApproval waits for a resolution. A pending approval past its
// window is force-resolved as a rejection so the denial is durable, not
// just observed.
func (c *Coordinator) pollApproval(ctx context.Context, id, hash string) error {
	for {
		approval, err := c.client.GetApproval(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to poll approval %s: %w", id, err)
		}

		switch approval.Status {
		case controlplane.ApprovalApproved:
			c.notify("approval.resolved", map[string]any{
				"approvalId": id, "approved": true,
			})
			return nil
		case controlplane.ApprovalRejected:
			return c.denied(approval, ErrApprovalRejected)
		}

		if approval.ExpiresAt != nil && c.now().After(*approval.ExpiresAt) {
			_, rerr := c.client.ResolveApproval(ctx, id, controlplane.ResolveApprovalRequest{
				Approved:            false,
				ExpectedContextHash: hash,
			})
			if reason, ok := controlplane.ConflictReason(rerr); ok && reason == controlplane.ResolveAlreadyResolved {
				continue
			}
			if rerr != nil {
				if reason, ok := controlplane.ConflictReason(rerr); !ok || reason != controlplane.ResolveExpired {
					return fmt.Errorf("failed to expire approval %s: %w", id, rerr)
				}
			}
			return c.denied(approval, ErrApprovalExpired)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Coordinator) denied(approval *controlplane.Approval, cause error) error {
	c.notify("approval.resolved", map[string]any{
		"approvalId": approval.ID, "approved": false, "cause": cause.Error(),
	})
	if approval.Scope == controlplane.ScopeTool {
		return fmt.Errorf("tool %s: %w", approval.ToolName, cause)
	}
	return fmt.Errorf("run %s: %w", approval.RunID, cause)
}

// VerifyResumable blocks a resume or retry while operator decisions are
// unsettled: a tool approval still pending inside its window, or an
// approval that was granted but whose window has since closed.
func (c *Coordinator) VerifyResumable(ctx context.Context, runID string) error {
	approvals, err := c.client.ListApprovals(ctx, controlplane.ListApprovalsOptions{RunID: runID})
	if err != nil {
		return fmt.Errorf("failed to list approvals for run %s: %w", runID, err)
	}
	now := c.now()
	for _, approval := range approvals {
		if approval.Scope == controlplane.ScopeTool &&
			approval.Status == controlplane.ApprovalPending {
			if approval.ExpiresAt == nil || now.Before(*approval.ExpiresAt) {
				return fmt.Errorf("approval %s for tool %s: %w",
					approval.ID, approval.ToolName, ErrPendingApprovals)
			}
			continue
		}
		if approval.Status == controlplane.ApprovalApproved &&
			approval.ExpiresAt != nil && now.After(*approval.ExpiresAt) {
			return fmt.Errorf("approval %s for tool %s: %w",
				approval.ID, approval.ToolName, ErrStaleApproval)
		}
	}
	return nil
}

// UserPromptRequest is an ask_user question bound to its run and turn.
type UserPromptRequest struct {
	RunID    string
	ThreadID string
	Turn     int
	Question string
}

// AskUser relays an ask_user tool call: persist the prompt, collect the
// answer locally or remotely, and return the tool-result string. The
// poll respects run cancellation at every tick.
func (c *Coordinator) AskUser(ctx context.Context, req UserPromptRequest) (string, error) {
	prompt, err := c.client.CreatePrompt(ctx, controlplane.CreatePromptRequest{
		RunID:      req.RunID,
		ThreadID:   req.ThreadID,
		TurnNumber: req.Turn,
		PromptText: req.Question,
		ExpiresAt:  c.now().Add(c.promptTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create user prompt: %w", err)
	}
	c.notify("ask_user", map[string]any{
		"promptId": prompt.PromptID,
		"question": req.Question,
	})

	if c.prompter != nil && c.prompter.Interactive() {
		if text, perr := c.prompter.Ask(ctx, req.Question); perr == nil {
			if _, aerr := c.client.AnswerPrompt(ctx, prompt.PromptID, controlplane.AnswerPromptRequest{
				ResponseText: text,
			}); aerr != nil {
				slog.Warn("Failed to record terminal answer, waiting for remote one",
					"prompt_id", prompt.PromptID, "error", aerr)
			}
		}
	}

	return c.pollPrompt(ctx, prompt.PromptID)
}

func (c *Coordinator) pollPrompt(ctx context.Context, promptID string) (string, error) {
	for {
		prompt, err := c.client.GetPrompt(ctx, promptID)
		if err != nil {
			return "", fmt.Errorf("failed to poll prompt %s: %w", promptID, err)
		}

		switch prompt.Status {
		case controlplane.PromptAnswered:
			return "Operator answer: " + prompt.ResponseText, nil
		case controlplane.PromptExpired:
			return "", fmt.Errorf("prompt %s: %w", promptID, ErrPromptExpired)
		case controlplane.PromptCancelled:
			return "", fmt.Errorf("prompt %s: %w", promptID, ErrPromptCancelled)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Coordinator) notify(eventType string, payload map[string]any) {
	if c.notifier != nil {
		c.notifier(eventType, payload)
	}
}
