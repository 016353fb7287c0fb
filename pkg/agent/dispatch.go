package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/llms"
	"github.com/autoagent/autoagent/pkg/operator"
	"github.com/autoagent/autoagent/pkg/retry"
	"github.com/autoagent/autoagent/pkg/safety"
	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/validator"
)

const askUserToolName = "ask_user"

// invocationOutcome is one tool call's result plus the stat deltas it
// produced. Deltas are applied serially after the batch joins, so
// concurrent read-only invocations never touch shared counters.
type invocationOutcome struct {
	result            llms.ToolResult
	safetyViolations  int
	retries           int
	validationFailure bool
	fragments         []string
}

// dispatchToolCalls answers every tool call of one assistant turn:
// ask_user first, then read-only calls concurrently, then mutating calls
// serially in model order. Each call id is answered exactly once; a
// cancellation abandons the turn instead of returning partial results.
func (a *Agent) dispatchToolCalls(ctx context.Context, rt *runtime, calls []llms.ToolCall) ([]llms.ToolResult, error) {
	outcomes := make([]*invocationOutcome, len(calls))

	for _, call := range calls {
		rt.traces.Append(rt.runID, "tool_call", map[string]any{
			"id":    call.ID,
			"tool":  call.Name,
			"input": call.Input,
		})
		a.emit(Event{Type: EventToolCall, RunID: rt.runID, Turn: rt.turn, Message: call.Name, Detail: map[string]any{
			"id": call.ID,
		}})
	}

	var askUser, readOnly, mutating []int
	for i, call := range calls {
		switch {
		case call.Name == askUserToolName:
			askUser = append(askUser, i)
		case tool.IsReadOnly(call.Name):
			readOnly = append(readOnly, i)
		default:
			mutating = append(mutating, i)
		}
	}

	// The operator's answer may be the reason the rest of the turn makes
	// sense, so prompts go out before anything executes.
	for _, i := range askUser {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = a.askOperator(ctx, rt, calls[i])
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, i := range readOnly {
		group.Go(func() error {
			outcomes[i] = a.executeInvocation(groupCtx, rt, calls[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, i := range mutating {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = a.executeInvocation(ctx, rt, calls[i])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]llms.ToolResult, len(calls))
	for i, outcome := range outcomes {
		rt.stats.ActionCount++
		rt.stats.Retries += outcome.retries
		rt.stats.SafetyViolations += outcome.safetyViolations
		if outcome.validationFailure {
			rt.stats.ValidationFailures++
		}
		rt.expectedFragments = append(rt.expectedFragments, outcome.fragments...)
		results[i] = outcome.result

		// The trace keeps the complete result text; only the
		// conversation copy is truncated later.
		rt.traces.Append(rt.runID, "tool_result", map[string]any{
			"id":      outcome.result.ID,
			"tool":    calls[i].Name,
			"isError": outcome.result.IsError,
			"content": outcome.result.Content,
		})
		a.emit(Event{Type: EventToolResult, RunID: rt.runID, Turn: rt.turn, Detail: map[string]any{
			"id":      outcome.result.ID,
			"tool":    calls[i].Name,
			"isError": outcome.result.IsError,
		}})
	}
	return results, nil
}

// askOperator relays one ask_user call through the prompt coordinator.
// Expiry and cancellation come back as error results the model can see.
func (a *Agent) askOperator(ctx context.Context, rt *runtime, call llms.ToolCall) *invocationOutcome {
	question, _ := call.Input["question"].(string)
	answer, err := rt.coord.AskUser(ctx, operator.UserPromptRequest{
		RunID:    rt.runID,
		ThreadID: rt.threadID,
		Turn:     rt.turn,
		Question: question,
	})
	if err != nil {
		return &invocationOutcome{result: errorResult(call.ID, err.Error())}
	}
	return &invocationOutcome{result: llms.ToolResult{ID: call.ID, Content: answer}}
}

// executeInvocation runs one tool call through the safety pipeline:
// command inspection, egress policy, tool policy, operator approval where
// required, then the executor with tool-class retry and outcome
// validation. Every rejection is materialized as an error result rather
// than a run failure.
func (a *Agent) executeInvocation(ctx context.Context, rt *runtime, call llms.ToolCall) *invocationOutcome {
	out := &invocationOutcome{}
	profile, input := extractVerificationProfile(call.Input)

	if call.Name == "run_command" {
		command, _ := input["command"].(string)
		inspection := safety.InspectCommand(command)
		if inspection.Blocked() {
			a.recorder.RecordSafetyViolation(ctx, "inspector")
			out.safetyViolations++
			out.result = errorResult(call.ID, blockReason(inspection))
			return out
		}

		if inspection.NetworkSensitive || len(inspection.ExternalHosts) > 0 {
			egress := safety.EvaluateEgress(safety.EgressInput{
				Hosts:          inspection.ExternalHosts,
				Mode:           safety.EgressMode(rt.settings.EgressMode),
				AllowHosts:     rt.settings.AllowedHosts,
				ExceptionHosts: rt.settings.ExceptionHosts,
				CriticalRisk:   inspection.Risk == safety.RiskCritical,
			})
			switch egress.Decision {
			case safety.OutcomeDeny:
				a.recorder.RecordSafetyViolation(ctx, "egress")
				out.safetyViolations++
				out.result = errorResult(call.ID, "Egress denied: "+egress.Reason)
				return out
			case safety.OutcomeNeedsApproval:
				reason := "network egress to " + strings.Join(egress.BlockedHosts, ", ")
				if err := a.requestApproval(ctx, rt, call, input, reason); err != nil {
					a.recorder.RecordSafetyViolation(ctx, "egress")
					out.safetyViolations++
					out.result = errorResult(call.ID, "Egress not approved: "+err.Error())
					return out
				}
			}
		}
	}

	policy := rt.policy.Evaluate(call.Name, input)
	switch policy.Decision {
	case safety.OutcomeDeny:
		a.recorder.RecordSafetyViolation(ctx, "tool_policy")
		out.safetyViolations++
		out.result = errorResult(call.ID, policy.Reason)
		return out
	case safety.OutcomeNeedsApproval:
		if err := a.requestApproval(ctx, rt, call, input, policy.Reason); err != nil {
			a.recorder.RecordSafetyViolation(ctx, "approval")
			out.safetyViolations++
			out.result = errorResult(call.ID, "operator rejected "+call.Name+": "+err.Error())
			return out
		}
	}

	callable, ok := rt.registry.Get(call.Name)
	if !ok {
		err := fmt.Errorf("unknown tool %q", call.Name)
		a.recorder.RecordToolCall(ctx, call.Name, err)
		out.result = errorResult(call.ID, err.Error())
		return out
	}

	content, err := retry.DoWithResult(ctx, a.retrier, retry.StageTool, func(ctx context.Context) (string, error) {
		return callable.Call(ctx, input)
	}, func(attempt int, attemptErr error) {
		out.retries++
		rt.traces.Append(rt.runID, "execution.retry", map[string]any{
			"stage":   "tool",
			"tool":    call.Name,
			"attempt": attempt,
			"error":   attemptErr.Error(),
		})
	})
	a.recorder.RecordToolCall(ctx, call.Name, err)
	if err != nil {
		out.result = errorResult(call.ID, err.Error())
		return out
	}

	outcome := validator.Validate(ctx, validator.Input{
		ToolName:   call.Name,
		ToolInput:  input,
		ToolResult: content,
		ProjectDir: a.cfg.Agent.ProjectRoot,
	}, profile)
	if !outcome.OK {
		out.validationFailure = true
	}
	if profile != nil {
		out.fragments = append(out.fragments, profile.ExpectedOutputContains...)
		out.fragments = append(out.fragments, profile.MustContain...)
	}
	a.persistArtifact(rt, call.Name, content, outcome)

	out.result = llms.ToolResult{ID: call.ID, Content: content}
	return out
}

// requestApproval gates one invocation behind the operator. The context
// hash binds the decision to the input the tool will actually receive.
func (a *Agent) requestApproval(ctx context.Context, rt *runtime, call llms.ToolCall, input map[string]any, reason string) error {
	return rt.coord.RequestToolApproval(ctx, operator.ToolApprovalRequest{
		RunID:    rt.runID,
		Turn:     rt.turn,
		ToolName: call.Name,
		Input:    input,
		Reason:   reason,
	})
}

// extractVerificationProfile pops the embedded verificationProfile from
// a tool input. The profile is grading metadata for the validator and
// the run score; the tool itself never sees it.
func extractVerificationProfile(input map[string]any) (*validator.Profile, map[string]any) {
	raw, ok := input["verificationProfile"]
	if !ok {
		return nil, input
	}

	stripped := make(map[string]any, len(input)-1)
	for key, value := range input {
		if key != "verificationProfile" {
			stripped[key] = value
		}
	}

	var decoded struct {
		ExpectedOutputContains []string `mapstructure:"expectedOutputContains"`
		MustContain            []string `mapstructure:"mustContain"`
		MinBytes               int      `mapstructure:"minBytes"`
		QuickCheckCommand      string   `mapstructure:"quickCheckCommand"`
	}
	if err := mapstructure.Decode(raw, &decoded); err != nil {
		return nil, stripped
	}
	return &validator.Profile{
		ExpectedOutputContains: decoded.ExpectedOutputContains,
		MustContain:            decoded.MustContain,
		MinBytes:               decoded.MinBytes,
		QuickCheckCommand:      decoded.QuickCheckCommand,
	}, stripped
}

// persistArtifact stores the validation outcome without blocking the
// turn. Oversized artifact content is truncated like conversation copies.
func (a *Agent) persistArtifact(rt *runtime, toolName, content string, outcome validator.Outcome) {
	artifact := controlplane.VerificationArtifact{
		RunID:              rt.runID,
		VerificationType:   string(outcome.VerificationType),
		ArtifactType:       toolName,
		ArtifactContent:    truncateToolResult(content),
		VerificationResult: verificationResult(outcome),
		Checks:             outcome.Checks,
	}
	rt.async(func(ctx context.Context) {
		if _, err := a.client.CreateArtifact(ctx, artifact); err != nil {
			a.logDroppedWrite("artifact", rt.runID, err)
		}
	})
}

func verificationResult(outcome validator.Outcome) string {
	switch {
	case !outcome.OK:
		return controlplane.VerificationFail
	case outcome.Severity == validator.SeverityWarn:
		return controlplane.VerificationWarning
	default:
		return controlplane.VerificationPass
	}
}

func blockReason(inspection safety.Inspection) string {
	if len(inspection.Violations) > 0 {
		return "Blocked: " + strings.Join(inspection.Violations, "; ")
	}
	return "Blocked: risk level " + string(inspection.Risk)
}

func errorResult(id, message string) llms.ToolResult {
	return llms.ToolResult{ID: id, Content: "Error: " + message, IsError: true}
}
