package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/autoagent/autoagent/pkg/checkpoint"
	"github.com/autoagent/autoagent/pkg/controlplane"
)

// finalWriteTimeout bounds the terminal persistence of a failed run,
// which happens after the run context is already cancelled.
const finalWriteTimeout = 15 * time.Second

// Promotion verdicts compare the aggregate score against this criterion.
const (
	promotionCriterion = "aggregate_score"
	promotionThreshold = 0.7
)

// Result is the outcome of a finished run.
type Result struct {
	RunID       string
	Status      controlplane.RunStatus
	Summary     string
	FinalText   string
	Score       float64
	Stats       controlplane.ExecutionStats
	Duration    time.Duration
	Suggestions []Suggestion
}

// Suggestion is one follow-up the operator can launch after a run.
type Suggestion struct {
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	ObjectiveHint string `json:"objectiveHint"`
}

// finalizeRun scores the execution, raises the routing-mode baseline,
// persists the verdicts in parallel, clears the checkpoint and emits the
// completion events.
func (a *Agent) finalizeRun(ctx context.Context, rt *runtime, finalText string) (*Result, error) {
	duration := a.since(rt.started)
	rt.stats.ReflectionNotes = appendNote(rt.stats.ReflectionNotes, firstLine(finalText))

	finalizing := checkpoint.NewState(rt.runID, rt.input).
		WithTurn(rt.turn).
		WithStats(rt.stats).
		WithMarker(controlplane.MarkerFinalizing).
		Build()
	if err := rt.checkpoints.Save(ctx, finalizing); err != nil {
		slog.Warn("Finalizing state write failed", "run_id", rt.runID, "error", err)
	}

	score := ScoreExecution(ScoreInput{
		OutputText:        finalText,
		ExpectedFragments: rt.expectedFragments,
		Latency:           duration,
		OutputTokens:      rt.stats.TotalOutputTokens,
		SafetyViolations:  rt.stats.SafetyViolations,
	})
	baseline := a.raiseBaseline(a.routingMode, score)
	summary := runSummary(rt.input, finalText)

	rt.traces.Append(rt.runID, "run.completed", map[string]any{
		"turns":      rt.turn,
		"score":      score,
		"baseline":   baseline,
		"durationMs": duration.Milliseconds(),
	})

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		_, err := a.client.CreatePromotionEvaluation(ctx, controlplane.PromotionEvaluation{
			RunID:     rt.runID,
			Criterion: promotionCriterion,
			Threshold: promotionThreshold,
			Score:     score,
			Passed:    score >= promotionThreshold,
		})
		if err != nil {
			slog.Warn("Promotion evaluation write failed", "run_id", rt.runID, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		err := a.client.RecordModelPerformance(ctx, controlplane.ModelPerformance{
			ProviderID:     a.providerID,
			Model:          a.provider.Model(),
			RoutingMode:    a.routingMode,
			Success:        true,
			LatencyMs:      duration.Milliseconds(),
			AggregateScore: score,
		})
		if err != nil {
			slog.Warn("Model performance write failed", "run_id", rt.runID, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		a.setRunStatus(ctx, rt, controlplane.RunCompleted, summary)
	}()
	go func() {
		defer wg.Done()
		rt.wait()
	}()
	wg.Wait()

	if err := rt.checkpoints.Clear(ctx, rt.runID); err != nil {
		slog.Warn("Checkpoint clear failed", "run_id", rt.runID, "error", err)
	}

	a.recorder.RecordRun(ctx, string(controlplane.RunCompleted), duration)
	a.emit(Event{Type: EventCompleted, RunID: rt.runID, Turn: rt.turn, Message: finalText, Detail: map[string]any{
		"score":      score,
		"durationMs": duration.Milliseconds(),
	}})

	suggestions := FollowUpSuggestions(rt.input, rt.stats.ReflectionNotes)
	a.emit(Event{Type: EventSuggestions, RunID: rt.runID, Detail: map[string]any{
		"suggestions": suggestions,
	}})

	return &Result{
		RunID:       rt.runID,
		Status:      controlplane.RunCompleted,
		Summary:     summary,
		FinalText:   finalText,
		Score:       score,
		Stats:       rt.stats,
		Duration:    duration,
		Suggestions: suggestions,
	}, nil
}

// failRun persists a terminal failure: the run.error trace, the
// execution state with its last error, a failed model-performance
// sample and the run status. Cancellation persists as aborted, anything
// else as failed. The writes use a detached context because the run
// context is typically already dead here.
func (a *Agent) failRun(rt *runtime, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	aborted := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	duration := a.since(rt.started)

	rt.traces.Append(rt.runID, "run.error", map[string]any{"message": cause.Error()})

	// Rebuild from the stored snapshot when one exists so the replay
	// boundary survives and a failed run stays resumable.
	builder := checkpoint.NewState(rt.runID, rt.input)
	if state, err := rt.checkpoints.Load(ctx, rt.runID); err == nil && state != nil {
		builder = checkpoint.FromState(*state)
	}
	builder = builder.WithTurn(rt.turn).WithStats(rt.stats).WithError(cause)
	if aborted {
		builder = builder.WithPhase(controlplane.PhaseAborted)
	}
	if err := rt.checkpoints.Save(ctx, builder.Build()); err != nil {
		slog.Warn("Failure state write failed", "run_id", rt.runID, "error", err)
	}

	if err := a.client.RecordModelPerformance(ctx, controlplane.ModelPerformance{
		ProviderID:  a.providerID,
		Model:       a.provider.Model(),
		RoutingMode: a.routingMode,
		Success:     false,
		LatencyMs:   duration.Milliseconds(),
	}); err != nil {
		slog.Warn("Model performance write failed", "run_id", rt.runID, "error", err)
	}

	status := controlplane.RunFailed
	if aborted {
		status = controlplane.RunCancelled
	}
	a.setRunStatus(ctx, rt, status, failureSummary(cause))
	a.emit(Event{Type: EventError, RunID: rt.runID, Turn: rt.turn, Message: cause.Error()})
	a.recorder.RecordRun(ctx, string(status), duration)

	rt.wait()
}

// rejectRun terminates a run whose start the operator declined. Nothing
// has executed yet, so there is no state to preserve.
func (a *Agent) rejectRun(rt *runtime, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	rt.traces.Append(rt.runID, "run.rejected", map[string]any{"reason": cause.Error()})
	a.setRunStatus(ctx, rt, controlplane.RunCancelled, "operator rejected the run")
	a.emit(Event{Type: EventError, RunID: rt.runID, Message: cause.Error()})
	a.recorder.RecordRun(ctx, string(controlplane.RunCancelled), a.since(rt.started))
	rt.wait()

	return fmt.Errorf("run %s was not approved: %w", rt.runID, cause)
}

// FollowUpSuggestions proposes the three standard follow-up runs. The
// objective hint folds in the first reflection note so a follow-up keeps
// the thread of what the run learned.
func FollowUpSuggestions(objective string, notes []string) []Suggestion {
	subject := threadTitle(objective)
	if subject == "" {
		subject = "the previous run"
	}
	focus := ""
	if len(notes) > 0 {
		focus = " Focus: " + notes[0]
	}

	return []Suggestion{
		{
			Kind:          "fix_gaps",
			Title:         "Close remaining gaps",
			ObjectiveHint: fmt.Sprintf("Review the work done for %q and finish anything incomplete.%s", subject, focus),
		},
		{
			Kind:          "add_verification",
			Title:         "Add verification",
			ObjectiveHint: fmt.Sprintf("Add tests or checks covering the changes made for %q.%s", subject, focus),
		},
		{
			Kind:          "optimize",
			Title:         "Optimize the result",
			ObjectiveHint: fmt.Sprintf("Simplify and optimize the solution produced for %q.%s", subject, focus),
		},
	}
}

// runSummary is the first 200 characters of the objective; a run with
// no recorded objective falls back to its final text.
func runSummary(objective, finalText string) string {
	summary := strings.TrimSpace(objective)
	if summary == "" {
		summary = strings.TrimSpace(finalText)
	}
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return summary
}
