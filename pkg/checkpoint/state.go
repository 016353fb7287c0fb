// Package checkpoint persists and restores run execution state through
// the control plane. A snapshot is written after every turn that
// produced tool results; its replay boundary carries a content hash so
// a later resume can prove it continues from exactly the state it
// loaded. Snapshots without that proof are refused rather than resumed
// on a guess.
package checkpoint

import (
	"errors"
	"strconv"
	"time"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/utils"
)

// Checkpoint reasons recorded in the descriptor and replay boundary.
const (
	// ReasonToolResult marks the routine end-of-turn checkpoint taken
	// after tool results were appended to the conversation.
	ReasonToolResult = "tool_result"

	// ReasonApprovalWait marks a checkpoint taken before blocking on an
	// operator approval, so a restart can pick up the paused run.
	ReasonApprovalWait = "approval_wait"
)

// Resume and retry decision errors.
var (
	ErrNoState               = errors.New("no persisted execution state")
	ErrRunCompleted          = errors.New("run already completed")
	ErrRunAborted            = errors.New("run was aborted")
	ErrNoCheckpoint          = errors.New("no checkpoint to resume from")
	ErrMissingReplayBoundary = errors.New("checkpoint has no replay boundary")
	ErrBoundaryMismatch      = errors.New("replay boundary does not match checkpoint")
)

// ContextHash fingerprints a replay boundary. Two boundaries hash equal
// only when run, turn, reason and conversation length all match.
func ContextHash(runID string, turn int, reason string, messageCount int) string {
	return utils.HashFields(runID, strconv.Itoa(turn), reason, strconv.Itoa(messageCount))
}

// Builder assembles an execution-state snapshot field by field.
type Builder struct {
	state controlplane.ExecutionState
}

// NewState starts a snapshot for a run that just began executing.
func NewState(runID, input string) *Builder {
	return &Builder{state: controlplane.ExecutionState{
		RunID:       runID,
		Phase:       controlplane.PhaseRunning,
		PhaseMarker: controlplane.MarkerPlanning,
		Input:       input,
	}}
}

// FromState continues building from an existing snapshot, preserving
// its checkpoint and replay boundary.
func FromState(state controlplane.ExecutionState) *Builder {
	return &Builder{state: state}
}

// WithTurn sets the turn the snapshot was taken at.
func (b *Builder) WithTurn(turn int) *Builder {
	b.state.Turn = turn
	return b
}

// WithMarker sets the phase marker.
func (b *Builder) WithMarker(marker string) *Builder {
	b.state.PhaseMarker = marker
	return b
}

// WithPhase overrides the phase, for abort and completion snapshots.
func (b *Builder) WithPhase(phase string) *Builder {
	b.state.Phase = phase
	return b
}

// WithStats sets the accumulated execution stats.
func (b *Builder) WithStats(stats controlplane.ExecutionStats) *Builder {
	b.state.Stats = stats
	return b
}

// WithError marks the snapshot failed and records the error message.
// A nil error leaves the snapshot unchanged.
func (b *Builder) WithError(err error) *Builder {
	if err != nil {
		b.state.Phase = controlplane.PhaseFailed
		b.state.LastError = err.Error()
	}
	return b
}

// WithCheckpoint records a checkpoint taken at the current turn together
// with the replay boundary that makes it resumable. Call after WithTurn
// so the boundary lands on the right turn.
func (b *Builder) WithCheckpoint(reason string, messageCount int) *Builder {
	now := time.Now().UTC()
	b.state.Phase = controlplane.PhaseCheckpointed
	b.state.PhaseMarker = controlplane.MarkerExecuting
	b.state.Checkpoint = &controlplane.CheckpointDescriptor{
		At:           now,
		Reason:       reason,
		MessageCount: messageCount,
	}
	b.state.ReplayBoundary = &controlplane.ReplayBoundary{
		Turn:        b.state.Turn,
		Reason:      reason,
		ContextHash: ContextHash(b.state.RunID, b.state.Turn, reason, messageCount),
		CreatedAt:   now,
	}
	return b
}

// Build returns the assembled snapshot.
func (b *Builder) Build() controlplane.ExecutionState {
	return b.state
}

// CanResume reports whether a run may continue from the persisted
// state. Completed and aborted runs never resume. Anything else needs a
// checkpoint whose replay boundary hashes back to the same content,
// otherwise the resume would not be deterministic.
func CanResume(state *controlplane.ExecutionState) error {
	if state == nil {
		return ErrNoState
	}
	switch state.Phase {
	case controlplane.PhaseCompleted:
		return ErrRunCompleted
	case controlplane.PhaseAborted:
		return ErrRunAborted
	}
	if state.Checkpoint == nil {
		return ErrNoCheckpoint
	}
	if state.ReplayBoundary == nil {
		return ErrMissingReplayBoundary
	}
	want := ContextHash(state.RunID, state.ReplayBoundary.Turn,
		state.ReplayBoundary.Reason, state.Checkpoint.MessageCount)
	if state.ReplayBoundary.ContextHash != want {
		return ErrBoundaryMismatch
	}
	return nil
}

// CanRetry reports whether a run may be re-entered from scratch with
// its original input. Turn count and stats are discarded on retry, so
// only terminal-by-decision phases block it.
func CanRetry(state *controlplane.ExecutionState) error {
	if state == nil {
		return ErrNoState
	}
	switch state.Phase {
	case controlplane.PhaseCompleted:
		return ErrRunCompleted
	case controlplane.PhaseAborted:
		return ErrRunAborted
	}
	return nil
}
