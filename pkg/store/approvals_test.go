package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

func createToolApproval(t *testing.T, s *Store, runID, hash string, expiresAt *time.Time) *controlplane.Approval {
	t.Helper()
	approval, err := s.CreateApproval(context.Background(), controlplane.CreateApprovalRequest{
		RunID:       runID,
		Scope:       controlplane.ScopeTool,
		Reason:      "write_file requires approval",
		ToolName:    "write_file",
		ToolInput:   json.RawMessage(`{"path":"a.txt"}`),
		ContextHash: hash,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	return approval
}

func TestApprovalResolveApproved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	expires := time.Now().UTC().Add(10 * time.Minute)
	approval := createToolApproval(t, s, "run-1", "hash-1", &expires)
	assert.Equal(t, controlplane.ApprovalPending, approval.Status)

	resolved, err := s.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{
		Approved:            true,
		ExpectedContextHash: "hash-1",
	})
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalApproved, resolved.Status)

	got, err := s.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalApproved, got.Status)
	assert.Equal(t, "write_file", got.ToolName)
	assert.JSONEq(t, `{"path":"a.txt"}`, string(got.ToolInput))
}

func TestApprovalResolveRejected(t *testing.T) {
	s := openTestStore(t)
	approval := createToolApproval(t, s, "run-1", "", nil)

	resolved, err := s.ResolveApproval(context.Background(), approval.ID,
		controlplane.ResolveApprovalRequest{Approved: false})
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalRejected, resolved.Status)
}

func TestApprovalResolveTwice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	approval := createToolApproval(t, s, "run-1", "", nil)

	_, err := s.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{Approved: true})
	require.NoError(t, err)
	_, err = s.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{Approved: true})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestApprovalResolveExpiredAutoRejects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	approval := createToolApproval(t, s, "run-1", "hash-1", &past)

	_, err := s.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{Approved: true})
	assert.ErrorIs(t, err, ErrExpired)

	got, err := s.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalRejected, got.Status)
}

func TestApprovalResolveContextMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	approval := createToolApproval(t, s, "run-1", "hash-1", nil)

	_, err := s.ResolveApproval(ctx, approval.ID, controlplane.ResolveApprovalRequest{
		Approved:            true,
		ExpectedContextHash: "hash-other",
	})
	assert.ErrorIs(t, err, ErrContextMismatch)

	// A mismatch leaves the approval pending for a corrected resolve.
	got, err := s.GetApproval(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, controlplane.ApprovalPending, got.Status)
}

func TestApprovalResolveNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ResolveApproval(context.Background(), "missing",
		controlplane.ResolveApprovalRequest{Approved: true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListApprovalsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1 := createToolApproval(t, s, "run-1", "", nil)
	createToolApproval(t, s, "run-1", "", nil)
	createToolApproval(t, s, "run-2", "", nil)
	_, err := s.ResolveApproval(ctx, a1.ID, controlplane.ResolveApprovalRequest{Approved: true})
	require.NoError(t, err)

	all, err := s.ListApprovals(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byRun, err := s.ListApprovals(ctx, "run-1", "")
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	pending, err := s.ListApprovals(ctx, "run-1", controlplane.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEqual(t, a1.ID, pending[0].ID)

	approved, err := s.ListApprovals(ctx, "", controlplane.ApprovalApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a1.ID, approved[0].ID)
}

func TestCreateApprovalValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		Scope: controlplane.ScopeRun,
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.CreateApproval(ctx, controlplane.CreateApprovalRequest{
		RunID: "run-1",
		Scope: "project",
	})
	assert.ErrorIs(t, err, ErrInvalid)
}
