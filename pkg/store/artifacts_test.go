package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/validator"
)

func TestArtifactRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateArtifact(ctx, controlplane.VerificationArtifact{
		RunID:              "run-1",
		VerificationType:   string(validator.VerificationCommand),
		ArtifactType:       "command_transcript",
		ArtifactContent:    "exit 0\nok\n",
		VerificationResult: controlplane.VerificationPass,
		Checks: []validator.Check{
			{Name: "exit_code", Passed: true, Detail: "exit 0"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ArtifactID)
	assert.False(t, created.VerifiedAt.IsZero())

	artifacts, err := s.ArtifactsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, created.ArtifactID, artifacts[0].ArtifactID)
	assert.Equal(t, "exit 0\nok\n", artifacts[0].ArtifactContent)
	require.Len(t, artifacts[0].Checks, 1)
	assert.Equal(t, "exit_code", artifacts[0].Checks[0].Name)
	assert.True(t, artifacts[0].Checks[0].Passed)
}

func TestArtifactWithoutChecks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateArtifact(ctx, controlplane.VerificationArtifact{
		RunID:              "run-1",
		VerificationType:   string(validator.VerificationGeneric),
		ArtifactType:       "tool_result",
		VerificationResult: controlplane.VerificationPending,
	})
	require.NoError(t, err)

	artifacts, err := s.ArtifactsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Empty(t, artifacts[0].Checks)
}

func TestArtifactRequiresRunID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateArtifact(context.Background(), controlplane.VerificationArtifact{
		VerificationResult: controlplane.VerificationPass,
	})
	assert.ErrorIs(t, err, ErrInvalid)
}
