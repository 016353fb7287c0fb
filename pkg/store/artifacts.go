package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// CreateArtifact stores one verification artifact. Checks are JSON in a
// TEXT column.
func (s *Store) CreateArtifact(ctx context.Context, artifact controlplane.VerificationArtifact) (*controlplane.VerificationArtifact, error) {
	if artifact.RunID == "" {
		return nil, fmt.Errorf("%w: runId is required", ErrInvalid)
	}
	if artifact.ArtifactID == "" {
		artifact.ArtifactID = uuid.New().String()
	}
	if artifact.VerifiedAt.IsZero() {
		artifact.VerifiedAt = s.now()
	}
	checks, err := json.Marshal(artifact.Checks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checks: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO verification_artifacts
		(artifact_id, run_id, verification_type, artifact_type, artifact_content,
		verification_result, checks, verified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		artifact.ArtifactID, artifact.RunID, artifact.VerificationType,
		artifact.ArtifactType, nullString(artifact.ArtifactContent),
		artifact.VerificationResult, string(checks), artifact.VerifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	return &artifact, nil
}

// ArtifactsByRun returns a run's artifacts in verification order.
func (s *Store) ArtifactsByRun(ctx context.Context, runID string) ([]controlplane.VerificationArtifact, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT artifact_id, run_id,
		verification_type, artifact_type, artifact_content, verification_result,
		checks, verified_at FROM verification_artifacts
		WHERE run_id = ? ORDER BY verified_at, artifact_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []controlplane.VerificationArtifact
	for rows.Next() {
		var artifact controlplane.VerificationArtifact
		var content, checks sql.NullString
		if err := rows.Scan(&artifact.ArtifactID, &artifact.RunID,
			&artifact.VerificationType, &artifact.ArtifactType, &content,
			&artifact.VerificationResult, &checks, &artifact.VerifiedAt); err != nil {
			return nil, fmt.Errorf("failed to read artifact: %w", err)
		}
		artifact.ArtifactContent = content.String
		if checks.Valid && checks.String != "" && checks.String != "null" {
			if err := json.Unmarshal([]byte(checks.String), &artifact.Checks); err != nil {
				return nil, fmt.Errorf("failed to decode checks: %w", err)
			}
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// DeleteArtifactsBefore removes artifacts older than the cutoff.
func (s *Store) DeleteArtifactsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM verification_artifacts
		WHERE verified_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep artifacts: %w", err)
	}
	return res.RowsAffected()
}
