package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/autoagent/autoagent/pkg/controlplane"
)

// The settings document is a single JSON row.
const settingsRowID = 1

// GetSettings returns the operator settings document, or the defaults
// when none has been saved yet.
func (s *Store) GetSettings(ctx context.Context) (*controlplane.Settings, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT document FROM settings
		WHERE id = ?`), settingsRowID).Scan(&doc)
	if err == sql.ErrNoRows {
		defaults := controlplane.DefaultSettings()
		return &defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	var settings controlplane.Settings
	if err := json.Unmarshal([]byte(doc), &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

// PutSettings replaces the settings document.
func (s *Store) PutSettings(ctx context.Context, settings controlplane.Settings) (*controlplane.Settings, error) {
	doc, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO settings (id, document, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE document = VALUES(document),
			updated_at = VALUES(updated_at)`
	default:
		query = `INSERT INTO settings (id, document, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET document = excluded.document,
			updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), settingsRowID, string(doc), s.now()); err != nil {
		return nil, fmt.Errorf("failed to store settings: %w", err)
	}
	return &settings, nil
}
