package store

import (
	"context"
	"fmt"
)

// schemaStatements returns the DDL for all control-plane tables. Column
// types are restricted to the subset sqlite, postgres and mysql share;
// only the auto-increment primary key needs a per-dialect spelling.
func (s *Store) schemaStatements() []string {
	serial := s.serialPrimaryKey()
	return []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id VARCHAR(64) PRIMARY KEY,
			project_id VARCHAR(255) NOT NULL,
			objective TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS traces (
			id %s,
			run_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			payload TEXT,
			created_at TIMESTAMP NOT NULL
		)`, serial),
		`CREATE TABLE IF NOT EXISTS approvals (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			scope VARCHAR(16) NOT NULL,
			reason TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			tool_name VARCHAR(255),
			tool_input TEXT,
			context_hash VARCHAR(64),
			expires_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			title TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS thread_messages (
			id %s,
			thread_id VARCHAR(64) NOT NULL,
			role VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			tool_call_id VARCHAR(128),
			turn_number INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, serial),
		`CREATE TABLE IF NOT EXISTS user_prompts (
			prompt_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			thread_id VARCHAR(64),
			turn_number INTEGER NOT NULL,
			prompt_text TEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			response_text TEXT,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_state (
			run_id VARCHAR(64) PRIMARY KEY,
			phase VARCHAR(32) NOT NULL,
			turn INTEGER NOT NULL,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verification_artifacts (
			artifact_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			verification_type VARCHAR(32) NOT NULL,
			artifact_type VARCHAR(64) NOT NULL,
			artifact_content TEXT,
			verification_result VARCHAR(16) NOT NULL,
			checks TEXT,
			verified_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS model_performance (
			id %s,
			provider_id VARCHAR(64) NOT NULL,
			model VARCHAR(255) NOT NULL,
			routing_mode VARCHAR(64) NOT NULL,
			success BOOLEAN NOT NULL,
			latency_ms BIGINT NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL,
			aggregate_score DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, serial),
		`CREATE TABLE IF NOT EXISTS promotion_evaluations (
			evaluation_id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			criterion VARCHAR(64) NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			passed BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_cache (
			cache_key VARCHAR(64) PRIMARY KEY,
			provider VARCHAR(32) NOT NULL,
			model VARCHAR(255) NOT NULL,
			response TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY,
			document TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			base_url VARCHAR(512),
			model VARCHAR(255) NOT NULL,
			api_key_ref VARCHAR(255),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
}

// serialPrimaryKey is the auto-increment id column definition for the
// active dialect.
func (s *Store) serialPrimaryKey() string {
	switch s.dialect {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// initSchema creates missing tables. Statements run one at a time since
// the mysql driver rejects multi-statement Exec by default.
func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
