package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenDefaultsToDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("AUTOAGENT_CONTROL_DB_PATH", "")
	t.Setenv("AUTOAGENT_DATA_DIR", dataDir)

	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dataDir, "control.db"))
	assert.NoError(t, err)
}

func TestOpenHonorsControlDBPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "cp.db")
	t.Setenv("AUTOAGENT_CONTROL_DB_PATH", dbPath)

	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPlaceholderRebind(t *testing.T) {
	pg := &Store{dialect: "postgres"}
	assert.Equal(t,
		"SELECT * FROM runs WHERE run_id = $1 AND status = $2",
		pg.q("SELECT * FROM runs WHERE run_id = ? AND status = ?"))

	lite := &Store{dialect: "sqlite"}
	assert.Equal(t,
		"SELECT * FROM runs WHERE run_id = ?",
		lite.q("SELECT * FROM runs WHERE run_id = ?"))
}

func TestEnsureParseTime(t *testing.T) {
	assert.Equal(t, "user:pw@/db?parseTime=true", ensureParseTime("user:pw@/db"))
	assert.Equal(t, "user:pw@/db?charset=utf8&parseTime=true", ensureParseTime("user:pw@/db?charset=utf8"))
	assert.Equal(t, "user:pw@/db?parseTime=true", ensureParseTime("user:pw@/db?parseTime=true"))
}

func TestPingAfterOpen(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
