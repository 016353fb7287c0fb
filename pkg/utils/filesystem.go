package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir ensures the data directory exists and returns its path.
// An empty basePath falls back to AUTOAGENT_DATA_DIR, then to ./.autoagent.
//
// The directory holds process-local durable state:
// - Control-plane database: {dataDir}/control.db
// - Log files opened via the --log-file flag when given a relative path
func EnsureDataDir(basePath string) (string, error) {
	dataDir := basePath
	if dataDir == "" {
		dataDir = os.Getenv("AUTOAGENT_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = filepath.Join(".", ".autoagent")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory at '%s': %w", dataDir, err)
	}

	return dataDir, nil
}
