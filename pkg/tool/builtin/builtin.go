// Package builtin implements the file, search, command, and git tools
// the agent uses to work on a project.
//
// Every tool resolves paths against a single project root and refuses
// paths that escape it. Results are plain strings shaped for the model:
// file contents, match lists, or `exit N` command transcripts.
package builtin

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/autoagent/autoagent/pkg/tool"
)

const (
	// maxReadBytes caps read_file output.
	maxReadBytes = 32 * 1024

	// maxCaptureBytes caps each of a command's stdout and stderr.
	maxCaptureBytes = 1 << 20

	// maxSearchLines caps search_code match lines.
	maxSearchLines = 200

	// maxGlobEntries caps glob_files results.
	maxGlobEntries = 500

	// defaultCommandTimeout is the wall-clock limit for run_command
	// and the git tools, independent of the run's own deadline.
	defaultCommandTimeout = 30 * time.Second
)

// Register adds all builtin tools to the registry, rooted at projectRoot.
func Register(reg *tool.Registry, projectRoot string) error {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	tools := []tool.CallableTool{
		newReadFileTool(root),
		newWriteFileTool(root),
		newEditFileTool(root),
		newListDirectoryTool(root),
		newRunCommandTool(root, defaultCommandTimeout),
		newSearchCodeTool(root),
		newGlobFilesTool(root),
		newGitStatusTool(root),
		newGitDiffTool(root),
		newGitCommitTool(root),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
