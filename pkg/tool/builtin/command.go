package builtin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/tool/functiontool"
)

const timeoutExitCode = 124

type runCommandArgs struct {
	Command string `json:"command" jsonschema:"required,description=Single-line shell command to run in the project root"`
}

func newRunCommandTool(root string, timeout time.Duration) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "run_command",
		Description: "Run a single-line shell command in the project root. Output is capped at 1 MiB per stream and the command is killed after 30 seconds.",
	}, func(ctx context.Context, args runCommandArgs) (string, error) {
		command := strings.TrimSpace(args.Command)
		if command == "" {
			return "", fmt.Errorf("command is required")
		}
		if err := rejectUnsafeCommand(command); err != nil {
			return "", err
		}
		return runCaptured(ctx, root, timeout, "sh", "-c", command)
	})
}

// rejectUnsafeCommand refuses commands before spawn. Multi-line input
// and shell expansion would bypass the single-command inspection done
// upstream, so neither ever reaches the shell.
func rejectUnsafeCommand(command string) error {
	if strings.ContainsAny(command, "\n\r") {
		return fmt.Errorf("multi-line commands are not allowed, run one command at a time")
	}
	for _, marker := range []string{"$(", "`", "${"} {
		if strings.Contains(command, marker) {
			return fmt.Errorf("command expansion %q is not allowed", marker)
		}
	}
	return nil
}

// runCaptured runs argv in dir with a wall-clock timeout and returns a
// transcript of the form "exit N\n<stdout>\n<stderr>". The process runs
// with stdin closed. A timeout yields exit 124 with whatever output was
// captured; cancellation of the parent context is surfaced as an error.
func runCaptured(ctx context.Context, dir string, timeout time.Duration, argv ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	// Do not hang in Wait on children that inherit the pipes.
	cmd.WaitDelay = 5 * time.Second

	stdout := &tailBuffer{max: maxCaptureBytes}
	stderr := &tailBuffer{max: maxCaptureBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	exitCode := 0
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		exitCode = timeoutExitCode
	case err == nil:
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
		exitCode = exitErr.ExitCode()
	}

	return fmt.Sprintf("exit %d\n%s\n%s", exitCode, stdout.String(), stderr.String()), nil
}

// exitCodeOf extracts the exit code from a runCaptured transcript.
func exitCodeOf(transcript string) int {
	var code int
	if _, err := fmt.Sscanf(transcript, "exit %d", &code); err != nil {
		return -1
	}
	return code
}

// tailBuffer keeps the most recent max bytes written to it, so the end
// of a long build log survives the cap.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		keep := b.buf[len(b.buf)-b.max:]
		b.buf = append(b.buf[:0], keep...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
