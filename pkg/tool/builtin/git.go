package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/tool/functiontool"
)

// The git tools shell out to the project's git binary through the same
// capture machinery as run_command, so they share its timeout and
// output caps and report results in the same exit transcript form.

type gitStatusArgs struct{}

func newGitStatusTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "git_status",
		Description: "Show the working tree status in porcelain form.",
	}, func(ctx context.Context, _ gitStatusArgs) (string, error) {
		return runCaptured(ctx, root, defaultCommandTimeout, "git", "status", "--porcelain")
	})
}

type gitDiffArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Limit the diff to one path relative to the project root"`
}

func newGitDiffTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "git_diff",
		Description: "Show unstaged changes in the working tree, optionally limited to one path.",
	}, func(ctx context.Context, args gitDiffArgs) (string, error) {
		argv := []string{"git", "diff"}
		if args.Path != "" {
			resolved, err := resolvePath(root, args.Path)
			if err != nil {
				return "", err
			}
			argv = append(argv, "--", displayPath(root, resolved))
		}
		return runCaptured(ctx, root, defaultCommandTimeout, argv...)
	})
}

type gitCommitArgs struct {
	Message string `json:"message" jsonschema:"required,description=Commit message"`
}

func newGitCommitTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "git_commit",
		Description: "Stage all changes and commit them with the given message.",
	}, func(ctx context.Context, args gitCommitArgs) (string, error) {
		message := strings.TrimSpace(args.Message)
		if message == "" {
			return "", fmt.Errorf("commit message is required")
		}

		addResult, err := runCaptured(ctx, root, defaultCommandTimeout, "git", "add", "-A")
		if err != nil {
			return "", err
		}
		if exitCodeOf(addResult) != 0 {
			return addResult, nil
		}
		return runCaptured(ctx, root, defaultCommandTimeout, "git", "commit", "-m", message)
	})
}
