package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/tool/functiontool"
)

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path to the file relative to the project root"`
}

func newReadFileTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "read_file",
		Description: "Read a file from the project. Large files are truncated to the first 32 KiB.",
	}, func(_ context.Context, args readFileArgs) (string, error) {
		resolved, err := resolvePath(root, args.Path)
		if err != nil {
			return "", err
		}

		f, err := os.Open(resolved)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory, use list_directory instead", args.Path)
		}

		data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
		}
		if info.Size() > maxReadBytes {
			return string(data) + fmt.Sprintf("\n[truncated: showing first %d bytes of %d total]", maxReadBytes, info.Size()), nil
		}
		return string(data), nil
	})
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path to write relative to the project root"`
	Content string `json:"content" jsonschema:"description=Full file content to write"`
}

func newWriteFileTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "write_file",
		Description: "Write a file in the project, creating parent directories as needed. Overwrites existing content.",
	}, func(_ context.Context, args writeFileArgs) (string, error) {
		resolved, err := resolvePath(root, args.Path)
		if err != nil {
			return "", err
		}
		if err := writeFileAtomic(resolved, []byte(args.Content)); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", args.Path, err)
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), displayPath(root, resolved)), nil
	})
}

// writeFileAtomic writes through a temp file in the target directory
// and renames it into place, so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

type editFileArgs struct {
	Path       string `json:"path" jsonschema:"required,description=Path to edit relative to the project root"`
	Search     string `json:"search" jsonschema:"required,description=Exact text to find in the file"`
	Replace    string `json:"replace" jsonschema:"description=Text to replace the match with"`
	ReplaceAll bool   `json:"replaceAll,omitempty" jsonschema:"description=Replace every occurrence instead of only the first"`
}

func newEditFileTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "edit_file",
		Description: "Replace literal text in a file. The search text must appear verbatim; replaces the first occurrence unless replaceAll is set.",
	}, func(_ context.Context, args editFileArgs) (string, error) {
		resolved, err := resolvePath(root, args.Path)
		if err != nil {
			return "", err
		}
		if args.Search == "" {
			return "", fmt.Errorf("search text is required")
		}

		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args.Path, err)
		}
		content := string(data)
		if !strings.Contains(content, args.Search) {
			return "", fmt.Errorf("search text not found in %s", args.Path)
		}

		var edited string
		var count int
		if args.ReplaceAll {
			count = strings.Count(content, args.Search)
			edited = strings.ReplaceAll(content, args.Search, args.Replace)
		} else {
			count = 1
			edited = strings.Replace(content, args.Search, args.Replace, 1)
		}
		if err := writeFileAtomic(resolved, []byte(edited)); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", args.Path, err)
		}

		rel := displayPath(root, resolved)
		if args.ReplaceAll {
			return fmt.Sprintf("Replaced %d occurrences in %s", count, rel), nil
		}
		return fmt.Sprintf("Replaced first occurrence in %s", rel), nil
	})
}

type listDirectoryArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the project root (defaults to the root)"`
}

func newListDirectoryTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "list_directory",
		Description: "List the entries of a project directory with file sizes.",
	}, func(_ context.Context, args listDirectoryArgs) (string, error) {
		path := args.Path
		if path == "" {
			path = "."
		}
		resolved, err := resolvePath(root, path)
		if err != nil {
			return "", err
		}

		entries, err := os.ReadDir(resolved)
		if err != nil {
			return "", fmt.Errorf("failed to list %s: %w", path, err)
		}
		if len(entries) == 0 {
			return "(empty directory)", nil
		}

		var sb strings.Builder
		for _, entry := range entries {
			if entry.IsDir() {
				fmt.Fprintf(&sb, "%s/\n", entry.Name())
				continue
			}
			info, err := entry.Info()
			if err != nil {
				fmt.Fprintf(&sb, "%s\n", entry.Name())
				continue
			}
			fmt.Fprintf(&sb, "%s (%d bytes)\n", entry.Name(), info.Size())
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	})
}
