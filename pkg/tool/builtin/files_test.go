package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoagent/autoagent/pkg/tool"
)

func mustCall(t *testing.T, ct tool.CallableTool, args map[string]any) string {
	t.Helper()
	result, err := ct.Call(context.Background(), args)
	require.NoError(t, err)
	return result
}

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "hello.txt", "hello world")

	result := mustCall(t, newReadFileTool(root), map[string]any{"path": "hello.txt"})
	assert.Equal(t, "hello world", result)
}

func TestReadFileTruncation(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("a"), 40000)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), content, 0o644))

	result := mustCall(t, newReadFileTool(root), map[string]any{"path": "big.txt"})
	marker := fmt.Sprintf("\n[truncated: showing first %d bytes of %d total]", maxReadBytes, 40000)
	require.True(t, strings.HasSuffix(result, marker))
	assert.Equal(t, maxReadBytes+len(marker), len(result))
	assert.Equal(t, strings.Repeat("a", maxReadBytes), strings.TrimSuffix(result, marker))
}

func TestReadFileExactCapNotMarked(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("b"), maxReadBytes)
	require.NoError(t, os.WriteFile(filepath.Join(root, "edge.txt"), content, 0o644))

	result := mustCall(t, newReadFileTool(root), map[string]any{"path": "edge.txt"})
	assert.Equal(t, maxReadBytes, len(result))
	assert.NotContains(t, result, "[truncated")
}

func TestReadFileMissing(t *testing.T) {
	root := t.TempDir()
	_, err := newReadFileTool(root).Call(context.Background(), map[string]any{"path": "nope.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.txt")
}

func TestReadFileDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	_, err := newReadFileTool(root).Call(context.Background(), map[string]any{"path": "sub"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestPathContainment(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside.txt")

	for _, path := range []string{"../outside.txt", "sub/../../outside.txt", outside} {
		_, err := newReadFileTool(root).Call(context.Background(), map[string]any{"path": path})
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "path_outside_project", path)
	}

	// Absolute paths inside the root are fine.
	inside := writeTestFile(t, root, "inside.txt", "ok")
	result := mustCall(t, newReadFileTool(root), map[string]any{"path": inside})
	assert.Equal(t, "ok", result)
}

func TestWriteFileCreatesParents(t *testing.T) {
	root := t.TempDir()

	result := mustCall(t, newWriteFileTool(root), map[string]any{
		"path":    "a/b/c.txt",
		"content": "hello",
	})
	assert.Equal(t, "Wrote 5 bytes to a/b/c.txt", result)

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteFileOverwrites(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "old content")

	mustCall(t, newWriteFileTool(root), map[string]any{"path": "f.txt", "content": "new"})

	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	mustCall(t, newWriteFileTool(root), map[string]any{"path": "f.txt", "content": "x"})

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())
}

func TestWriteFileRejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := newWriteFileTool(root).Call(context.Background(), map[string]any{
		"path":    "../evil.txt",
		"content": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path_outside_project")
}

func TestEditFileFirstOccurrence(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "foo bar foo")

	result := mustCall(t, newEditFileTool(root), map[string]any{
		"path":    "f.txt",
		"search":  "foo",
		"replace": "baz",
	})
	assert.Equal(t, "Replaced first occurrence in f.txt", result)

	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "baz bar foo", string(data))
}

func TestEditFileReplaceAll(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "foo bar foo")

	result := mustCall(t, newEditFileTool(root), map[string]any{
		"path":       "f.txt",
		"search":     "foo",
		"replace":    "baz",
		"replaceAll": true,
	})
	assert.Equal(t, "Replaced 2 occurrences in f.txt", result)

	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "baz bar baz", string(data))
}

func TestEditFileSearchNotFound(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "content")

	_, err := newEditFileTool(root).Call(context.Background(), map[string]any{
		"path":    "f.txt",
		"search":  "missing",
		"replace": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search text not found in f.txt")
}

func TestEditFileRequiresSearch(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "content")

	_, err := newEditFileTool(root).Call(context.Background(), map[string]any{
		"path":    "f.txt",
		"replace": "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search text is required")
}

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "12345")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	result := mustCall(t, newListDirectoryTool(root), map[string]any{})
	assert.Equal(t, "a.txt (5 bytes)\nsub/", result)
}

func TestListDirectorySubdir(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "sub/inner.txt", "xy")

	result := mustCall(t, newListDirectoryTool(root), map[string]any{"path": "sub"})
	assert.Equal(t, "inner.txt (2 bytes)", result)
}

func TestListDirectoryEmpty(t *testing.T) {
	root := t.TempDir()
	result := mustCall(t, newListDirectoryTool(root), map[string]any{})
	assert.Equal(t, "(empty directory)", result)
}
