package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearchTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTestFile(t, root, "main.go", "package main\nfunc Main() {}\n")
	writeTestFile(t, root, "lib/util.go", "package lib\n// helper marker\n")
	writeTestFile(t, root, "node_modules/dep.js", "marker\n")
	writeTestFile(t, root, ".git/config", "marker\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin.dat"), []byte("\x00marker\x00"), 0o644))
	return root
}

func TestSearchCode(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newSearchCodeTool(root), map[string]any{"pattern": "marker"})
	assert.Equal(t, "lib/util.go:2: // helper marker", result)
}

func TestSearchCodeCaseInsensitive(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newSearchCodeTool(root), map[string]any{"pattern": "MAIN"})
	assert.Contains(t, result, "main.go:1: package main")
	assert.Contains(t, result, "main.go:2: func Main() {}")
}

func TestSearchCodeNoMatches(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newSearchCodeTool(root), map[string]any{"pattern": "definitely-absent"})
	assert.Equal(t, "No matches found", result)
}

func TestSearchCodeInvalidPattern(t *testing.T) {
	root := newSearchTree(t)
	_, err := newSearchCodeTool(root).Call(context.Background(), map[string]any{"pattern": "["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestSearchCodeLineCap(t *testing.T) {
	root := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&sb, "needle line %d\n", i)
	}
	writeTestFile(t, root, "big.txt", sb.String())

	result := mustCall(t, newSearchCodeTool(root), map[string]any{"pattern": "needle"})
	assert.Contains(t, result, fmt.Sprintf("[stopped at %d matching lines]", maxSearchLines))
	assert.Equal(t, maxSearchLines, strings.Count(result, "needle"))
}

func TestSearchCodeSubdirectory(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newSearchCodeTool(root), map[string]any{"pattern": "package", "path": "lib"})
	assert.Equal(t, "lib/util.go:1: package lib", result)

	_, err := newSearchCodeTool(root).Call(context.Background(), map[string]any{"pattern": "x", "path": "../elsewhere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path_outside_project")
}

func TestGlobFilesSingleSegment(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newGlobFilesTool(root), map[string]any{"pattern": "*.go"})
	assert.Equal(t, "main.go", result)
}

func TestGlobFilesRecursive(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newGlobFilesTool(root), map[string]any{"pattern": "**/*.go"})
	assert.Equal(t, "lib/util.go\nmain.go", result)
}

func TestGlobFilesQuestionMark(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newGlobFilesTool(root), map[string]any{"pattern": "ma?n.go"})
	assert.Equal(t, "main.go", result)
}

func TestGlobFilesNoMatch(t *testing.T) {
	root := newSearchTree(t)
	result := mustCall(t, newGlobFilesTool(root), map[string]any{"pattern": "*.rs"})
	assert.Equal(t, "No files matched", result)
}

func TestGlobFilesEntryCap(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < maxGlobEntries+10; i++ {
		writeTestFile(t, root, fmt.Sprintf("many/f%04d.txt", i), "x")
	}

	result := mustCall(t, newGlobFilesTool(root), map[string]any{"pattern": "many/*.txt"})
	assert.Contains(t, result, fmt.Sprintf("[stopped at %d entries]", maxGlobEntries))
	assert.Equal(t, maxGlobEntries, strings.Count(result, "many/f"))
}

func TestGlobFilesRequiresPattern(t *testing.T) {
	root := t.TempDir()
	_, err := newGlobFilesTool(root).Call(context.Background(), map[string]any{"pattern": "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern is required")
}

func TestCompileGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		matches bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "lib/util.go", false},
		{"**/*.go", "main.go", true},
		{"**/*.go", "lib/deep/nested.go", true},
		{"lib/**", "lib/a/b/c.txt", true},
		{"lib/**", "other/x.txt", false},
		{"a?c.txt", "abc.txt", true},
		{"a?c.txt", "abbc.txt", false},
		{"exact.txt", "exact.txt", true},
		{"exact.txt", "prefix-exact.txt", false},
	}
	for _, tt := range tests {
		re, err := compileGlob(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.matches, re.MatchString(tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}
