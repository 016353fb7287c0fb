package builtin

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolvePath resolves a tool-supplied path against the project root
// and rejects anything that escapes it. Absolute paths are accepted
// only when they already point inside the root.
func resolvePath(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path_outside_project: %q escapes the project root", path)
	}
	return resolved, nil
}

// displayPath renders a resolved path relative to the root for results.
func displayPath(root, resolved string) string {
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return resolved
	}
	return filepath.ToSlash(rel)
}
