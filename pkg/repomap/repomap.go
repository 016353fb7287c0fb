// Package repomap builds a compact textual map of a project tree.
//
// The map gives the model cheap orientation at run start: one line per
// file with its size and the top-level symbols found near the top of
// the file, sorted by path and cut to a character budget.
package repomap

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultBudget is the character budget for the rendered map.
	DefaultBudget = 3000

	// maxFileSize excludes large files from the map entirely.
	maxFileSize = 500 * 1024

	// probeSize is how much of each file is scanned for symbols.
	probeSize = 2 * 1024

	// maxSymbols caps symbols per file.
	maxSymbols = 10
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"out":          true,
	"coverage":     true,
	"__pycache__":  true,
	".cache":       true,
	"target":       true,
	"vendor":       true,
}

// skipExtensions are binary or generated formats with no symbols worth
// extracting.
var skipExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".webm": true,
	".lock": true,
}

// symbolPatterns are language-agnostic declarations matched against the
// head of each file. Each must capture the symbol name in group 1.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`),
	regexp.MustCompile(`(?m)^type\s+([A-Za-z_]\w*)`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=`),
	regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)`),
	regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:fn|struct|enum|trait)\s+([A-Za-z_]\w*)`),
}

// Options configures map construction.
type Options struct {
	// Budget is the maximum rendered size in characters. Zero means
	// DefaultBudget.
	Budget int
}

type entry struct {
	path    string
	size    int64
	symbols []string
}

// Build walks root and renders the repo map.
func Build(root string, opts Options) (string, error) {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	var entries []entry
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != absRoot && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if skipExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}

		entries = append(entries, entry{
			path:    filepath.ToSlash(rel),
			size:    info.Size(),
			symbols: extractSymbols(path),
		})
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var sb strings.Builder
	for _, e := range entries {
		line := renderLine(e)
		if sb.Len()+len(line)+1 > budget {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func renderLine(e entry) string {
	if len(e.symbols) == 0 {
		return fmt.Sprintf("%s (%d)", e.path, e.size)
	}
	return fmt.Sprintf("%s (%d) — %s", e.path, e.size, strings.Join(e.symbols, ", "))
}

// extractSymbols scans the head of a file for top-level declarations.
// Symbols are reported in order of appearance, deduplicated, capped at
// maxSymbols. Binary content yields none.
func extractSymbols(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	buf := make([]byte, probeSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil
	}
	head := buf[:n]
	for _, b := range head {
		if b == 0 {
			return nil
		}
	}

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, pattern := range symbolPatterns {
		for _, m := range pattern.FindAllSubmatchIndex(head, -1) {
			if len(m) >= 4 && m[2] >= 0 {
				hits = append(hits, hit{pos: m[2], name: string(head[m[2]:m[3]])})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool)
	var symbols []string
	for _, h := range hits {
		if seen[h.name] {
			continue
		}
		seen[h.name] = true
		symbols = append(symbols, h.name)
		if len(symbols) >= maxSymbols {
			break
		}
	}
	return symbols
}
