package builtin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/tool/functiontool"
)

// searchSkipDirs are never descended into while searching.
var searchSkipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
}

type searchCodeArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Case-insensitive regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search under relative to the project root (defaults to the root)"`
}

func newSearchCodeTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "search_code",
		Description: "Search project files for a case-insensitive regex. Returns path:line: text matches, up to 200 lines. Binary files and node_modules/.git are skipped.",
	}, func(ctx context.Context, args searchCodeArgs) (string, error) {
		re, err := regexp.Compile("(?i)" + args.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}

		searchRoot := root
		if args.Path != "" {
			searchRoot, err = resolvePath(root, args.Path)
			if err != nil {
				return "", err
			}
		}

		var matches []string
		capped := false
		walkErr := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if searchSkipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			fileMatches, err := searchFile(root, path, re, maxSearchLines-len(matches))
			if err != nil {
				return nil
			}
			matches = append(matches, fileMatches...)
			if len(matches) >= maxSearchLines {
				capped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			return "", walkErr
		}

		if len(matches) == 0 {
			return "No matches found", nil
		}
		result := strings.Join(matches, "\n")
		if capped {
			result += fmt.Sprintf("\n[stopped at %d matching lines]", maxSearchLines)
		}
		return result, nil
	})
}

// searchFile scans one file for matches, up to limit lines. Files whose
// first bytes contain a NUL are treated as binary and skipped.
func searchFile(root, path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	probe := make([]byte, 512)
	n, err := f.Read(probe)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if bytes.IndexByte(probe[:n], 0) >= 0 {
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	var matches []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, line))
			if len(matches) >= limit {
				break
			}
		}
	}
	// Scanner errors on oversized lines are ignored so one minified
	// file does not sink the whole search.
	return matches, nil
}

type globFilesArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Glob pattern where * matches within a path segment and ** matches across segments"`
}

func newGlobFilesTool(root string) tool.CallableTool {
	return functiontool.New(functiontool.Config{
		Name:        "glob_files",
		Description: "List project files matching a glob pattern such as **/*.go. Returns up to 500 paths.",
	}, func(ctx context.Context, args globFilesArgs) (string, error) {
		re, err := compileGlob(args.Pattern)
		if err != nil {
			return "", err
		}

		var entries []string
		capped := false
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if d.Name() == ".git" && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if !re.MatchString(rel) {
				return nil
			}
			entries = append(entries, rel)
			if len(entries) >= maxGlobEntries {
				capped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			return "", walkErr
		}

		if len(entries) == 0 {
			return "No files matched", nil
		}
		result := strings.Join(entries, "\n")
		if capped {
			result += fmt.Sprintf("\n[stopped at %d entries]", maxGlobEntries)
		}
		return result, nil
	})
}

// compileGlob translates a glob into an anchored regexp. `*` and `?`
// stay within one path segment; `**` crosses segments, and `**/` also
// matches zero directories so `**/*.go` includes top-level files.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString(`(?:[^/]+/)*`)
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			sb.WriteString(`[^/]*`)
			i++
		case pattern[i] == '?':
			sb.WriteString(`[^/]`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}
