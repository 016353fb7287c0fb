// Package validator checks tool outcomes after execution.
//
// Validation is advisory: it never blocks the run, it grades what the
// tool reported against what actually happened on disk or in the
// command transcript. Outcomes feed verification artifacts and the
// run's validationFailures counter.
package validator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Severity grades a validation outcome.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// VerificationType names the kind of evidence behind an outcome.
type VerificationType string

const (
	VerificationCommand   VerificationType = "command"
	VerificationFileWrite VerificationType = "file_write"
	VerificationFileRead  VerificationType = "file_read"
	VerificationGeneric   VerificationType = "generic"
)

// Confidence levels by how direct the evidence is.
const (
	confidenceDirect  = 0.9
	confidenceWarn    = 0.6
	confidenceGeneric = 0.5
)

// quickCheckTimeout bounds a profile's quick-check command.
const quickCheckTimeout = 10 * time.Second

// Check is one named validation step.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Input describes one executed tool call.
type Input struct {
	ToolName   string
	ToolInput  map[string]any
	ToolResult string
	ProjectDir string
}

// Profile adds caller expectations to a validation.
type Profile struct {
	// ExpectedOutputContains lists fragments the tool result must contain.
	ExpectedOutputContains []string

	// MustContain lists fragments a written file must contain.
	MustContain []string

	// MinBytes is the minimum size of a written file.
	MinBytes int

	// QuickCheckCommand, when set, runs in the project directory and
	// must exit zero.
	QuickCheckCommand string
}

// Outcome is the result of validating one tool call.
type Outcome struct {
	OK               bool             `json:"ok"`
	Severity         Severity         `json:"severity"`
	Confidence       float64          `json:"confidence"`
	VerificationType VerificationType `json:"verificationType"`
	Checks           []Check          `json:"checks"`
}

// Validate grades one executed tool call. The context bounds only the
// optional quick-check command.
func Validate(ctx context.Context, in Input, profile *Profile) Outcome {
	var out Outcome
	switch in.ToolName {
	case "run_command":
		out = validateCommand(in, profile)
	case "write_file":
		out = validateWrite(in, profile)
	case "read_file":
		out = validateRead(in)
	default:
		out = Outcome{
			OK:               true,
			Severity:         SeverityInfo,
			Confidence:       confidenceGeneric,
			VerificationType: VerificationGeneric,
			Checks: []Check{{
				Name:   "generic_pass",
				Passed: true,
				Detail: "no specific validator for " + in.ToolName,
			}},
		}
	}

	if profile != nil && profile.QuickCheckCommand != "" {
		check := runQuickCheck(ctx, in.ProjectDir, profile.QuickCheckCommand)
		out.Checks = append(out.Checks, check)
		if !check.Passed && out.Severity == SeverityInfo {
			out.Severity = SeverityWarn
			out.Confidence = confidenceWarn
		}
	}
	return out
}

func validateCommand(in Input, profile *Profile) Outcome {
	out := Outcome{
		OK:               true,
		Severity:         SeverityInfo,
		Confidence:       confidenceDirect,
		VerificationType: VerificationCommand,
	}

	exitCode := -1
	if _, err := fmt.Sscanf(in.ToolResult, "exit %d", &exitCode); err != nil {
		exitCode = -1
	}
	if exitCode == 0 {
		out.Checks = append(out.Checks, Check{Name: "exit_code", Passed: true, Detail: "exit 0"})
	} else {
		out.OK = false
		out.Severity = SeverityError
		out.Checks = append(out.Checks, Check{
			Name:   "exit_code",
			Passed: false,
			Detail: fmt.Sprintf("exit %d", exitCode),
		})
	}

	if profile != nil {
		for _, fragment := range profile.ExpectedOutputContains {
			passed := strings.Contains(in.ToolResult, fragment)
			out.Checks = append(out.Checks, Check{
				Name:   "output_contains",
				Passed: passed,
				Detail: fragment,
			})
			if !passed && out.Severity == SeverityInfo {
				out.Severity = SeverityWarn
				out.Confidence = confidenceWarn
			}
		}
	}
	return out
}

func validateWrite(in Input, profile *Profile) Outcome {
	out := Outcome{
		OK:               true,
		Severity:         SeverityInfo,
		Confidence:       confidenceDirect,
		VerificationType: VerificationFileWrite,
	}

	fail := func(name, detail string) Outcome {
		out.OK = false
		out.Severity = SeverityError
		out.Checks = append(out.Checks, Check{Name: name, Passed: false, Detail: detail})
		return out
	}
	warn := func(name, detail string, passed bool) {
		out.Checks = append(out.Checks, Check{Name: name, Passed: passed, Detail: detail})
		if !passed && out.Severity == SeverityInfo {
			out.Severity = SeverityWarn
			out.Confidence = confidenceWarn
		}
	}

	path, _ := in.ToolInput["path"].(string)
	if strings.TrimSpace(path) == "" {
		return fail("path_present", "tool input has no path")
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(in.ProjectDir, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(in.ProjectDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fail("path_contained", fmt.Sprintf("%s is outside the project", path))
	}
	out.Checks = append(out.Checks, Check{Name: "path_contained", Passed: true, Detail: rel})

	info, err := os.Stat(resolved)
	if err != nil {
		return fail("file_exists", fmt.Sprintf("%s absent after write", path))
	}
	out.Checks = append(out.Checks, Check{Name: "file_exists", Passed: true})

	warn("file_not_empty", fmt.Sprintf("%d bytes", info.Size()), info.Size() > 0)
	if profile != nil && profile.MinBytes > 0 {
		warn("min_bytes", fmt.Sprintf("%d >= %d", info.Size(), profile.MinBytes),
			info.Size() >= int64(profile.MinBytes))
	}

	if profile != nil && len(profile.MustContain) > 0 {
		data, err := os.ReadFile(resolved)
		if err != nil {
			warn("content_readable", err.Error(), false)
		} else {
			content := string(data)
			for _, fragment := range profile.MustContain {
				warn("content_contains", fragment, strings.Contains(content, fragment))
			}
		}
	}
	return out
}

func validateRead(in Input) Outcome {
	out := Outcome{
		OK:               true,
		Severity:         SeverityInfo,
		Confidence:       confidenceDirect,
		VerificationType: VerificationFileRead,
	}
	if strings.TrimSpace(in.ToolResult) == "" {
		out.Severity = SeverityWarn
		out.Confidence = confidenceWarn
		out.Checks = append(out.Checks, Check{Name: "content_not_empty", Passed: false, Detail: "empty read result"})
	} else {
		out.Checks = append(out.Checks, Check{Name: "content_not_empty", Passed: true})
	}
	return out
}

// runQuickCheck runs the profile's check command in the project
// directory and reports whether it exited zero.
func runQuickCheck(ctx context.Context, dir, command string) Check {
	checkCtx, cancel := context.WithTimeout(ctx, quickCheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, "sh", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return Check{Name: "quick_check", Passed: false, Detail: detail}
	}
	return Check{Name: "quick_check", Passed: true, Detail: command}
}
