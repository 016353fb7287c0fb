// Package retry provides error classification, bounded exponential backoff,
// and per-provider circuit breaking for LLM and tool calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class buckets an error for retry decisions.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPolicy    Class = "policy"
	ClassTool      Class = "tool"
	ClassProvider  Class = "provider"
	ClassUnknown   Class = "unknown"
)

// Stage names the pipeline stage an error came from.
type Stage string

const (
	StageLLM  Stage = "llm"
	StageTool Stage = "tool"
)

// ClassifiedError carries an explicit class and stage through error
// wrapping, so classification survives fmt.Errorf chains.
type ClassifiedError struct {
	Class Class
	Stage Stage
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s error at %s stage: %v", e.Class, e.Stage, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError wraps err with an explicit class and stage.
func NewClassifiedError(class Class, stage Stage, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Stage: stage, Err: err}
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"no such host",
	"eof",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"overloaded",
	"rate limit",
}

var policyMarkers = []string{
	"denied by policy",
	"safety violation",
	"approval rejected",
	"not in the project allowlist",
	"egress",
}

// Classify buckets err for the given stage. Structured classification wins;
// substring inspection is the fallback for errors that cross a plain-string
// boundary such as an HTTP body.
func Classify(stage Stage, err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ClassProvider
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range policyMarkers {
		if strings.Contains(msg, marker) {
			return ClassPolicy
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ClassTransient
		}
	}
	if stage == StageTool {
		return ClassTool
	}
	return ClassUnknown
}
