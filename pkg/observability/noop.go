package observability

import (
	"context"
	"time"
)

// NoopRecorder discards all measurements. It is installed when metrics
// are disabled so call sites never have to branch.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(context.Context, string, time.Duration) {}

func (NoopRecorder) RecordToolCall(context.Context, string, error) {}

func (NoopRecorder) RecordLLMRequest(context.Context, string, string, time.Duration, int, int, error) {
}

func (NoopRecorder) RecordSafetyViolation(context.Context, string) {}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*prometheusRecorder)(nil)
