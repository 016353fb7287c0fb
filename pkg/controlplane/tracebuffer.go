package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// traceWriteTimeout bounds each background trace write.
const traceWriteTimeout = 10 * time.Second

// TraceBuffer appends trace events without blocking the run loop.
// Writes happen on background goroutines whose handles are joined by
// Flush before finalization; errors are logged and never surfaced.
type TraceBuffer struct {
	client *Client
	wg     sync.WaitGroup
}

// NewTraceBuffer creates a trace buffer over the given client.
func NewTraceBuffer(client *Client) *TraceBuffer {
	return &TraceBuffer{client: client}
}

// Append schedules one trace write. The payload is marshalled
// immediately so later mutation of the value cannot race the write.
func (b *TraceBuffer) Append(runID, eventType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Debug("Dropping untraceable payload", "event_type", eventType, "error", err)
			return
		}
		raw = data
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Detached from the run context so an abort does not lose the
		// events describing the abort itself.
		ctx, cancel := context.WithTimeout(context.Background(), traceWriteTimeout)
		defer cancel()

		err := b.client.AppendTrace(ctx, runID, AppendTraceRequest{
			EventType: eventType,
			Payload:   raw,
		})
		if err != nil {
			slog.Debug("Trace write failed", "run_id", runID, "event_type", eventType, "error", err)
		}
	}()
}

// Flush waits for all scheduled writes to finish.
func (b *TraceBuffer) Flush() {
	b.wg.Wait()
}
