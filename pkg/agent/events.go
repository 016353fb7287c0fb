package agent

// Run status stream event types. Trace events use their own dotted names;
// these reach the caller's sink for live rendering.
const (
	EventStatus      = "status"
	EventToken       = "token"
	EventToolCall    = "tool_call"
	EventToolResult  = "tool_result"
	EventError       = "error"
	EventCompleted   = "completed"
	EventSuggestions = "suggestions"
)

// Event is one entry in a run's status stream.
type Event struct {
	Type    string         `json:"type"`
	RunID   string         `json:"runId"`
	Turn    int            `json:"turn,omitempty"`
	Message string         `json:"message,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// EventSink receives status events as they happen. Sinks must be fast;
// the run loop calls them inline.
type EventSink func(Event)

func (a *Agent) emit(event Event) {
	if a.sink != nil {
		a.sink(event)
	}
}
