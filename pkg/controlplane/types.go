// Package controlplane defines the durable record types of the control
// plane and a typed HTTP client for its API.
//
// The orchestrator talks to the control plane exclusively through this
// client; the server and store packages share these row shapes.
package controlplane

import (
	"encoding/json"
	"time"

	"github.com/autoagent/autoagent/pkg/validator"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued           RunStatus = "queued"
	RunRunning          RunStatus = "running"
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
	RunCancelled        RunStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunQueued, RunRunning, RunAwaitingApproval, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Run is one agent execution.
type Run struct {
	RunID     string    `json:"runId"`
	ProjectID string    `json:"projectId"`
	Objective string    `json:"objective,omitempty"`
	Status    RunStatus `json:"status"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateRunRequest creates a run.
type CreateRunRequest struct {
	ProjectID string `json:"projectId"`
	Objective string `json:"objective"`
}

// UpdateRunRequest updates status and/or summary.
type UpdateRunRequest struct {
	Status  RunStatus `json:"status,omitempty"`
	Summary string    `json:"summary,omitempty"`
}

// TraceEvent is one appended execution event.
type TraceEvent struct {
	ID        int64           `json:"id,omitempty"`
	RunID     string          `json:"runId"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AppendTraceRequest appends a trace event to a run.
type AppendTraceRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TraceMetrics are aggregates derived from a run's trace stream.
type TraceMetrics struct {
	RunID        string         `json:"runId"`
	TotalEvents  int            `json:"totalEvents"`
	EventCounts  map[string]int `json:"eventCounts"`
	RetryCount   int            `json:"retryCount"`
	FirstEventAt *time.Time     `json:"firstEventAt,omitempty"`
	LastEventAt  *time.Time     `json:"lastEventAt,omitempty"`
}

// ApprovalScope is what an approval covers.
type ApprovalScope string

const (
	ScopeRun  ApprovalScope = "run"
	ScopeTool ApprovalScope = "tool"
)

// ApprovalStatus is the resolution state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is an operator decision gate. Once non-pending the status is
// frozen.
type Approval struct {
	ID          string          `json:"id"`
	RunID       string          `json:"runId"`
	Scope       ApprovalScope   `json:"scope"`
	Reason      string          `json:"reason"`
	Status      ApprovalStatus  `json:"status"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ContextHash string          `json:"contextHash,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// CreateApprovalRequest creates a pending approval.
type CreateApprovalRequest struct {
	RunID       string          `json:"runId"`
	Scope       ApprovalScope   `json:"scope"`
	Reason      string          `json:"reason"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ContextHash string          `json:"contextHash,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// ResolveApprovalRequest resolves a pending approval. When
// ExpectedContextHash is set it must match the stored hash.
type ResolveApprovalRequest struct {
	Approved            bool   `json:"approved"`
	ExpectedContextHash string `json:"expectedContextHash,omitempty"`
}

// Resolve conflict reasons returned with HTTP 409.
const (
	ResolveAlreadyResolved = "already_resolved"
	ResolveExpired         = "expired"
	ResolveContextMismatch = "context_mismatch"
)

// Provider is a registered LLM provider row. The API key itself is
// never stored; APIKeyRef names the environment variable holding it.
type Provider struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	BaseURL   string    `json:"baseUrl,omitempty"`
	Model     string    `json:"model"`
	APIKeyRef string    `json:"apiKeyRef,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings is the operator-editable settings document. The orchestrator
// fetches it at run start; fields override the static config.
type Settings struct {
	EgressMode               string   `json:"egressMode"`
	AllowedHosts             []string `json:"allowedHosts,omitempty"`
	ExceptionHosts           []string `json:"exceptionHosts,omitempty"`
	AllowedTools             []string `json:"allowedTools,omitempty"`
	ApprovalTools            []string `json:"approvalTools,omitempty"`
	TraceRetentionDays       int      `json:"traceRetentionDays"`
	ArtifactRetentionDays    int      `json:"artifactRetentionDays"`
	PromptRetentionDays      int      `json:"promptRetentionDays"`
	PromptCacheRetentionDays int      `json:"promptCacheRetentionDays"`
	PromptCacheEnabled       bool     `json:"promptCacheEnabled"`
	TokenEstimator           string   `json:"tokenEstimator"`
}

// DefaultSettings returns the settings used before an operator saves any.
func DefaultSettings() Settings {
	return Settings{
		EgressMode:               "enforce",
		TraceRetentionDays:       30,
		ArtifactRetentionDays:    30,
		PromptRetentionDays:      7,
		PromptCacheRetentionDays: 1,
		PromptCacheEnabled:       false,
		TokenEstimator:           "chars",
	}
}

// Execution phases.
const (
	PhaseRunning      = "running"
	PhaseCheckpointed = "checkpointed"
	PhaseCompleted    = "completed"
	PhaseFailed       = "failed"
	PhaseAborted      = "aborted"
)

// Phase markers within a running execution.
const (
	MarkerPlanning   = "planning"
	MarkerExecuting  = "executing"
	MarkerFinalizing = "finalizing"
)

// ExecutionStats accumulate over a run and survive checkpointing.
type ExecutionStats struct {
	ActionCount        int      `json:"actionCount"`
	TotalInputTokens   int      `json:"totalInputTokens"`
	TotalOutputTokens  int      `json:"totalOutputTokens"`
	Retries            int      `json:"retries"`
	ValidationFailures int      `json:"validationFailures"`
	SafetyViolations   int      `json:"safetyViolations"`
	ReflectionNotes    []string `json:"reflectionNotes,omitempty"`
}

// CheckpointDescriptor records when and why a checkpoint was taken.
type CheckpointDescriptor struct {
	At           time.Time `json:"at"`
	Reason       string    `json:"reason"`
	MessageCount int       `json:"messageCount"`
}

// ReplayBoundary marks the deterministic resume point of a checkpoint.
type ReplayBoundary struct {
	Turn        int       `json:"turn"`
	Reason      string    `json:"reason"`
	ContextHash string    `json:"contextHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExecutionState is the persisted checkpoint of a run.
// Phase "checkpointed" requires a non-nil ReplayBoundary.
type ExecutionState struct {
	RunID          string                `json:"runId"`
	Phase          string                `json:"phase"`
	PhaseMarker    string                `json:"phaseMarker,omitempty"`
	Turn           int                   `json:"turn"`
	Input          string                `json:"input"`
	Stats          ExecutionStats        `json:"stats"`
	Checkpoint     *CheckpointDescriptor `json:"checkpoint,omitempty"`
	ReplayBoundary *ReplayBoundary       `json:"replayBoundary,omitempty"`
	LastError      string                `json:"lastError,omitempty"`
}

// Thread groups the messages of a run's conversation.
type Thread struct {
	ThreadID  string    `json:"threadId"`
	RunID     string    `json:"runId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateThreadRequest creates a thread. RunID may name an existing
// thread's run for follow-up runs that share a conversation.
type CreateThreadRequest struct {
	RunID string `json:"runId"`
	Title string `json:"title,omitempty"`
}

// ThreadMessage is one stored conversation message.
type ThreadMessage struct {
	ID         int64     `json:"id,omitempty"`
	ThreadID   string    `json:"threadId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	TurnNumber int       `json:"turnNumber"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AppendMessageRequest appends a message to a thread.
type AppendMessageRequest struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"toolCallId,omitempty"`
	TurnNumber int    `json:"turnNumber"`
}

// PromptStatus is the lifecycle state of a user prompt.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptAnswered  PromptStatus = "answered"
	PromptExpired   PromptStatus = "expired"
	PromptCancelled PromptStatus = "cancelled"
)

// UserPrompt is an ask_user question awaiting an operator answer.
type UserPrompt struct {
	PromptID     string       `json:"promptId"`
	RunID        string       `json:"runId"`
	ThreadID     string       `json:"threadId,omitempty"`
	TurnNumber   int          `json:"turnNumber"`
	PromptText   string       `json:"promptText"`
	Status       PromptStatus `json:"status"`
	ResponseText string       `json:"responseText,omitempty"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// CreatePromptRequest creates a pending user prompt.
type CreatePromptRequest struct {
	RunID      string    `json:"runId"`
	ThreadID   string    `json:"threadId,omitempty"`
	TurnNumber int       `json:"turnNumber"`
	PromptText string    `json:"promptText"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// AnswerPromptRequest answers a pending prompt.
type AnswerPromptRequest struct {
	ResponseText string `json:"responseText"`
}

// Verification results for artifacts.
const (
	VerificationPass    = "pass"
	VerificationFail    = "fail"
	VerificationWarning = "warning"
	VerificationPending = "pending"
)

// VerificationArtifact stores one validated tool outcome.
type VerificationArtifact struct {
	ArtifactID         string            `json:"artifactId"`
	RunID              string            `json:"runId"`
	VerificationType   string            `json:"verificationType"`
	ArtifactType       string            `json:"artifactType"`
	ArtifactContent    string            `json:"artifactContent,omitempty"`
	VerificationResult string            `json:"verificationResult"`
	Checks             []validator.Check `json:"checks,omitempty"`
	VerifiedAt         time.Time         `json:"verifiedAt"`
}

// ModelPerformance is one routing sample for a provider+mode pair.
type ModelPerformance struct {
	ID             int64     `json:"id,omitempty"`
	ProviderID     string    `json:"providerId"`
	Model          string    `json:"model"`
	RoutingMode    string    `json:"routingMode"`
	Success        bool      `json:"success"`
	LatencyMs      int64     `json:"latencyMs"`
	CostUSD        float64   `json:"costUsd"`
	AggregateScore float64   `json:"aggregateScore"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PromotionEvaluation is a per-run promotion verdict against a named
// criterion threshold.
type PromotionEvaluation struct {
	EvaluationID string    `json:"evaluationId"`
	RunID        string    `json:"runId"`
	Criterion    string    `json:"criterion"`
	Threshold    float64   `json:"threshold"`
	Score        float64   `json:"score"`
	Passed       bool      `json:"passed"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CachedPrompt is one prompt-cache entry.
type CachedPrompt struct {
	Key       string          `json:"key"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}
