package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/autoagent/autoagent/pkg/httpclient"
)

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the control plane.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ConflictReason extracts the reason of a 409 response, such as
// already_resolved, expired, or context_mismatch.
func ConflictReason(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return apiErr.Message, true
	}
	return "", false
}

// Client is the typed control-plane API client.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// NewClient creates a client for the control plane at baseURL.
func NewClient(baseURL string, opts ...httpclient.Option) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(opts...),
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Do reports non-2xx statuses as errors while still returning the
	// response, so the status check must come before the error check.
	resp, err := c.http.Do(req)
	if resp == nil {
		return fmt.Errorf("control plane request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiErrorFrom(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func apiErrorFrom(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(data))
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err == nil && wire.Error != "" {
		message = wire.Error
	}
	if message == "" {
		message = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// CreateRun creates a run record.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	var run Run
	if err := c.doJSON(ctx, http.MethodPost, "/api/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRun updates a run's status and/or summary.
func (c *Client) UpdateRun(ctx context.Context, runID string, req UpdateRunRequest) (*Run, error) {
	var run Run
	if err := c.doJSON(ctx, http.MethodPut, "/api/runs/"+url.PathEscape(runID), req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := c.doJSON(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// DeleteRun deletes a run and its traces.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(runID), nil, nil)
}

// AppendTrace appends one trace event.
func (c *Client) AppendTrace(ctx context.Context, runID string, req AppendTraceRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/traces/"+url.PathEscape(runID), req, nil)
}

// ListTraces lists a run's trace events in arrival order.
func (c *Client) ListTraces(ctx context.Context, runID string) ([]TraceEvent, error) {
	var events []TraceEvent
	if err := c.doJSON(ctx, http.MethodGet, "/api/traces/"+url.PathEscape(runID), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// TraceMetrics fetches a run's derived trace aggregates.
func (c *Client) TraceMetrics(ctx context.Context, runID string) (*TraceMetrics, error) {
	var metrics TraceMetrics
	if err := c.doJSON(ctx, http.MethodGet, "/api/traces/"+url.PathEscape(runID)+"/metrics", nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// CreateApproval creates a pending approval.
func (c *Client) CreateApproval(ctx context.Context, req CreateApprovalRequest) (*Approval, error) {
	var approval Approval
	if err := c.doJSON(ctx, http.MethodPost, "/api/approvals", req, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ListApprovalsOptions filter the approval list.
type ListApprovalsOptions struct {
	RunID  string
	Status ApprovalStatus
}

// ListApprovals lists approvals, optionally filtered.
func (c *Client) ListApprovals(ctx context.Context, opts ListApprovalsOptions) ([]Approval, error) {
	query := url.Values{}
	if opts.RunID != "" {
		query.Set("runId", opts.RunID)
	}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	path := "/api/approvals"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var approvals []Approval
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

// GetApproval fetches one approval.
func (c *Client) GetApproval(ctx context.Context, id string) (*Approval, error) {
	var approval Approval
	if err := c.doJSON(ctx, http.MethodGet, "/api/approvals/"+url.PathEscape(id), nil, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ResolveApproval resolves a pending approval. Conflicts surface as an
// APIError with status 409 and a reason of already_resolved, expired,
// or context_mismatch.
func (c *Client) ResolveApproval(ctx context.Context, id string, req ResolveApprovalRequest) (*Approval, error) {
	var approval Approval
	if err := c.doJSON(ctx, http.MethodPost, "/api/approvals/"+url.PathEscape(id)+"/resolve", req, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

// ListProviders lists provider rows.
func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	var providers []Provider
	if err := c.doJSON(ctx, http.MethodGet, "/api/providers", nil, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// CreateProvider registers a provider row.
func (c *Client) CreateProvider(ctx context.Context, provider Provider) (*Provider, error) {
	var created Provider
	if err := c.doJSON(ctx, http.MethodPost, "/api/providers", provider, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetProvider fetches one provider row.
func (c *Client) GetProvider(ctx context.Context, id string) (*Provider, error) {
	var provider Provider
	if err := c.doJSON(ctx, http.MethodGet, "/api/providers/"+url.PathEscape(id), nil, &provider); err != nil {
		return nil, err
	}
	return &provider, nil
}

// UpdateProvider updates a provider row.
func (c *Client) UpdateProvider(ctx context.Context, id string, provider Provider) (*Provider, error) {
	var updated Provider
	if err := c.doJSON(ctx, http.MethodPut, "/api/providers/"+url.PathEscape(id), provider, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetSettings fetches the settings document.
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	var settings Settings
	if err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// PutSettings replaces the settings document.
func (c *Client) PutSettings(ctx context.Context, settings Settings) (*Settings, error) {
	var updated Settings
	if err := c.doJSON(ctx, http.MethodPut, "/api/settings", settings, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// SaveExecutionState persists a run's checkpoint.
func (c *Client) SaveExecutionState(ctx context.Context, state ExecutionState) error {
	return c.doJSON(ctx, http.MethodPost, "/api/execution-state/"+url.PathEscape(state.RunID), state, nil)
}

// GetExecutionState fetches a run's checkpoint, or nil when none exists.
func (c *Client) GetExecutionState(ctx context.Context, runID string) (*ExecutionState, error) {
	var state ExecutionState
	err := c.doJSON(ctx, http.MethodGet, "/api/execution-state/"+url.PathEscape(runID), nil, &state)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// DeleteExecutionState clears a run's checkpoint.
func (c *Client) DeleteExecutionState(ctx context.Context, runID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/execution-state/"+url.PathEscape(runID), nil, nil)
}

// CreateThread creates a conversation thread.
func (c *Client) CreateThread(ctx context.Context, req CreateThreadRequest) (*Thread, error) {
	var thread Thread
	if err := c.doJSON(ctx, http.MethodPost, "/api/threads", req, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// ThreadByRun fetches the thread of a run, or nil when none exists.
func (c *Client) ThreadByRun(ctx context.Context, runID string) (*Thread, error) {
	var thread Thread
	err := c.doJSON(ctx, http.MethodGet, "/api/threads/by-run/"+url.PathEscape(runID), nil, &thread)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListThreadMessages lists a thread's messages in creation order.
func (c *Client) ListThreadMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var messages []ThreadMessage
	if err := c.doJSON(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(threadID)+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendThreadMessage appends one message to a thread.
func (c *Client) AppendThreadMessage(ctx context.Context, threadID string, req AppendMessageRequest) (*ThreadMessage, error) {
	var message ThreadMessage
	if err := c.doJSON(ctx, http.MethodPost, "/api/threads/"+url.PathEscape(threadID)+"/messages", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// CreatePrompt creates a pending user prompt.
func (c *Client) CreatePrompt(ctx context.Context, req CreatePromptRequest) (*UserPrompt, error) {
	var prompt UserPrompt
	if err := c.doJSON(ctx, http.MethodPost, "/api/prompts", req, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// GetPrompt fetches one user prompt.
func (c *Client) GetPrompt(ctx context.Context, promptID string) (*UserPrompt, error) {
	var prompt UserPrompt
	if err := c.doJSON(ctx, http.MethodGet, "/api/prompts/"+url.PathEscape(promptID), nil, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// AnswerPrompt answers a pending user prompt.
func (c *Client) AnswerPrompt(ctx context.Context, promptID string, req AnswerPromptRequest) (*UserPrompt, error) {
	var prompt UserPrompt
	if err := c.doJSON(ctx, http.MethodPost, "/api/prompts/"+url.PathEscape(promptID)+"/answer", req, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// PromptsByRun lists a run's user prompts.
func (c *Client) PromptsByRun(ctx context.Context, runID string) ([]UserPrompt, error) {
	var prompts []UserPrompt
	if err := c.doJSON(ctx, http.MethodGet, "/api/prompts/by-run/"+url.PathEscape(runID), nil, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// CreateArtifact stores a verification artifact.
func (c *Client) CreateArtifact(ctx context.Context, artifact VerificationArtifact) (*VerificationArtifact, error) {
	var created VerificationArtifact
	if err := c.doJSON(ctx, http.MethodPost, "/api/artifacts", artifact, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ArtifactsByRun lists a run's verification artifacts.
func (c *Client) ArtifactsByRun(ctx context.Context, runID string) ([]VerificationArtifact, error) {
	var artifacts []VerificationArtifact
	if err := c.doJSON(ctx, http.MethodGet, "/api/artifacts/by-run/"+url.PathEscape(runID), nil, &artifacts); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// RecordModelPerformance stores one routing sample.
func (c *Client) RecordModelPerformance(ctx context.Context, sample ModelPerformance) error {
	return c.doJSON(ctx, http.MethodPost, "/api/model-performance", sample, nil)
}

// ModelPerformanceSamples lists samples for a provider and routing mode.
func (c *Client) ModelPerformanceSamples(ctx context.Context, providerID, mode string) ([]ModelPerformance, error) {
	path := "/api/model-performance/" + url.PathEscape(providerID) + "/" + url.PathEscape(mode)
	var samples []ModelPerformance
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// CreatePromotionEvaluation stores a promotion verdict.
func (c *Client) CreatePromotionEvaluation(ctx context.Context, eval PromotionEvaluation) (*PromotionEvaluation, error) {
	var created PromotionEvaluation
	if err := c.doJSON(ctx, http.MethodPost, "/api/promotions/evaluations", eval, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListPromotionEvaluations lists all promotion verdicts.
func (c *Client) ListPromotionEvaluations(ctx context.Context) ([]PromotionEvaluation, error) {
	var evals []PromotionEvaluation
	if err := c.doJSON(ctx, http.MethodGet, "/api/promotions/evaluations", nil, &evals); err != nil {
		return nil, err
	}
	return evals, nil
}

// GetCachedPrompt fetches a cache entry, or nil on miss.
func (c *Client) GetCachedPrompt(ctx context.Context, key string) (*CachedPrompt, error) {
	var entry CachedPrompt
	err := c.doJSON(ctx, http.MethodGet, "/api/prompt-cache/"+url.PathEscape(key), nil, &entry)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutCachedPrompt stores a cache entry under its key.
func (c *Client) PutCachedPrompt(ctx context.Context, entry CachedPrompt) error {
	return c.doJSON(ctx, http.MethodPost, "/api/prompt-cache/"+url.PathEscape(entry.Key), entry, nil)
}
