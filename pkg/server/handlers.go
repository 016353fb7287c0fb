package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autoagent/autoagent/pkg/controlplane"
	"github.com/autoagent/autoagent/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store sentinels onto status codes. Resolve
// conflicts carry their reason as the error message so clients can
// distinguish already_resolved, expired and context_mismatch.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, controlplane.ResolveAlreadyResolved)
	case errors.Is(err, store.ErrExpired):
		writeError(w, http.StatusConflict, controlplane.ResolveExpired)
	case errors.Is(err, store.ErrContextMismatch):
		writeError(w, http.StatusConflict, controlplane.ResolveContextMismatch)
	case errors.Is(err, store.ErrRunTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Control-plane request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req controlplane.CreateRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	run, err := s.store.CreateRun(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var req controlplane.UpdateRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	run, err := s.store.UpdateRun(r.Context(), runID, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if run.Status.Terminal() {
		// A terminal run can never answer its prompts, so pending ones
		// are released immediately rather than waiting out their expiry.
		if cancelled, err := s.store.CancelPendingPrompts(r.Context(), runID); err != nil {
			slog.Warn("Failed to cancel pending prompts", "run_id", runID, "error", err)
		} else if cancelled > 0 {
			slog.Info("Cancelled pending prompts", "run_id", runID, "count", cancelled)
		}
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendTrace(w http.ResponseWriter, r *http.Request) {
	var req controlplane.AppendTraceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.store.AppendTrace(r.Context(), chi.URLParam(r, "runID"), req); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListTraces(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTraceMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.store.TraceMetrics(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var req controlplane.CreateApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	approval, err := s.store.CreateApproval(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	status := controlplane.ApprovalStatus(r.URL.Query().Get("status"))
	approvals, err := s.store.ListApprovals(r.Context(), runID, status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := s.store.GetApproval(r.Context(), chi.URLParam(r, "approvalID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req controlplane.ResolveApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	approval, err := s.store.ResolveApproval(r.Context(), chi.URLParam(r, "approvalID"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var provider controlplane.Provider
	if !decodeJSON(w, r, &provider) {
		return
	}
	created, err := s.store.CreateProvider(r.Context(), provider)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := s.store.GetProvider(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var provider controlplane.Provider
	if !decodeJSON(w, r, &provider) {
		return
	}
	updated, err := s.store.UpdateProvider(r.Context(), chi.URLParam(r, "providerID"), provider)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings controlplane.Settings
	if !decodeJSON(w, r, &settings) {
		return
	}
	updated, err := s.store.PutSettings(r.Context(), settings)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSaveExecutionState(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var state controlplane.ExecutionState
	if !decodeJSON(w, r, &state) {
		return
	}
	if state.RunID == "" {
		state.RunID = runID
	}
	if state.RunID != runID {
		writeError(w, http.StatusBadRequest, "runId in body does not match path")
		return
	}
	if err := s.store.SaveExecutionState(r.Context(), state); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetExecutionState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetExecutionState(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteExecutionState(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteExecutionState(r.Context(), chi.URLParam(r, "runID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req controlplane.CreateThreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	thread, err := s.store.CreateThread(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleThreadByRun(w http.ResponseWriter, r *http.Request) {
	thread, err := s.store.ThreadByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleListThreadMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleAppendThreadMessage(w http.ResponseWriter, r *http.Request) {
	var req controlplane.AppendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	message, err := s.store.AppendMessage(r.Context(), chi.URLParam(r, "threadID"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req controlplane.CreatePromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	prompt, err := s.store.CreatePrompt(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.store.GetPrompt(r.Context(), chi.URLParam(r, "promptID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	var req controlplane.AnswerPromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	prompt, err := s.store.AnswerPrompt(r.Context(), chi.URLParam(r, "promptID"), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handlePromptsByRun(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.store.PromptsByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var artifact controlplane.VerificationArtifact
	if !decodeJSON(w, r, &artifact) {
		return
	}
	created, err := s.store.CreateArtifact(r.Context(), artifact)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleArtifactsByRun(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.store.ArtifactsByRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleRecordModelPerformance(w http.ResponseWriter, r *http.Request) {
	var sample controlplane.ModelPerformance
	if !decodeJSON(w, r, &sample) {
		return
	}
	if err := s.store.RecordModelPerformance(r.Context(), sample); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleModelPerformanceSamples(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	mode := chi.URLParam(r, "mode")
	samples, err := s.store.ModelPerformanceSamples(r.Context(), providerID, mode)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleCreatePromotionEvaluation(w http.ResponseWriter, r *http.Request) {
	var eval controlplane.PromotionEvaluation
	if !decodeJSON(w, r, &eval) {
		return
	}
	created, err := s.store.CreatePromotionEvaluation(r.Context(), eval)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPromotionEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := s.store.ListPromotionEvaluations(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

func (s *Server) handleGetCachedPrompt(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCachedPrompt(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePutCachedPrompt(w http.ResponseWriter, r *http.Request) {
	var entry controlplane.CachedPrompt
	if !decodeJSON(w, r, &entry) {
		return
	}
	entry.Key = chi.URLParam(r, "key")
	if err := s.store.PutCachedPrompt(r.Context(), entry); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
