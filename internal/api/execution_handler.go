package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/telemetry"
)

// GetExecution возвращает execution.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, ExecutionFromDomain(exec))
}

// KillExecution запрашивает остановку execution.
// POST /api/v1/executions/{id}/kill
func (h *Handler) KillExecution(w http.ResponseWriter, r *http.Request) {
	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "killed via api"
	}

	exec, err := h.scheduler.Kill(r.Context(), r.PathValue("id"), req.Reason)
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, ExecutionFromDomain(exec))
}

// TransitionExecution применяет переход, о котором сообщил воркер.
// POST /api/v1/executions/{id}/state
func (h *Handler) TransitionExecution(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	state, err := domain.ParseStateType(req.State)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	at := req.At
	if at.IsZero() {
		at = h.now()
	}

	exec, err := h.scheduler.Transition(r.Context(), r.PathValue("id"), state, at, req.Reason)
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, ExecutionFromDomain(exec))
}
