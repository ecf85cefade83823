package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/Orbit/internal/domain"
	"github.com/shaiso/Orbit/internal/telemetry"
)

func flowKeyFromPath(r *http.Request) domain.FlowKey {
	return domain.FlowKey{
		Tenant:    r.PathValue("tenant"),
		Namespace: r.PathValue("namespace"),
		FlowID:    r.PathValue("flow"),
	}
}

// ListFlows возвращает активные flows.
// GET /api/v1/flows?tenant=...
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.catalog.ListActiveFlows(r.Context(), r.URL.Query().Get("tenant"))
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDomain(f)
	}
	List(w, result, len(result))
}

// GetFlow возвращает flow по ключу.
// GET /api/v1/flows/{tenant}/{namespace}/{flow}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.catalog.Get(r.Context(), flowKeyFromPath(r))
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, FlowFromDomain(flow))
}

// GetTriggerContext возвращает состояние trigger'а.
// GET /api/v1/flows/{tenant}/{namespace}/{flow}/triggers/{trigger}
func (h *Handler) GetTriggerContext(w http.ResponseWriter, r *http.Request) {
	key := domain.TriggerKey{Flow: flowKeyFromPath(r), TriggerID: r.PathValue("trigger")}

	flow, err := h.catalog.Get(r.Context(), key.Flow)
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	if flow.Trigger(key.TriggerID) == nil {
		NotFound(w, "trigger not found")
		return
	}

	tc, err := h.scheduler.TriggerContext(r.Context(), key)
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, tc)
}

// GetConcurrency возвращает счётчик concurrency flow.
// GET /api/v1/flows/{tenant}/{namespace}/{flow}/concurrency
func (h *Handler) GetConcurrency(w http.ResponseWriter, r *http.Request) {
	limit, err := h.scheduler.Concurrency(r.Context(), flowKeyFromPath(r))
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	if limit == nil {
		NotFound(w, "no executions admitted for flow")
		return
	}
	Success(w, limit)
}

// GetWindow возвращает открытое окно composite.
// GET /api/v1/flows/{tenant}/{namespace}/{flow}/composites/{composite}
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	win, err := h.scheduler.Window(r.Context(), flowKeyFromPath(r), r.PathValue("composite"))
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	if win == nil {
		NotFound(w, "no open window")
		return
	}
	Success(w, win)
}

// SubmitExecution запускает flow вручную.
// POST /api/v1/flows/{tenant}/{namespace}/{flow}/executions
func (h *Handler) SubmitExecution(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	exec, err := h.scheduler.Submit(r.Context(), flowKeyFromPath(r), req.Inputs, req.CreatedBy)
	if HandleError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Created(w, ExecutionFromDomain(exec))
}
