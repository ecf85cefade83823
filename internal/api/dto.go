package api

import (
	"time"

	"github.com/shaiso/Orbit/internal/domain"
)

// SubmitRequest — запрос на ручной запуск flow.
type SubmitRequest struct {
	Inputs    map[string]any `json:"inputs,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// KillRequest — запрос на остановку execution.
type KillRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TransitionRequest — сообщение воркера о смене состояния execution.
type TransitionRequest struct {
	State  string    `json:"state"`
	At     time.Time `json:"at,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// FlowResponse — flow из каталога.
type FlowResponse struct {
	Key         string                 `json:"key"`
	Revision    int                    `json:"revision"`
	Disabled    bool                   `json:"disabled"`
	Triggers    []domain.TriggerDef    `json:"triggers"`
	Composites  []domain.CompositeDef  `json:"composites,omitempty"`
	Concurrency *domain.ConcurrencyDef `json:"concurrency,omitempty"`
}

// FlowFromDomain конвертирует domain.FlowDescriptor в FlowResponse.
func FlowFromDomain(f *domain.FlowDescriptor) FlowResponse {
	return FlowResponse{
		Key:         f.Key().String(),
		Revision:    f.Revision,
		Disabled:    f.Disabled,
		Triggers:    f.Triggers,
		Composites:  f.Composites,
		Concurrency: f.Concurrency,
	}
}

// ExecutionResponse — execution с вычисленной длительностью.
type ExecutionResponse struct {
	*domain.Execution
	Finished bool   `json:"finished"`
	Duration string `json:"duration,omitempty"`
}

// ExecutionFromDomain конвертирует domain.Execution в ExecutionResponse.
func ExecutionFromDomain(e *domain.Execution) ExecutionResponse {
	resp := ExecutionResponse{Execution: e, Finished: e.IsFinished()}
	if d, ok := e.Duration(); ok {
		resp.Duration = d.String()
	}
	return resp
}
