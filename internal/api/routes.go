package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// служебные
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("GET /api/v1/flows/{tenant}/{namespace}/{flow}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("GET /api/v1/flows/{tenant}/{namespace}/{flow}/triggers/{trigger}", chain(http.HandlerFunc(h.GetTriggerContext)))
	mux.Handle("GET /api/v1/flows/{tenant}/{namespace}/{flow}/concurrency", chain(http.HandlerFunc(h.GetConcurrency)))
	mux.Handle("GET /api/v1/flows/{tenant}/{namespace}/{flow}/composites/{composite}", chain(http.HandlerFunc(h.GetWindow)))
	mux.Handle("POST /api/v1/flows/{tenant}/{namespace}/{flow}/executions", chain(http.HandlerFunc(h.SubmitExecution)))

	// Executions
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("POST /api/v1/executions/{id}/kill", chain(http.HandlerFunc(h.KillExecution)))
	mux.Handle("POST /api/v1/executions/{id}/state", chain(http.HandlerFunc(h.TransitionExecution)))
}

// Routes возвращает готовый mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}
