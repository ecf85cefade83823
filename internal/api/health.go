package api

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout — время на проверку хранилища.
const healthTimeout = 2 * time.Second

// Health отвечает 200, если хранилище доступно, иначе 503.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.scheduler.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
