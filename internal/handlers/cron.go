package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"runclub-milestones/internal/config"
	"runclub-milestones/internal/worker"
)

// CronHandler exposes the queue drain to an external scheduler
type CronHandler struct {
	worker *worker.Worker
	config *config.Config
	logger *slog.Logger
}

// NewCronHandler creates a new cron handler
func NewCronHandler(w *worker.Worker, cfg *config.Config) *CronHandler {
	return &CronHandler{
		worker: w,
		config: cfg,
		logger: slog.Default(),
	}
}

// HandleProcessQueue drains one batch from the queue. Per-item failures are
// reflected in the counts; only a failure to read the queue itself is a 500.
func (h *CronHandler) HandleProcessQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.CronSecret)) != 1 {
		h.logger.Warn("Cron trigger rejected: bad authorization")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	result, err := h.worker.ProcessQueue(r.Context())
	if err != nil {
		h.logger.Error("Queue drain failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "queue read failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"processed": result.Processed,
		"failed":    result.Failed,
	})
}
