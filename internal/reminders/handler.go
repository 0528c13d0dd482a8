package reminders

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/creatus-team/v3/internal/observability/metrics"
	"github.com/creatus-team/v3/pkg/logging"
)

// Handler exposes the reminder job to the scheduler.
type Handler struct {
	svc    *Service
	cron   *metrics.CronMetrics
	logger *logging.Logger
}

func NewHandler(svc *Service, cron *metrics.CronMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, cron: cron, logger: logger}
}

// RegisterCronRoutes mounts the job. Schedulers that only issue GET are supported.
func (h *Handler) RegisterCronRoutes(r chi.Router) {
	r.Get("/reminders", h.Run)
	r.Post("/reminders", h.Run)
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Run(r.Context())
	if err != nil {
		h.cron.ObserveRun("reminders", "error")
		h.logger.Error("reminder cron failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Cron job failed"})
		return
	}
	h.cron.ObserveRun("reminders", "success")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
