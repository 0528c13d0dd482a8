package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/observability/metrics"
	"github.com/creatus-team/v3/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Handler serves the webhook intake routes and the log replay route.
type Handler struct {
	pipeline *Pipeline
	metrics  *metrics.IngestMetrics
	logger   *logging.Logger
}

func NewHandler(pipeline *Pipeline, m *metrics.IngestMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{pipeline: pipeline, metrics: m, logger: logger}
}

// RegisterRoutes mounts the provider webhooks. Callers wrap r with the token
// middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ingest/sheet", h.Sheet)
	r.Post("/ingest/tally", h.Tally)
}

// RegisterAdminRoutes mounts operator routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/logs/{id}/reprocess", h.ReprocessLog)
}

// Rejected records an unauthenticated webhook call. It matches the
// middleware's reject hook signature.
func (h *Handler) Rejected(r *http.Request) {
	h.metrics.ObserveWebhook(sourceOf(r), "unauthorized")
	h.pipeline.recordLog(r.Context(), events.Failure(events.EventWebhookFailed,
		"웹훅 인증 실패: "+r.URL.Path, map[string]any{"remoteAddr": r.RemoteAddr}))
}

func sourceOf(r *http.Request) string {
	if strings.HasSuffix(r.URL.Path, "/tally") {
		return "tally"
	}
	return "sheet"
}

func (h *Handler) Sheet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveLatency("sheet", time.Since(start).Seconds()) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.ObserveWebhook("sheet", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.pipeline.Sheet(r.Context(), body)
	switch {
	case errors.Is(err, ErrMissingFields):
		h.metrics.ObserveWebhook("sheet", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	case errors.Is(err, ErrMalformed):
		h.metrics.ObserveWebhook("sheet", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	case err != nil:
		h.metrics.ObserveWebhook("sheet", "error")
		h.logger.Error("sheet webhook failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	h.metrics.ObserveWebhook("sheet", string(res.Outcome))
	writeResult(w, res, map[string]any{"status": "duplicate_ignored"})
}

func (h *Handler) Tally(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveLatency("tally", time.Since(start).Seconds()) }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.ObserveWebhook("tally", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.pipeline.Tally(r.Context(), body, r.Header.Get("Tally-Signature"))
	switch {
	case errors.Is(err, ErrBadSignature):
		h.metrics.ObserveWebhook("tally", "unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	case errors.Is(err, ErrInvalidPhone):
		h.metrics.ObserveWebhook("tally", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid phone number"})
		return
	case errors.Is(err, ErrMalformed):
		h.metrics.ObserveWebhook("tally", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	case err != nil:
		h.metrics.ObserveWebhook("tally", "error")
		h.logger.Error("tally webhook failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	h.metrics.ObserveWebhook("tally", string(res.Outcome))
	writeResult(w, res, map[string]any{"success": true, "message": "Already processed"})
}

func (h *Handler) ReprocessLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	res, err := h.pipeline.ReprocessLog(r.Context(), id)
	switch {
	case errors.Is(err, events.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "로그를 찾을 수 없습니다."})
		return
	case errors.Is(err, ErrNotReprocessable), errors.Is(err, ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "재처리할 수 없는 로그입니다."})
		return
	case errors.Is(err, ErrAlreadyProcessed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "이미 처리된 웹훅입니다."})
		return
	case err != nil:
		h.logger.Error("log reprocess failed", "log_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "재처리 중 오류가 발생했습니다."})
		return
	}
	h.metrics.ObserveWebhook("reprocess", string(res.Outcome))
	writeResult(w, res, map[string]any{"status": "duplicate_ignored"})
}

func writeResult(w http.ResponseWriter, res Result, duplicate map[string]any) {
	switch res.Outcome {
	case OutcomeDuplicate:
		writeJSON(w, http.StatusOK, duplicate)
	case OutcomeInboxed:
		writeJSON(w, http.StatusOK, map[string]any{"status": string(OutcomeInboxed), "reason": res.Reason, "inboxId": res.InboxID})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res.Data})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
