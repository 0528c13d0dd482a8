package messaging

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatus-team/v3/pkg/logging"
)

// Handler exposes SMS delivery maintenance endpoints.
type Handler struct {
	refresher *Refresher
	logger    *logging.Logger
}

func NewHandler(refresher *Refresher, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{refresher: refresher, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sms/refresh-status", h.RefreshStatus)
}

type refreshRequest struct {
	IDs []string `json:"ids"`
}

// RefreshStatus handles POST /api/admin/sms/refresh-status.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id: " + raw})
			return
		}
		ids = append(ids, id)
	}
	summary, err := h.refresher.Refresh(r.Context(), ids)
	if err != nil {
		h.logger.Error("sms refresh failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": summary})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
