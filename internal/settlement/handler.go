package settlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/creatus-team/v3/internal/http/binding"
	"github.com/creatus-team/v3/pkg/logging"
)

// Handler serves the admin settlement routes.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settlement", h.Get)
	r.Post("/settlement/lock", h.Lock)
	r.Post("/settlement/unlock", h.Unlock)
}

// Get accepts ?year=2025&month=3 or ?month=2025-03 and defaults to the
// current KST month.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	year, month := h.svc.CurrentMonth()
	q := r.URL.Query()
	if raw := q.Get("month"); strings.Contains(raw, "-") {
		parts := strings.SplitN(raw, "-", 2)
		year, month = atoi(parts[0], year), atoi(parts[1], month)
	} else {
		year, month = atoi(q.Get("year"), year), atoi(raw, month)
	}

	report, err := h.svc.Report(r.Context(), year, month)
	if err != nil {
		h.writeError(w, "report", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": report})
}

type monthRequest struct {
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	var req monthRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.Lock(r.Context(), req.Year, req.Month)
	if err != nil {
		h.writeError(w, "lock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req monthRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	lock, err := h.svc.Unlock(r.Context(), req.Year, req.Month)
	if err != nil {
		h.writeError(w, "unlock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": lock})
}

func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidMonth):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "년/월이 올바르지 않습니다"})
	case errors.Is(err, ErrAlreadyLocked):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "이미 확정된 월입니다"})
	case errors.Is(err, ErrNotLocked):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "확정된 정산을 찾을 수 없습니다"})
	default:
		h.logger.Error("settlement "+action+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
