package templates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/http/binding"
	"github.com/creatus-team/v3/pkg/logging"
)

type adminStore interface {
	List(ctx context.Context) ([]Template, error)
	Update(ctx context.Context, t Template) error
	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
}

// Handler serves template and toggle administration.
type Handler struct {
	store  adminStore
	logger *logging.Logger
}

func NewHandler(store adminStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sms/templates", h.ListTemplates)
	r.Put("/sms/templates/{id}", h.UpdateTemplate)
	r.Get("/sms/settings", h.GetSettings)
	r.Put("/sms/settings", h.PutSettings)
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("list templates failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list templates"})
		return
	}
	if list == nil {
		list = []Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": list})
}

type updateTemplateRequest struct {
	Content    string  `json:"content" validate:"required"`
	IsActive   *bool   `json:"isActive"`
	DaysBefore *int    `json:"daysBefore" validate:"omitempty,min=0,max=30"`
	SendTime   *string `json:"sendTime" validate:"omitempty,len=5"`
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req updateTemplateRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	err = h.store.Update(r.Context(), Template{ID: id, Content: req.Content, IsActive: active, DaysBefore: req.DaysBefore, SendTime: req.SendTime})
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "template not found"})
	case err != nil:
		h.logger.Error("update template failed", "template_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update template"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.LoadSettings(r.Context())
	if err != nil {
		h.logger.Error("load sms settings failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": settings})
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.store.SaveSettings(r.Context(), settings); err != nil {
		h.logger.Error("save sms settings failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": settings})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
