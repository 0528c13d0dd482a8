package sessions

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/http/binding"
	"github.com/creatus-team/v3/internal/observability/metrics"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/pkg/logging"
)

// Handler exposes operator session actions.
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

// RegisterRoutes mounts the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{id}/cancel", h.Cancel)
	r.Post("/sessions/{id}/postpone", h.Postpone)
	r.Post("/sessions/{id}/extension-recommend", h.RecommendExtension)
	r.Patch("/slots/{id}", h.UpdateSlot)
	r.Delete("/slots/{id}", h.DeleteSlot)
	r.Post("/users/merge", h.MergeUsers)
}

// RegisterCronRoutes mounts the day-boundary job.
func (h *Handler) RegisterCronRoutes(r chi.Router) {
	r.Get("/session-status", h.TransitionStatuses)
	r.Post("/session-status", h.TransitionStatuses)
}

type cancelRequest struct {
	Reason      string `json:"reason" validate:"required"`
	ForceUpdate bool   `json:"forceUpdate"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.svc.Cancel(r.Context(), id, CancelRequest{Reason: req.Reason, Force: req.ForceUpdate})
	if err != nil {
		h.writeError(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": v})
}

type postponeRequest struct {
	Weeks       int    `json:"weeks" validate:"required,min=1,max=3"`
	Reason      string `json:"reason" validate:"max=500"`
	ForceUpdate bool   `json:"forceUpdate"`
}

func (h *Handler) Postpone(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req postponeRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.Postpone(r.Context(), id, PostponeRequest{Weeks: req.Weeks, Reason: req.Reason, Force: req.ForceUpdate})
	if err != nil {
		h.writeError(w, "postpone", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func (h *Handler) RecommendExtension(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RecommendExtension(r.Context(), id)
	if err != nil {
		h.writeError(w, "extension recommend", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": res.Failed() == 0, "data": res})
}

func (h *Handler) TransitionStatuses(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.TransitionStatuses(r.Context())
	if err != nil {
		h.cron.ObserveRun("session_status", "error")
		h.writeError(w, "status transition", err)
		return
	}
	h.cron.ObserveRun("session_status", "success")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

type slotRequest struct {
	DayOfWeek    *string `json:"dayOfWeek" validate:"omitempty"`
	StartTime    *string `json:"startTime" validate:"omitempty,len=5"`
	OpenChatLink *string `json:"openChatLink" validate:"omitempty,max=500"`
	IsActive     *bool   `json:"isActive"`
}

func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	upd := SlotUpdate{StartTime: req.StartTime, OpenChatLink: req.OpenChatLink, IsActive: req.IsActive}
	if req.DayOfWeek != nil {
		day, ok := schedule.ParseDay(*req.DayOfWeek)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid dayOfWeek"})
			return
		}
		upd.Day = &day
	}
	sl, err := h.svc.UpdateSlot(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, "update slot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": sl})
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSlot(r.Context(), id); err != nil {
		h.writeError(w, "delete slot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type mergeRequest struct {
	KeepUserID  string `json:"keepUserId" validate:"required,uuid"`
	MergeUserID string `json:"mergeUserId" validate:"required,uuid"`
}

func (h *Handler) MergeUsers(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.MergeUsers(r.Context(), uuid.MustParse(req.KeepUserID), uuid.MustParse(req.MergeUserID))
	if err != nil {
		h.writeError(w, "merge users", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, action string, err error) {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       locked.Error(),
			"isLocked":    true,
			"targetMonth": locked.TargetMonth(),
		})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidState), errors.Is(err, ErrSlotInUse):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrSlotOccupied):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("session action failed", "action", action, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
