package inbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/http/binding"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/slotlock"
	"github.com/creatus-team/v3/pkg/logging"
)

// Handler exposes the inbox admin routes.
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
	r.Get("/inbox", h.List)
	r.Patch("/inbox/{id}", h.UpdateStatus)
	r.Post("/inbox/{id}/assign", h.Assign)
	r.Post("/inbox/{id}/reprocess", h.Reprocess)
	r.Post("/inbox/{id}/refund", h.Refund)
	r.Post("/inbox/{id}/tally-match", h.TallyMatch)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status == "ALL" {
		status = ""
	}
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	items, err := h.svc.List(r.Context(), status)
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING RESOLVED IGNORED"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.UpdateStatus(r.Context(), id, Status(req.Status)); err != nil {
		h.writeError(w, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type assignRequest struct {
	SlotID string `json:"slotId" validate:"required,uuid"`
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.svc.Assign(r.Context(), id, uuid.MustParse(req.SlotID))
	if err != nil {
		h.writeError(w, "assign", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"sessionId": v.ID, "session": v}})
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	replay, err := h.svc.Reprocess(r.Context(), id)
	if err != nil {
		h.writeError(w, "reprocess", err)
		return
	}
	if replay.MovedToInbox {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "재처리 실패: " + replay.Reason,
			"reason":  replay.Reason,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "재처리가 완료되었습니다.", "data": replay.Data})
}

type refundRequest struct {
	SessionID          string `json:"sessionId" validate:"omitempty,uuid"`
	IncludeTodayLesson *bool  `json:"includeTodayLesson"`
	Reason             string `json:"reason" validate:"max=500"`
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if err := binding.JSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	// today's lesson stays billable unless the caller sends false
	in := RefundRequest{
		ExcludeTodayLesson: req.IncludeTodayLesson != nil && !*req.IncludeTodayLesson,
		Reason:             req.Reason,
	}
	if req.SessionID != "" {
		sid := uuid.MustParse(req.SessionID)
		in.SessionID = &sid
	}
	v, err := h.svc.Refund(r.Context(), id, in)
	if err != nil {
		h.writeError(w, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": v})
}

type tallyMatchRequest struct {
	UserID    string `json:"userId" validate:"required,uuid"`
	SessionID string `json:"sessionId" validate:"omitempty,uuid"`
}

func (h *Handler) TallyMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req tallyMatchRequest
	if err := binding.JSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, err)
		return
	}
	in := TallyMatchRequest{UserID: uuid.MustParse(req.UserID)}
	if req.SessionID != "" {
		sid := uuid.MustParse(req.SessionID)
		in.SessionID = &sid
	}
	res, err := h.svc.TallyMatch(r.Context(), id, in)
	if err != nil {
		h.writeError(w, "tally match", err)
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
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, sessions.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrNoPayload):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "원본 데이터가 없습니다."})
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrAlreadyRefunded),
		errors.Is(err, ErrBadPayload), errors.Is(err, sessions.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, slotlock.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "다른 처리가 진행 중입니다. 잠시 후 다시 시도하세요."})
	default:
		h.logger.Error("inbox action failed", "action", action, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
