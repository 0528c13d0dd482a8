package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/ingest/payload"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/option"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/slotlock"
	"github.com/creatus-team/v3/pkg/logging"
)

var (
	// ErrNoPayload is returned when an action needs the stored payload and the item has none.
	ErrNoPayload = errors.New("inbox: item has no stored payload")
	// ErrSlotTaken is returned when the chosen slot already has an occupying session.
	ErrSlotTaken = errors.New("선택한 슬롯에 이미 수강생이 있습니다.")
	// ErrAlreadyRefunded is returned when the chosen session is already refunded.
	ErrAlreadyRefunded = errors.New("이미 환불 처리된 세션입니다.")
	// ErrBadPayload is returned when the stored payload cannot identify the booking.
	ErrBadPayload = errors.New("inbox: payload cannot be matched")
	// ErrSendFailed is returned when a manual notification could not be delivered.
	ErrSendFailed = errors.New("inbox: message send failed")
)

// Items is the inbox persistence surface.
type Items interface {
	Create(ctx context.Context, e Entry) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	List(ctx context.Context, status Status) ([]Item, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, meta map[string]any) error
}

var _ Items = (*Store)(nil)

// RawWebhooks flips the processed flag on stored payloads.
type RawWebhooks interface {
	SetProcessed(ctx context.Context, id uuid.UUID, processed bool) error
}

// ActivityLog appends user activity rows.
type ActivityLog interface {
	Record(ctx context.Context, a events.Activity) error
}

// SystemLogger records operational audit rows.
type SystemLogger interface {
	Record(ctx context.Context, e events.LogEntry) error
}

// Notifier dispatches template messages.
type Notifier interface {
	Send(ctx context.Context, settings templates.Settings, msg templates.Message) templates.Result
}

// SettingsLoader loads the send toggle snapshot.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (templates.Settings, error)
}

// Locker serializes bookings on one slot.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Replay is the outcome of re-running the pipeline on a stored payload.
type Replay struct {
	MovedToInbox bool           `json:"movedToInbox"`
	Reason       string         `json:"reason,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Reprocessor re-runs ingestion for a stored raw webhook.
type Reprocessor interface {
	Reprocess(ctx context.Context, rawID uuid.UUID) (Replay, error)
}

// Deps wires a Service.
type Deps struct {
	Items       Items
	Repo        sessions.Repository
	Raw         RawWebhooks
	Activity    ActivityLog
	Logs        SystemLogger
	Notifier    Notifier
	Settings    SettingsLoader
	Locker      Locker
	Reprocessor Reprocessor
	Logger      *logging.Logger
	Now         func() time.Time
}

// Service implements operator actions on inbox items.
type Service struct {
	items       Items
	repo        sessions.Repository
	raw         RawWebhooks
	activity    ActivityLog
	logs        SystemLogger
	notifier    Notifier
	settings    SettingsLoader
	locker      Locker
	reprocessor Reprocessor
	logger      *logging.Logger
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Items == nil || d.Repo == nil {
		panic("inbox: items and repository required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		items:       d.Items,
		repo:        d.Repo,
		raw:         d.Raw,
		activity:    d.Activity,
		logs:        d.Logs,
		notifier:    d.Notifier,
		settings:    d.Settings,
		locker:      d.Locker,
		reprocessor: d.Reprocessor,
		logger:      d.Logger.Component("inbox"),
		now:         d.Now,
	}
}

// SetReprocessor attaches the pipeline after construction; the pipeline itself
// writes to the inbox, so the two are built in sequence.
func (s *Service) SetReprocessor(r Reprocessor) {
	s.reprocessor = r
}

func (s *Service) List(ctx context.Context, status Status) ([]Item, error) {
	return s.items.List(ctx, status)
}

// UpdateStatus sets the resolution status. IGNORED is the terminal "ignore" action.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", sessions.ErrInvalidInput, status)
	}
	return s.items.SetStatus(ctx, id, status, nil)
}

func (s *Service) loadWithPayload(ctx context.Context, id uuid.UUID) (*Item, payload.Sheet, error) {
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, payload.Sheet{}, err
	}
	if len(it.Payload) == 0 {
		return it, payload.Sheet{}, ErrNoPayload
	}
	sheet, err := payload.ParseSheet(it.Payload)
	if err != nil && !errors.Is(err, payload.ErrMissingIdentity) {
		return it, sheet, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return it, sheet, nil
}

// Assign books the item's payer onto slotID.
func (s *Service) Assign(ctx context.Context, id, slotID uuid.UUID) (*sessions.View, error) {
	it, sheet, err := s.loadWithPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	coach, err := s.repo.GetCoach(ctx, slot.CoachID)
	if err != nil {
		return nil, err
	}
	normalized := phone.Normalize(sheet.Phone)
	if !phone.IsValid(normalized) {
		return nil, fmt.Errorf("%w: 유효하지 않은 전화번호", ErrBadPayload)
	}

	release, err := s.lock(ctx, slot.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	occupying, err := s.repo.OccupyingOnSlot(ctx, slot.ID)
	if err != nil {
		return nil, err
	}
	if len(occupying) > 0 {
		return nil, ErrSlotTaken
	}

	user, err := s.repo.FindOrCreateUser(ctx, sheet.NameOr(sessions.DefaultUserName), normalized, sheet.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	start := schedule.StartDate(slot.Day, now)
	ss := sessions.Enrollment{
		UserID:      user.ID,
		Slot:        slot,
		Start:       start,
		PaymentDate: schedule.DateOf(schedule.ParseDateTime(sheet.PaidAt, start)),
		Amount:      sheet.AmountValue(),
		Product:     sheet.Product,
	}.Session()
	if err := s.repo.CreateSession(ctx, ss); err != nil {
		if errors.Is(err, sessions.ErrSlotOccupied) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	assigned := sessions.Describe(coach.Name, slot.Day, slot.StartTime)
	s.recordActivity(ctx, events.Activity{
		UserID:    user.ID,
		SessionID: &ss.ID,
		Action:    events.ActionEnroll,
		Reason:    "인박스 수동 배정",
		Metadata: map[string]any{
			"inboxId":      it.ID.String(),
			"originalSlot": it.RawText,
			"assignedSlot": assigned,
		},
	})
	s.resolve(ctx, it, nil)
	s.recordLog(ctx, events.Success(events.EventSessionCreated,
		fmt.Sprintf("수동 배정 완료: %s → %s", user.Name, assigned),
		map[string]any{"inboxId": it.ID.String(), "sessionId": ss.ID.String()}))

	v, err := s.repo.GetView(ctx, ss.ID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, templates.NewEnroll(v.Lesson()))
	return v, nil
}

// Reprocess marks the item ignored and re-runs the pipeline on its payload.
// A run that lands back in the inbox creates a fresh item.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) (Replay, error) {
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return Replay{}, err
	}
	if it.RawWebhookID == nil || len(it.Payload) == 0 {
		return Replay{}, ErrNoPayload
	}
	if s.reprocessor == nil {
		return Replay{}, errors.New("inbox: reprocessing not configured")
	}
	if err := s.items.SetStatus(ctx, it.ID, StatusIgnored, nil); err != nil {
		return Replay{}, err
	}
	if s.raw != nil {
		if err := s.raw.SetProcessed(ctx, *it.RawWebhookID, false); err != nil {
			return Replay{}, err
		}
	}
	return s.reprocessor.Reprocess(ctx, *it.RawWebhookID)
}

// RefundRequest selects how an inbox refund is applied.
type RefundRequest struct {
	SessionID          *uuid.UUID
	ExcludeTodayLesson bool
	Reason             string
}

// Refund terminates the chosen session as REFUNDED. Without an explicit
// session, the newest occupying session matching the payload's payer, coach
// and day is used.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, req RefundRequest) (*sessions.View, error) {
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var sheet payload.Sheet
	if len(it.Payload) > 0 {
		sheet, _ = payload.ParseSheet(it.Payload)
	}

	var target *sessions.View
	if req.SessionID != nil {
		target, err = s.repo.GetView(ctx, *req.SessionID)
	} else {
		target, err = s.matchRefund(ctx, it, sheet)
	}
	if err != nil {
		return nil, err
	}
	if target.Status == sessions.StatusRefunded {
		return nil, ErrAlreadyRefunded
	}

	now := s.now()
	eta := schedule.Today(now)
	if req.ExcludeTodayLesson {
		eta = schedule.Yesterday(now)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = strings.TrimSpace(sheet.CancelReason)
	}
	if reason == "" {
		reason = "인박스에서 수동 환불"
	}
	if err := s.repo.Terminate(ctx, target.ID, sessions.Termination{
		Status:            sessions.StatusRefunded,
		CancelledAt:       now,
		Reason:            reason,
		EarlyTerminatedAt: eta,
		EarlyReason:       sessions.TerminationRefund,
	}); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, events.Activity{
		UserID:    target.UserID,
		SessionID: &target.ID,
		Action:    events.ActionCancel,
		Reason:    "인박스 수동 환불",
		Metadata:  map[string]any{"inboxId": it.ID.String(), "cancellationReason": reason},
	})
	s.resolve(ctx, it, nil)
	s.recordLog(ctx, events.Success(events.EventRefundAutoProcessed,
		fmt.Sprintf("인박스 수동 환불: %s", target.UserName),
		map[string]any{"inboxId": it.ID.String(), "sessionId": target.ID.String(), "earlyTerminatedAt": schedule.DateString(eta)}))
	s.notify(ctx, templates.Refund(target.Lesson(), reason))

	return s.repo.GetView(ctx, target.ID)
}

func (s *Service) matchRefund(ctx context.Context, it *Item, sheet payload.Sheet) (*sessions.View, error) {
	if len(it.Payload) == 0 {
		return nil, ErrNoPayload
	}
	parsed, err := option.Parse(sheet.Option)
	if err != nil {
		return nil, fmt.Errorf("%w: 구매옵션 파싱 실패", ErrBadPayload)
	}
	user, err := s.repo.FindUserByPhone(ctx, phone.Normalize(sheet.Phone))
	if err != nil {
		return nil, err
	}
	coach, err := s.repo.FindCoachByName(ctx, parsed.Coach)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.OccupyingByUserCoachDay(ctx, user.ID, coach.ID, parsed.Day)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, sessions.ErrNotFound
	}
	return &candidates[0], nil
}

// TallyMatchRequest points an unmatched form submission at a user.
type TallyMatchRequest struct {
	UserID    uuid.UUID
	SessionID *uuid.UUID
}

// TallyMatch sends the form follow-up template for the chosen user and
// resolves the item.
func (s *Service) TallyMatch(ctx context.Context, id uuid.UUID, req TallyMatchRequest) (templates.Result, error) {
	it, err := s.items.Get(ctx, id)
	if err != nil {
		return templates.Result{}, err
	}
	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return templates.Result{}, err
	}
	var v *sessions.View
	if req.SessionID != nil {
		v, err = s.repo.GetView(ctx, *req.SessionID)
		if err != nil {
			return templates.Result{}, err
		}
	} else {
		active, err := s.repo.OccupyingByUser(ctx, user.ID)
		if err != nil {
			return templates.Result{}, err
		}
		if len(active) == 0 {
			return templates.Result{}, sessions.ErrNotFound
		}
		v = &active[0]
	}

	meta := it.Meta()
	formType, _ := meta["formType"].(string)
	if formType == "" || formType == string(payload.FormUnknown) {
		formType = string(payload.FormApplication)
	}
	msg := templates.TallyApplication(v.Lesson())
	if formType == string(payload.FormDiagnosis) {
		msg = templates.TallyDiagnosis(v.Lesson())
	}

	var res templates.Result
	if s.notifier != nil {
		res = s.notifier.Send(ctx, s.loadSettings(ctx), msg)
	}
	if res.Failed() > 0 {
		return res, ErrSendFailed
	}

	if err := s.items.SetStatus(ctx, it.ID, StatusResolved, map[string]any{
		"resolvedAt":       s.now().UTC().Format(time.RFC3339),
		"matchedUserId":    user.ID.String(),
		"matchedUserName":  user.Name,
		"matchedUserPhone": user.Phone,
	}); err != nil {
		return res, err
	}
	s.recordLog(ctx, events.Success(events.EventSMSSent,
		fmt.Sprintf("Tally %s 수동 매칭 완료", formType),
		map[string]any{"inboxId": it.ID.String(), "userId": user.ID.String(), "sessionId": v.ID.String()}))
	return res, nil
}

func (s *Service) lock(ctx context.Context, slotID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, slotlock.SlotKey(slotID.String()))
}

func (s *Service) resolve(ctx context.Context, it *Item, meta map[string]any) {
	if err := s.items.SetStatus(ctx, it.ID, StatusResolved, meta); err != nil {
		s.logger.Error("failed to resolve inbox item", "inbox_id", it.ID, "error", err)
	}
	if it.RawWebhookID == nil || s.raw == nil {
		return
	}
	if err := s.raw.SetProcessed(ctx, *it.RawWebhookID, true); err != nil {
		s.logger.Error("failed to mark raw webhook processed", "raw_webhook_id", *it.RawWebhookID, "error", err)
	}
}

func (s *Service) loadSettings(ctx context.Context) templates.Settings {
	if s.settings == nil {
		return templates.DefaultSettings()
	}
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("sms settings unavailable, using defaults", "error", err)
		return templates.DefaultSettings()
	}
	return settings
}

func (s *Service) notify(ctx context.Context, msg templates.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, s.loadSettings(ctx), msg)
}

func (s *Service) recordActivity(ctx context.Context, a events.Activity) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, a); err != nil {
		s.logger.Error("failed to record activity", "action", string(a.Action), "user_id", a.UserID, "error", err)
	}
}

func (s *Service) recordLog(ctx context.Context, e events.LogEntry) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Record(ctx, e); err != nil {
		s.logger.Error("failed to record system log", "event_type", string(e.EventType), "error", err)
	}
}
