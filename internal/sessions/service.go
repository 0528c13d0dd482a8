package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/option"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/pkg/logging"
)

// LockChecker answers whether a settlement month is frozen.
type LockChecker interface {
	IsLocked(ctx context.Context, year, month int) (bool, error)
}

// ActivityLog appends and re-owns user activity rows.
type ActivityLog interface {
	Record(ctx context.Context, a events.Activity) error
	ReassignUser(ctx context.Context, from, to uuid.UUID) (int64, error)
}

// SystemLogger records operational audit rows.
type SystemLogger interface {
	Record(ctx context.Context, e events.LogEntry) error
}

// ChangeLog records field-level edits.
type ChangeLog interface {
	RecordChanges(ctx context.Context, table string, recordID uuid.UUID, before, after map[string]any, fields []string) (int, error)
}

// Notifier dispatches template messages.
type Notifier interface {
	Send(ctx context.Context, settings templates.Settings, msg templates.Message) templates.Result
}

// SettingsLoader loads the send toggle snapshot.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (templates.Settings, error)
}

// Deps wires a Service.
type Deps struct {
	Repo     Repository
	Locks    LockChecker
	Activity ActivityLog
	Logs     SystemLogger
	Changes  ChangeLog
	Notifier Notifier
	Settings SettingsLoader
	Logger   *logging.Logger
	Now      func() time.Time
}

// Service implements operator actions on sessions, slots and users.
type Service struct {
	repo     Repository
	locks    LockChecker
	activity ActivityLog
	logs     SystemLogger
	changes  ChangeLog
	notifier Notifier
	settings SettingsLoader
	logger   *logging.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Repo == nil {
		panic("sessions: repository required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		repo:     d.Repo,
		locks:    d.Locks,
		activity: d.Activity,
		logs:     d.Logs,
		changes:  d.Changes,
		notifier: d.Notifier,
		settings: d.Settings,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// CheckLock returns a *LockedError when the month containing date is locked.
func (s *Service) CheckLock(ctx context.Context, date time.Time) error {
	if s.locks == nil {
		return nil
	}
	locked, err := s.locks.IsLocked(ctx, date.Year(), int(date.Month()))
	if err != nil {
		return fmt.Errorf("sessions: check settlement lock: %w", err)
	}
	if locked {
		return &LockedError{Year: date.Year(), Month: int(date.Month())}
	}
	return nil
}

// CancelRequest is an operator cancellation.
type CancelRequest struct {
	Reason string
	Force  bool
}

// Cancel terminates an occupying session as CANCELLED. Lessons after today
// no longer count toward settlement.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*View, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: 취소 사유가 필요합니다", ErrInvalidInput)
	}
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Status.Occupying() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, v.Status)
	}
	if !req.Force {
		if err := s.CheckLock(ctx, v.StartDate); err != nil {
			return nil, err
		}
	}

	now := s.now()
	today := schedule.Today(now)
	if err := s.repo.Terminate(ctx, id, Termination{
		Status:            StatusCancelled,
		CancelledAt:       now,
		Reason:            reason,
		EarlyTerminatedAt: today,
		EarlyReason:       TerminationOther,
	}); err != nil {
		return nil, err
	}
	prev := v.Status
	v.Status = StatusCancelled
	v.CancelledAt = &now
	v.CancellationReason = &reason
	v.EarlyTerminatedAt = &today

	s.recordActivity(ctx, events.Activity{
		UserID:    v.UserID,
		SessionID: &v.ID,
		Action:    events.ActionCancel,
		Reason:    reason,
		Metadata:  map[string]any{"previous_status": string(prev), "force_update": req.Force},
	})
	s.recordLog(ctx, events.Success(events.EventSessionCancelled,
		fmt.Sprintf("세션 취소: %s (%s/%s/%s)", v.UserName, v.CoachName, v.Day, v.StartTime),
		map[string]any{"sessionId": v.ID.String(), "reason": reason}))
	s.notify(ctx, templates.Cancel(v.Lesson(), reason))
	return v, nil
}

// PostponeRequest skips the next Weeks lesson dates.
type PostponeRequest struct {
	Weeks  int
	Reason string
	Force  bool
}

// PostponeResult describes an applied postponement.
type PostponeResult struct {
	SessionID      uuid.UUID `json:"sessionId"`
	PostponedDates []string  `json:"postponedDates"`
	NewEndDate     string    `json:"newEndDate"`
	ResumeDate     string    `json:"resumeDate"`
}

// Postpone skips the next req.Weeks lesson dates and extends the end date by
// one week per skipped lesson.
func (s *Service) Postpone(ctx context.Context, id uuid.UUID, req PostponeRequest) (*PostponeResult, error) {
	if req.Weeks < 1 || req.Weeks > 3 {
		return nil, fmt.Errorf("%w: 연기 주수는 1~3주입니다", ErrInvalidInput)
	}
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Status.Occupying() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, v.Status)
	}
	if !req.Force {
		if err := s.CheckLock(ctx, v.StartDate); err != nil {
			return nil, err
		}
	}

	existing, err := s.repo.ListPostponements(ctx, id)
	if err != nil {
		return nil, err
	}
	today := schedule.Today(s.now())
	dates := SelectPostponeDates(v.Session, existing, today, req.Weeks)
	if len(dates) < req.Weeks {
		return nil, &NotEnoughLessonsError{Available: len(dates)}
	}

	newEnd := schedule.PostponedEndDate(v.EndDate, req.Weeks)
	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.InsertPostponements(ctx, id, dates, strings.TrimSpace(req.Reason)); err != nil {
			return err
		}
		return tx.UpdateEndDate(ctx, id, newEnd)
	})
	if err != nil {
		if errors.Is(err, ErrSlotOccupied) {
			return nil, fmt.Errorf("%w: 연장된 기간이 다음 세션과 겹칩니다", err)
		}
		return nil, err
	}
	v.EndDate = newEnd

	resume := schedule.AddDays(dates[len(dates)-1], 7)
	result := &PostponeResult{
		SessionID:  id,
		NewEndDate: schedule.DateString(newEnd),
		ResumeDate: schedule.DateString(resume),
	}
	for _, d := range dates {
		result.PostponedDates = append(result.PostponedDates, schedule.DateString(d))
	}

	s.recordActivity(ctx, events.Activity{
		UserID:    v.UserID,
		SessionID: &v.ID,
		Action:    events.ActionPostpone,
		Reason:    req.Reason,
		Metadata:  map[string]any{"dates": result.PostponedDates, "weeks": req.Weeks, "new_end_date": result.NewEndDate},
	})
	s.recordLog(ctx, events.Success(events.EventSessionPostponed,
		fmt.Sprintf("수강 연기: %s %d주 (%s)", v.UserName, req.Weeks, strings.Join(result.PostponedDates, ", ")),
		result))
	s.notify(ctx, templates.Postpone(v.Lesson(), dates, resume))
	return result, nil
}

// SelectPostponeDates picks up to weeks lesson dates to skip, starting from
// today or from the latest existing postponement when that is later.
// Today qualifies only when it is itself an unpostponed lesson day.
func SelectPostponeDates(ss Session, existing []Postponement, today time.Time, weeks int) []time.Time {
	already := make(map[string]bool, len(existing))
	startFrom := today
	for _, p := range existing {
		already[schedule.DateString(p.Date)] = true
		if p.Date.After(startFrom) {
			startFrom = p.Date
		}
	}

	var first time.Time
	if startFrom.Equal(today) && schedule.IsLessonDay(ss.Window(), today) && !already[schedule.DateString(today)] {
		first = today
	} else {
		first = schedule.NextAfter(startFrom, ss.Day)
	}

	var out []time.Time
	for d := first; !d.After(ss.EndDate) && len(out) < weeks; d = schedule.AddDays(d, 7) {
		if d.Before(ss.StartDate) || already[schedule.DateString(d)] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// TransitionResult reports the day-boundary status changes.
type TransitionResult struct {
	Activated int64  `json:"activated"`
	Expired   int64  `json:"expired"`
	Date      string `json:"date"`
}

// TransitionStatuses activates sessions whose start date has arrived and
// expires sessions whose end date has passed.
func (s *Service) TransitionStatuses(ctx context.Context) (TransitionResult, error) {
	today := schedule.Today(s.now())
	res := TransitionResult{Date: schedule.DateString(today)}
	var err error
	if res.Activated, err = s.repo.ActivateDue(ctx, today); err != nil {
		return res, err
	}
	if res.Expired, err = s.repo.ExpireDue(ctx, today); err != nil {
		return res, err
	}
	s.recordLog(ctx, events.Success(events.EventCronCompleted,
		fmt.Sprintf("세션 상태 전환 완료: 활성화 %d건, 만료 %d건", res.Activated, res.Expired), res))
	return res, nil
}

// SlotUpdate is a partial slot edit.
type SlotUpdate struct {
	Day          *schedule.Day
	StartTime    *string
	OpenChatLink *string
	IsActive     *bool
}

var slotFields = []string{"day_of_week", "start_time", "end_time", "open_chat_link", "is_active"}

func slotSnapshot(sl *Slot) map[string]any {
	return map[string]any{
		"day_of_week":    string(sl.Day),
		"start_time":     sl.StartTime,
		"end_time":       sl.EndTime,
		"open_chat_link": sl.ChatLinkOrEmpty(),
		"is_active":      sl.IsActive,
	}
}

// UpdateSlot edits a slot. Moving its day or time moves every occupying
// session along with it and notifies both parties.
func (s *Service) UpdateSlot(ctx context.Context, id uuid.UUID, upd SlotUpdate) (*Slot, error) {
	sl, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	occupying, err := s.repo.OccupyingOnSlot(ctx, id)
	if err != nil {
		return nil, err
	}
	before := slotSnapshot(sl)
	prevDay, prevTime := sl.Day, sl.StartTime

	if upd.IsActive != nil {
		if !*upd.IsActive && sl.IsActive && len(occupying) > 0 {
			return nil, fmt.Errorf("%w: 진행 중인 세션 %d건", ErrSlotInUse, len(occupying))
		}
		sl.IsActive = *upd.IsActive
	}
	if upd.Day != nil {
		if !upd.Day.Valid() {
			return nil, fmt.Errorf("%w: 요일 형식 오류", ErrInvalidInput)
		}
		sl.Day = *upd.Day
	}
	if upd.StartTime != nil {
		end, err := option.EndTime(*upd.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: 시간 형식 오류", ErrInvalidInput)
		}
		sl.StartTime, sl.EndTime = *upd.StartTime, end
	}
	if upd.OpenChatLink != nil {
		link := strings.TrimSpace(*upd.OpenChatLink)
		sl.OpenChatLink = nullableString(link)
	}
	moved := sl.Day != prevDay || sl.StartTime != prevTime

	err = s.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.SaveSlot(ctx, sl); err != nil {
			return err
		}
		if moved {
			_, err := tx.RescheduleSlotSessions(ctx, sl.ID, sl.Day, sl.StartTime)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.changes != nil {
		if _, err := s.changes.RecordChanges(ctx, "coach_slots", sl.ID, before, slotSnapshot(sl), slotFields); err != nil {
			s.logger.Error("failed to record slot changes", "slot_id", sl.ID, "error", err)
		}
	}
	if moved {
		s.announceSlotMove(ctx, occupying, prevDay, prevTime)
	}
	return sl, nil
}

func (s *Service) announceSlotMove(ctx context.Context, occupying []Session, prevDay schedule.Day, prevTime string) {
	settings := s.loadSettings(ctx)
	for _, ss := range occupying {
		v, err := s.repo.GetView(ctx, ss.ID)
		if err != nil {
			s.logger.Error("slot change: load session failed", "session_id", ss.ID, "error", err)
			continue
		}
		s.recordActivity(ctx, events.Activity{
			UserID:    v.UserID,
			SessionID: &v.ID,
			Action:    events.ActionSlotTimeChange,
			Reason:    fmt.Sprintf("%s %s → %s %s", prevDay, prevTime, v.Day, v.StartTime),
		})
		if s.notifier != nil {
			s.notifier.Send(ctx, settings, templates.SlotChange(v.Lesson(), prevDay, prevTime))
		}
	}
}

// DeleteSlot removes a slot that no session occupies.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	occupying, err := s.repo.OccupyingOnSlot(ctx, id)
	if err != nil {
		return err
	}
	if len(occupying) > 0 {
		return fmt.Errorf("%w: 진행 중인 세션 %d건", ErrSlotInUse, len(occupying))
	}
	return s.repo.DeleteSlot(ctx, id)
}

// MergeResult reports a completed user merge.
type MergeResult struct {
	KeepUserID    uuid.UUID `json:"keepUserId"`
	MovedSessions int64     `json:"movedSessions"`
	MovedLogs     int64     `json:"movedLogs"`
}

// MergeUsers moves everything owned by mergeID onto keepID and deletes mergeID.
func (s *Service) MergeUsers(ctx context.Context, keepID, mergeID uuid.UUID) (*MergeResult, error) {
	if keepID == mergeID {
		return nil, fmt.Errorf("%w: 같은 사용자는 병합할 수 없습니다", ErrInvalidInput)
	}
	keep, err := s.repo.GetUser(ctx, keepID)
	if err != nil {
		return nil, err
	}
	merge, err := s.repo.GetUser(ctx, mergeID)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{KeepUserID: keepID}
	if s.activity != nil {
		if res.MovedLogs, err = s.activity.ReassignUser(ctx, mergeID, keepID); err != nil {
			return nil, err
		}
	}
	err = s.repo.InTx(ctx, func(tx Repository) error {
		var err error
		if res.MovedSessions, err = tx.ReassignSessions(ctx, mergeID, keepID); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, mergeID)
	})
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, events.Activity{
		UserID:   keepID,
		Action:   events.ActionUserMerge,
		Reason:   merge.Phone + " → " + keep.Phone,
		Metadata: map[string]any{"merged_user_id": mergeID.String(), "merged_name": merge.Name, "moved_sessions": res.MovedSessions},
	})
	return res, nil
}

// RecommendExtension sends the extension nudge for a session.
func (s *Service) RecommendExtension(ctx context.Context, id uuid.UUID) (templates.Result, error) {
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return templates.Result{}, err
	}
	if s.notifier == nil {
		return templates.Result{}, nil
	}
	return s.notifier.Send(ctx, s.loadSettings(ctx), templates.ExtensionRecommend(v.Lesson())), nil
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
