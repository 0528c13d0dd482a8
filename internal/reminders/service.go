// Package reminders runs the daily scheduled SMS job: D-n lesson reminders for
// students and coaches plus the day-before briefing that lists a coach's
// lessons. reminder_logs guarantees at most one send per occurrence.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/pkg/logging"
)

var tracer = otel.Tracer("creatus/reminders")

const briefingDaysBefore = 1

// TemplateSource loads the active schedule-triggered templates.
type TemplateSource interface {
	ListSchedule(ctx context.Context) ([]templates.Template, error)
}

// SessionSource finds the sessions that have a lesson on a date.
type SessionSource interface {
	ListActiveOn(ctx context.Context, date time.Time) ([]sessions.View, error)
	PostponedDates(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error)
}

// Ledger is the reminder_logs dedup table. Claim must fail with
// ErrAlreadyRecorded when the occurrence already has a row.
type Ledger interface {
	Claim(ctx context.Context, e Entry) error
	SetStatus(ctx context.Context, e Entry) error
}

// Sender sends one chosen template, and free-text admin alerts.
type Sender interface {
	SendTemplate(ctx context.Context, settings templates.Settings, msg templates.Message, t templates.Template) templates.Outcome
	AlertAdmin(ctx context.Context, text string) messaging.Result
}

type SettingsLoader interface {
	LoadSettings(ctx context.Context) (templates.Settings, error)
}

type SystemLogger interface {
	Record(ctx context.Context, e events.LogEntry) error
}

var (
	_ Ledger = (*Store)(nil)
	_ Sender = (*templates.Dispatcher)(nil)
)

type Deps struct {
	Templates TemplateSource
	Sessions  SessionSource
	Ledger    Ledger
	Sender    Sender
	Settings  SettingsLoader
	Logs      SystemLogger
	Logger    *logging.Logger
	Now       func() time.Time
}

// Result counts sessions reminded and occurrences skipped or failed.
type Result struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
}

func (r *Result) add(o Result) {
	r.Sent += o.Sent
	r.Skipped += o.Skipped
}

type Service struct {
	templates TemplateSource
	sessions  SessionSource
	ledger    Ledger
	sender    Sender
	settings  SettingsLoader
	logs      SystemLogger
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Templates == nil || d.Sessions == nil || d.Ledger == nil || d.Sender == nil {
		panic("reminders: templates, sessions, ledger and sender required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		templates: d.Templates,
		sessions:  d.Sessions,
		ledger:    d.Ledger,
		sender:    d.Sender,
		settings:  d.Settings,
		logs:      d.Logs,
		logger:    d.Logger.Component("reminders"),
		now:       d.Now,
	}
}

// Run sends every reminder due today. A failure to load templates or
// sessions fails the run; per-session failures are logged and skipped.
func (s *Service) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "reminders.run")
	defer span.End()

	res, err := s.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.record(ctx, events.Failure(events.EventSystemError, "리마인더 발송 크론잡 실패", err.Error()))
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("coaching.reminders.sent", res.Sent),
		attribute.Int("coaching.reminders.skipped", res.Skipped),
	)
	return res, nil
}

func (s *Service) run(ctx context.Context) (Result, error) {
	today := schedule.Today(s.now())
	tmpls, err := s.templates.ListSchedule(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reminders: load templates: %w", err)
	}
	if len(tmpls) == 0 {
		s.logger.Info("no active schedule templates")
		return Result{}, nil
	}

	p := newPlan(tmpls)
	if len(p.invalid) > 0 {
		s.record(ctx, events.Warning(events.EventSMSWarning, "리마인더 템플릿 설정 오류",
			"schedule_days_before가 설정되지 않은 템플릿: "+strings.Join(p.invalid, ", ")))
	}
	settings := s.loadSettings(ctx)

	var reminded, briefed Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, n := range p.days {
			r, err := s.remindDay(gctx, settings, p, today, n)
			if err != nil {
				return err
			}
			reminded.add(r)
		}
		return nil
	})
	if p.briefing != nil && settings.Enabled(messaging.RecipientCoach) {
		g.Go(func() error {
			r, err := s.brief(gctx, settings, *p.briefing, schedule.AddDays(today, briefingDaysBefore))
			briefed = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	total := reminded
	total.add(briefed)
	if total.Skipped > 0 {
		s.sender.AlertAdmin(ctx, fmt.Sprintf("[RCCC] 리마인더 발송 완료\n성공: %d건, 실패: %d건", total.Sent, total.Skipped))
	}
	s.record(ctx, events.Success(events.EventCronCompleted,
		fmt.Sprintf("리마인더 발송 완료: %d건 발송, %d건 스킵", total.Sent, total.Skipped), total))
	s.logger.Info("reminders sent", "sent", total.Sent, "skipped", total.Skipped)
	return total, nil
}

// plan indexes schedule templates by lead time.
type plan struct {
	days     []int
	byDay    map[int][]templates.Template
	first    map[string]templates.Template
	briefing *templates.Template
	invalid  []string
}

func newPlan(tmpls []templates.Template) *plan {
	p := &plan{byDay: map[int][]templates.Template{}, first: map[string]templates.Template{}}
	for _, t := range tmpls {
		if t.DaysBefore == nil {
			p.invalid = append(p.invalid, t.EventType+"/"+string(t.RecipientType))
			continue
		}
		n := *t.DaysBefore
		switch {
		case t.EventType == templates.EventCoachBriefing:
			if n == briefingDaysBefore && p.briefing == nil {
				b := t
				p.briefing = &b
			}
		case strings.HasSuffix(t.EventType, templates.FirstLessonSuffix):
			if t.RecipientType == messaging.RecipientStudent {
				p.first[strings.TrimSuffix(t.EventType, templates.FirstLessonSuffix)] = t
			}
		default:
			if _, seen := p.byDay[n]; !seen {
				p.days = append(p.days, n)
			}
			p.byDay[n] = append(p.byDay[n], t)
		}
	}
	sort.Ints(p.days)
	return p
}

// variant picks the first-lesson template for students when one exists.
func (p *plan) variant(t templates.Template, firstLesson bool) templates.Template {
	if !firstLesson || t.RecipientType != messaging.RecipientStudent {
		return t
	}
	if ft, ok := p.first[t.EventType]; ok {
		return ft
	}
	return t
}

func (s *Service) remindDay(ctx context.Context, settings templates.Settings, p *plan, today time.Time, n int) (Result, error) {
	target := schedule.AddDays(today, n)
	views, err := s.lessonsOn(ctx, target)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i := range views {
		v := &views[i]
		if v.postponed {
			res.Skipped++
			continue
		}
		out, err := s.remindSession(ctx, settings, p, &v.View, target, n)
		if err != nil {
			s.logger.Warn("reminder failed for session", "session_id", v.ID, "error", err)
			s.record(ctx, events.Warning(events.EventSMSWarning, "리마인더 세션 처리 실패: "+displayName(&v.View), err.Error()))
		}
		if out.duplicate {
			res.Skipped++
			continue
		}
		if out.sent > 0 {
			res.Sent++
		}
		if out.failed > 0 {
			res.Skipped++
		}
	}
	return res, nil
}

type sessionOutcome struct {
	duplicate bool
	sent      int
	failed    int
}

func (s *Service) remindSession(ctx context.Context, settings templates.Settings, p *plan, v *sessions.View, target time.Time, n int) (sessionOutcome, error) {
	entry := Entry{SessionID: v.ID, Date: target, Type: TypeFor(n)}
	if err := s.ledger.Claim(ctx, entry); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return sessionOutcome{duplicate: true}, nil
		}
		return sessionOutcome{}, err
	}

	lesson := v.Lesson()
	msg := templates.Reminder(n, lesson)
	msg.Coach = lesson.CoachPhone
	firstLesson := v.ExtensionCount == 0 && schedule.DateString(v.StartDate) == schedule.DateString(target)

	var out sessionOutcome
	for _, t := range p.byDay[n] {
		o := s.sender.SendTemplate(ctx, settings, msg, p.variant(t, firstLesson))
		switch {
		case o.Skipped:
		case o.Success:
			out.sent++
		default:
			out.failed++
		}
	}

	switch {
	case out.failed > 0 && out.sent == 0:
		entry.Status = StatusFailed
	case out.sent > 0:
		entry.Status = StatusSent
	default:
		return out, nil
	}
	return out, s.ledger.SetStatus(ctx, entry)
}

type coachDay struct {
	name  string
	phone string
	views []*sessions.View
}

func (s *Service) brief(ctx context.Context, settings templates.Settings, t templates.Template, target time.Time) (Result, error) {
	views, err := s.lessonsOn(ctx, target)
	if err != nil {
		return Result{}, err
	}

	var order []uuid.UUID
	byCoach := map[uuid.UUID]*coachDay{}
	for i := range views {
		v := &views[i]
		if v.postponed || v.CoachPhone == nil || *v.CoachPhone == "" {
			continue
		}
		cd, ok := byCoach[v.CoachID]
		if !ok {
			cd = &coachDay{name: v.CoachName, phone: *v.CoachPhone}
			byCoach[v.CoachID] = cd
			order = append(order, v.CoachID)
		}
		cd.views = append(cd.views, &v.View)
	}

	var res Result
	for _, id := range order {
		cd := byCoach[id]
		sent, handled, err := s.briefCoach(ctx, settings, t, cd, target)
		if err != nil {
			s.logger.Warn("coach briefing failed", "coach", cd.name, "error", err)
			continue
		}
		if !handled {
			continue
		}
		if sent {
			res.Sent++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// briefCoach reports handled=false when the briefing was already claimed or
// nothing was sent.
func (s *Service) briefCoach(ctx context.Context, settings templates.Settings, t templates.Template, cd *coachDay, target time.Time) (sent, handled bool, err error) {
	sort.SliceStable(cd.views, func(i, j int) bool { return cd.views[i].StartTime < cd.views[j].StartTime })
	anchor := cd.views[0].ID

	entry := Entry{SessionID: anchor, Date: target, Type: TypeCoachBriefing}
	if err := s.ledger.Claim(ctx, entry); err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			return false, false, nil
		}
		return false, false, err
	}

	lines := make([]string, len(cd.views))
	for i, v := range cd.views {
		lines[i] = fmt.Sprintf("• %s %s", hhmm(v.StartTime), v.UserName)
	}
	o := s.sender.SendTemplate(ctx, settings, templates.CoachBriefing(cd.name, cd.phone, lines), t)
	if o.Skipped {
		return false, false, nil
	}

	entry.Status = StatusSent
	if !o.Success {
		entry.Status = StatusFailed
	}
	return o.Success, true, s.ledger.SetStatus(ctx, entry)
}

type dayLesson struct {
	sessions.View
	postponed bool
}

func (s *Service) lessonsOn(ctx context.Context, target time.Time) ([]dayLesson, error) {
	views, err := s.sessions.ListActiveOn(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("reminders: list sessions on %s: %w", schedule.DateString(target), err)
	}
	ids := make([]uuid.UUID, len(views))
	for i := range views {
		ids[i] = views[i].ID
	}
	postponed, err := s.sessions.PostponedDates(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reminders: load postponements: %w", err)
	}
	key := schedule.DateString(target)
	out := make([]dayLesson, len(views))
	for i, v := range views {
		out[i] = dayLesson{View: v, postponed: postponed[v.ID][key]}
	}
	return out, nil
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

func (s *Service) record(ctx context.Context, e events.LogEntry) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record system log", "event_type", e.EventType, "error", err)
	}
}

func displayName(v *sessions.View) string {
	if v.UserName != "" {
		return v.UserName
	}
	return v.ID.String()
}

func hhmm(t string) string {
	if len(t) > 5 {
		return t[:5]
	}
	return t
}
