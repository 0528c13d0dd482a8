package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/creatus-team/v3/internal/archive"
	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/pkg/logging"
)

var tracer = otel.Tracer("creatus/settlement")

// SessionSource reads the sessions and postponements a month settles.
type SessionSource interface {
	ListSettled(ctx context.Context, from, to time.Time) ([]sessions.View, error)
	PostponedDates(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error)
}

// Locks persists month locks.
type Locks interface {
	Active(ctx context.Context, year, month int) (*Lock, error)
	Lock(ctx context.Context, year, month int) (*Lock, error)
	Unlock(ctx context.Context, year, month int, at time.Time) (*Lock, error)
}

var (
	_ Locks                = (*LockStore)(nil)
	_ sessions.LockChecker = (*LockStore)(nil)
)

// Archiver stores an immutable snapshot of a locked month.
type Archiver interface {
	ArchiveSettlement(ctx context.Context, snap *archive.Snapshot) (string, error)
}

// ReportMailer emails the plain-text report.
type ReportMailer interface {
	SendReport(ctx context.Context, subject, body string) error
}

// SystemLogger records operational audit rows.
type SystemLogger interface {
	Record(ctx context.Context, e events.LogEntry) error
}

// Deps wires a Service.
type Deps struct {
	Sessions SessionSource
	Locks    Locks
	Archive  Archiver
	Mailer   ReportMailer
	Logs     SystemLogger
	Logger   *logging.Logger
	Now      func() time.Time
}

// Service serves settlement reports and month locks.
type Service struct {
	sessions SessionSource
	locks    Locks
	archive  Archiver
	mailer   ReportMailer
	logs     SystemLogger
	logger   *logging.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	if d.Sessions == nil || d.Locks == nil {
		panic("settlement: session source and lock store required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		sessions: d.Sessions,
		locks:    d.Locks,
		archive:  d.Archive,
		mailer:   d.Mailer,
		logs:     d.Logs,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// CurrentMonth returns the KST year and month of now.
func (s *Service) CurrentMonth() (int, int) {
	today := schedule.Today(s.now())
	return today.Year(), int(today.Month())
}

// Report computes year/month. The session read and the lock lookup run
// concurrently.
func (s *Service) Report(ctx context.Context, year, month int) (*Report, error) {
	if err := ValidMonth(year, month); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "settlement.report")
	defer span.End()
	span.SetAttributes(attribute.Int("coaching.year", year), attribute.Int("coaching.month", month))

	from, to := schedule.MonthBounds(year, time.Month(month))
	var (
		views     []sessions.View
		postponed map[uuid.UUID]map[string]bool
		lock      *Lock
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		views, err = s.sessions.ListSettled(gctx, from, to)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(views))
		for _, v := range views {
			ids = append(ids, v.ID)
		}
		postponed, err = s.sessions.PostponedDates(gctx, ids)
		return err
	})
	g.Go(func() error {
		l, err := s.locks.Active(gctx, year, month)
		if errors.Is(err, ErrNotLocked) {
			return nil
		}
		lock = l
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement fetch failed")
		return nil, fmt.Errorf("settlement: load month: %w", err)
	}

	report := Compute(year, month, views, postponed)
	report.Lock = lock
	report.IsLocked = lock != nil
	span.SetAttributes(
		attribute.Int("coaching.sessions", len(views)),
		attribute.Int("coaching.lessons", report.Summary.TotalLessons),
	)
	return report, nil
}

// LockResult describes an applied lock.
type LockResult struct {
	Lock       *Lock  `json:"lock"`
	ArchiveKey string `json:"archiveKey,omitempty"`
	Emailed    bool   `json:"emailed"`
}

// Lock freezes year/month, archives the report as locked and mails it.
// Archive and mail failures are logged; the lock stands.
func (s *Service) Lock(ctx context.Context, year, month int) (*LockResult, error) {
	report, err := s.Report(ctx, year, month)
	if err != nil {
		return nil, err
	}
	if report.IsLocked {
		return nil, ErrAlreadyLocked
	}
	lock, err := s.locks.Lock(ctx, year, month)
	if err != nil {
		return nil, err
	}
	report.Lock = lock
	report.IsLocked = true
	res := &LockResult{Lock: lock}

	if s.archive != nil {
		key, err := s.archive.ArchiveSettlement(ctx, &archive.Snapshot{
			LockID:            lock.ID.String(),
			Year:              year,
			Month:             month,
			LockedAt:          lock.LockedAt,
			TotalLessons:      report.Summary.TotalLessons,
			TotalCoachPayment: report.Summary.TotalCoachPayment,
			Report:            report,
		})
		if err != nil {
			s.logger.Warn("settlement archive failed", "lock_id", lock.ID, "error", err)
			s.recordLog(ctx, events.Warning(events.EventSystemError,
				fmt.Sprintf("정산 스냅샷 저장 실패 (%s)", report.TargetMonth), err.Error()))
		}
		res.ArchiveKey = key
	}

	if s.mailer != nil {
		subject := fmt.Sprintf("[크리투스 코칭] %d년 %d월 정산 확정", year, month)
		if err := s.mailer.SendReport(ctx, subject, FormatText(report)); err != nil {
			s.logger.Warn("settlement report email failed", "lock_id", lock.ID, "error", err)
		} else {
			res.Emailed = true
		}
	}

	s.recordLog(ctx, events.Success(events.EventSettlementLocked,
		fmt.Sprintf("정산 확정: %s (총 %d회, 코치 지급 %s)", report.TargetMonth,
			report.Summary.TotalLessons, Won(report.Summary.TotalCoachPayment)),
		map[string]any{"lockId": lock.ID.String(), "archiveKey": res.ArchiveKey}))
	return res, nil
}

// Unlock lifts the month's active lock.
func (s *Service) Unlock(ctx context.Context, year, month int) (*Lock, error) {
	if err := ValidMonth(year, month); err != nil {
		return nil, err
	}
	lock, err := s.locks.Unlock(ctx, year, month, s.now())
	if err != nil {
		return nil, err
	}
	s.recordLog(ctx, events.Success(events.EventSettlementUnlocked,
		fmt.Sprintf("정산 확정 취소: %04d-%02d", year, month),
		map[string]any{"lockId": lock.ID.String()}))
	return lock, nil
}

func (s *Service) recordLog(ctx context.Context, e events.LogEntry) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record system log", "event_type", e.EventType, "error", err)
	}
}
