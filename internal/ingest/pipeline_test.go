package ingest_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/inbox/inboxtest"
	"github.com/creatus-team/v3/internal/ingest"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/sessions/sessionstest"
	"github.com/creatus-team/v3/internal/slotlock"
)

// 2025-03-10 is a Monday.
var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, schedule.KST)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []templates.Message
}

func (n *recordingNotifier) Send(_ context.Context, _ templates.Settings, msg templates.Message) templates.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return templates.Result{Outcomes: []templates.Outcome{{Recipient: messaging.RecipientStudent, Success: true}}}
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Event)
	}
	return out
}

type recordingAlerts struct{ texts []string }

func (a *recordingAlerts) AlertAdmin(_ context.Context, text string) messaging.Result {
	a.texts = append(a.texts, text)
	return messaging.Result{Success: true}
}

type recordingActivity struct{ rows []events.Activity }

func (a *recordingActivity) Record(_ context.Context, act events.Activity) error {
	a.rows = append(a.rows, act)
	return nil
}

// memoryLogs keeps system logs addressable by id so replays can find them.
type memoryLogs struct {
	rows   []events.LogEntry
	stored map[uuid.UUID]*events.SystemLog
}

func newMemoryLogs() *memoryLogs { return &memoryLogs{stored: map[uuid.UUID]*events.SystemLog{}} }

func (l *memoryLogs) Record(_ context.Context, e events.LogEntry) error {
	l.rows = append(l.rows, e)
	return nil
}

func (l *memoryLogs) Get(_ context.Context, id uuid.UUID) (*events.SystemLog, error) {
	row, ok := l.stored[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return row, nil
}

func (l *memoryLogs) SetProcessStatus(_ context.Context, id uuid.UUID, status events.ProcessStatus) error {
	row, ok := l.stored[id]
	if !ok {
		return events.ErrNotFound
	}
	row.ProcessStatus = status
	return nil
}

// seed stores a log row carrying raw as raw_data.
func (l *memoryLogs) seed(et events.EventType, raw string) uuid.UUID {
	id := uuid.New()
	l.stored[id] = &events.SystemLog{ID: id, EventType: et, RawData: &raw, ProcessStatus: events.ProcessPending}
	return id
}

func (l *memoryLogs) types() []events.EventType {
	out := make([]events.EventType, 0, len(l.rows))
	for _, r := range l.rows {
		out = append(out, r.EventType)
	}
	return out
}

type stubLocker struct{ busy bool }

func (s *stubLocker) Acquire(context.Context, string) (func(), error) {
	if s.busy {
		return nil, slotlock.ErrBusy
	}
	return func() {}, nil
}

type fixture struct {
	repo     *sessionstest.Memory
	items    *inboxtest.Memory
	raw      *inboxtest.RawWebhooks
	logs     *memoryLogs
	activity *recordingActivity
	notifier *recordingNotifier
	alerts   *recordingAlerts
	locker   *stubLocker
	coach    sessions.Coach
	slot     sessions.Slot
	now      time.Time
	pipeline *ingest.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     sessionstest.New(),
		items:    inboxtest.New(),
		logs:     newMemoryLogs(),
		activity: &recordingActivity{},
		notifier: &recordingNotifier{},
		alerts:   &recordingAlerts{},
		locker:   &stubLocker{},
		now:      testNow,
	}
	f.raw = inboxtest.NewRawWebhooks(f.items)
	f.coach = f.repo.AddCoach("김코치", sessions.GradeRegular, "01099998888")
	f.slot = f.repo.AddSlot(f.coach.ID, schedule.Tuesday, "20:00")
	f.pipeline = ingest.NewPipeline(ingest.Deps{
		Repo:     f.repo,
		Raw:      f.raw,
		Inbox:    f.items,
		Logs:     f.logs,
		Activity: f.activity,
		Notifier: f.notifier,
		Alerts:   f.alerts,
		Locker:   f.locker,
		Now:      func() time.Time { return f.now },
	})
	return f
}

// book seeds an occupying session for user starting on start.
func (f *fixture) book(t *testing.T, user sessions.User, start time.Time, paid time.Time) *sessions.Session {
	t.Helper()
	slot := f.slot
	ss := sessions.Enrollment{UserID: user.ID, Slot: &slot, Start: start, PaymentDate: paid}.Session()
	ss.Status = sessions.StatusActive
	require.NoError(t, f.repo.CreateSession(context.Background(), ss))
	return ss
}

func sheetBody(overrides map[string]string) []byte {
	body := map[string]string{
		"전화번호": "010-1234-5678",
		"이름":   "홍길동",
		"일시":   "2025-03-08T10:00:00+09:00",
		"구매옵션": "김코치 / 화요일 / 20:00 ~ 20:40",
		"결제금액": "250,000원",
	}
	for k, v := range overrides {
		if v == "" {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return b
}

func TestSheetEnrollCreatesPendingSession(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeCompleted, res.Outcome)
	assert.Equal(t, false, res.Data["isRenewal"])

	all := f.repo.Sessions()
	require.Len(t, all, 1)
	ss := all[0]
	assert.Equal(t, sessions.StatusPending, ss.Status)
	assert.Equal(t, schedule.Date(2025, 3, 11), ss.StartDate)
	assert.Equal(t, schedule.Date(2025, 4, 7), ss.EndDate)
	require.NotNil(t, ss.PaymentDate)
	assert.Equal(t, schedule.Date(2025, 3, 8), *ss.PaymentDate)
	require.NotNil(t, ss.PaymentAmount)
	assert.Equal(t, int64(250000), *ss.PaymentAmount)
	assert.Equal(t, sessions.DefaultProductName, *ss.ProductName)

	require.Len(t, f.activity.rows, 1)
	assert.Equal(t, events.ActionEnroll, f.activity.rows[0].Action)
	assert.Equal(t, "2025-03-11", f.activity.rows[0].Metadata["startDate"])
	assert.Contains(t, f.logs.types(), events.EventSessionCreated)
	assert.Equal(t, []string{templates.EventNewEnroll}, f.notifier.events())
	assert.Empty(t, f.items.All())

	user, err := f.repo.FindUserByPhone(context.Background(), "01012345678")
	require.NoError(t, err)
	assert.Equal(t, "홍길동", user.Name)
}

func TestSheetMarksRawProcessed(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)

	w, err := f.raw.FindByKey(context.Background(), "01012345678_2025-03-08T10:00:00+09:00")
	require.NoError(t, err)
	assert.True(t, f.raw.Processed(w.ID))
	assert.Equal(t, events.SourceGoogleSheet, w.Source)
}

func TestSheetDuplicateDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	body := sheetBody(nil)

	_, err := f.pipeline.Sheet(context.Background(), body)
	require.NoError(t, err)
	res, err := f.pipeline.Sheet(context.Background(), body)
	require.NoError(t, err)

	assert.Equal(t, ingest.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 1, f.raw.Len())
	assert.Len(t, f.repo.Sessions(), 1)
	assert.Contains(t, f.logs.types(), events.EventWebhookDuplicate)
}

func TestSheetMissingFieldsIsNotPersisted(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Sheet(context.Background(), sheetBody(map[string]string{"전화번호": ""}))
	assert.ErrorIs(t, err, ingest.ErrMissingFields)
	assert.Equal(t, 0, f.raw.Len())
	require.Len(t, f.logs.rows, 1)
	assert.Equal(t, events.EventWebhookFailed, f.logs.rows[0].EventType)
	assert.Equal(t, events.ProcessPending, f.logs.rows[0].ProcessStatus)
}

func TestSheetMalformedBody(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Sheet(context.Background(), []byte(`[1,2`))
	assert.ErrorIs(t, err, ingest.ErrMalformed)
	assert.Equal(t, 0, f.raw.Len())
}

func TestSheetSlotConflictWithOtherUser(t *testing.T) {
	f := newFixture(t)
	other := f.repo.AddUser("김철수", "01055556666")
	f.book(t, other, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))

	res, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeInboxed, res.Outcome)
	assert.Equal(t, "slot_conflict", res.Reason)

	assert.Len(t, f.repo.Sessions(), 1)
	items := f.items.All()
	require.Len(t, items, 1)
	assert.Equal(t, inbox.ErrorSlotConflict, items[0].ErrorType)
	assert.Equal(t, "slot_conflict", items[0].Meta()["reason"])
	assert.NotEmpty(t, items[0].Payload)
	assert.Contains(t, f.logs.types(), events.EventSlotConflict)
	assert.Equal(t, []string{templates.EventSlotConflict}, f.notifier.events())
}

func TestSheetSameUserSameSlotIsDuplicatePayment(t *testing.T) {
	f := newFixture(t)
	user := f.repo.AddUser("홍길동", "01012345678")
	f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))

	res, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)
	assert.Equal(t, "duplicate_session", res.Reason)
	assert.Len(t, f.repo.Sessions(), 1)
	require.Len(t, f.alerts.texts, 1)
	assert.Contains(t, f.alerts.texts[0], "중복 결제 감지")
	assert.Equal(t, inbox.ErrorParseFailed, f.items.All()[0].ErrorType)
}

func TestSheetEnrollInboxReasons(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]string
		reason    string
		alert     string
	}{
		{name: "unparseable option", overrides: map[string]string{"구매옵션": "래피드코칭"}, reason: "parse_failed", alert: "웹훅 파싱 실패"},
		{name: "unknown coach", overrides: map[string]string{"구매옵션": "박코치 / 화요일 / 20:00"}, reason: "coach_not_found", alert: "코치 매칭 실패"},
		{name: "no slot", overrides: map[string]string{"구매옵션": "김코치 / 수요일 / 20:00"}, reason: "slot_not_found"},
		{name: "invalid phone", overrides: map[string]string{"전화번호": "02-123-4567"}, reason: "invalid_phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.pipeline.Sheet(context.Background(), sheetBody(tt.overrides))
			require.NoError(t, err)
			assert.Equal(t, ingest.OutcomeInboxed, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, f.repo.Sessions())

			items := f.items.All()
			require.Len(t, items, 1)
			assert.Equal(t, inbox.ErrorParseFailed, items[0].ErrorType)
			if tt.alert != "" {
				require.Len(t, f.alerts.texts, 1)
				assert.True(t, strings.HasPrefix(f.alerts.texts[0], "[크리투스 코칭] "+tt.alert))
			}
		})
	}
}

func TestSheetSlotBusyParksPayload(t *testing.T) {
	f := newFixture(t)
	f.locker.busy = true

	res, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)
	assert.Equal(t, "slot_busy", res.Reason)
	assert.Equal(t, inbox.ErrorSlotConflict, f.items.All()[0].ErrorType)
	assert.Empty(t, f.repo.Sessions())
}

func cancellation(overrides map[string]string) []byte {
	o := map[string]string{"상태": "결제 취소", "취소사유": "단순 변심"}
	for k, v := range overrides {
		o[k] = v
	}
	return sheetBody(o)
}

func TestSheetRefundAutoProcessed(t *testing.T) {
	f := newFixture(t)
	user := f.repo.AddUser("홍길동", "01012345678")
	ss := f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 3, 8))

	res, err := f.pipeline.Sheet(context.Background(), cancellation(nil))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "refunded", res.Data["status"])

	got, err := f.repo.GetSession(context.Background(), ss.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusRefunded, got.Status)
	require.NotNil(t, got.EarlyTerminatedAt)
	assert.Equal(t, schedule.Date(2025, 3, 10), *got.EarlyTerminatedAt)
	assert.Equal(t, "단순 변심", *got.CancellationReason)
	assert.Equal(t, sessions.TerminationRefund, *got.EarlyTerminationReason)

	require.Len(t, f.activity.rows, 1)
	assert.Equal(t, events.ActionRefund, f.activity.rows[0].Action)
	assert.Contains(t, f.logs.types(), events.EventRefundAutoProcessed)
	assert.Equal(t, []string{templates.EventRefund}, f.notifier.events())
}

func TestSheetRefundAfterEnrollmentWithSameTimestamp(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)

	res, err := f.pipeline.Sheet(context.Background(), cancellation(nil))
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, f.raw.Len())
	assert.Equal(t, sessions.StatusRefunded, f.repo.Sessions()[0].Status)
}

func TestSheetRefundInboxReasons(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		body   []byte
		reason string
	}{
		{
			name:   "unparseable option",
			body:   cancellation(map[string]string{"구매옵션": "래피드코칭"}),
			reason: "refund_parse_failed",
		},
		{
			name:   "unknown user",
			body:   cancellation(nil),
			reason: "user_not_found",
		},
		{
			name: "unknown coach",
			setup: func(t *testing.T, f *fixture) {
				f.repo.AddUser("홍길동", "01012345678")
			},
			body:   cancellation(map[string]string{"구매옵션": "박코치 / 화요일 / 20:00"}),
			reason: "coach_not_found",
		},
		{
			name: "no candidate session",
			setup: func(t *testing.T, f *fixture) {
				f.repo.AddUser("홍길동", "01012345678")
			},
			body:   cancellation(nil),
			reason: "session_not_found",
		},
		{
			name: "payment date mismatch",
			setup: func(t *testing.T, f *fixture) {
				user := f.repo.AddUser("홍길동", "01012345678")
				f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))
			},
			body:   cancellation(nil),
			reason: "payment_date_mismatch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			res, err := f.pipeline.Sheet(context.Background(), tt.body)
			require.NoError(t, err)
			assert.Equal(t, ingest.OutcomeInboxed, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			items := f.items.All()
			require.Len(t, items, 1)
			assert.Equal(t, inbox.ErrorRefundMatchFailed, items[0].ErrorType)
			for _, ss := range f.repo.Sessions() {
				assert.True(t, ss.Status.Occupying())
			}
		})
	}
}

func TestSheetRefundOnLessonDayNeedsOperator(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2025, 3, 11, 9, 0, 0, 0, schedule.KST) // Tuesday
	user := f.repo.AddUser("홍길동", "01012345678")
	ss := f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 3, 8))

	res, err := f.pipeline.Sheet(context.Background(), cancellation(nil))
	require.NoError(t, err)
	assert.Equal(t, "refund_on_lesson_day", res.Reason)
	got, err := f.repo.GetSession(context.Background(), ss.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusActive, got.Status)
	require.Len(t, f.alerts.texts, 1)
	assert.Contains(t, f.alerts.texts[0], "오늘이 수업일입니다.")
	assert.Equal(t, ss.ID.String(), f.items.All()[0].Meta()["sessionId"])
}

func renewalBody(overrides map[string]string) []byte {
	o := map[string]string{"_source": "RENEWAL", "구매옵션": "", "일시": "2025-03-29T11:00:00+09:00"}
	for k, v := range overrides {
		o[k] = v
	}
	return sheetBody(o)
}

func TestSheetRenewalChainsNewSession(t *testing.T) {
	f := newFixture(t)
	user := f.repo.AddUser("홍길동", "01012345678")
	prev := f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))

	res, err := f.pipeline.Sheet(context.Background(), renewalBody(nil))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeCompleted, res.Outcome)
	assert.Equal(t, true, res.Data["isRenewal"])
	assert.Equal(t, prev.ID.String(), res.Data["previousSessionId"])

	all := f.repo.Sessions()
	require.Len(t, all, 2)
	next := all[1]
	assert.Equal(t, schedule.Date(2025, 4, 1), next.StartDate)
	assert.Equal(t, schedule.Date(2025, 4, 28), next.EndDate)
	assert.Equal(t, 1, next.ExtensionCount)
	assert.Equal(t, sessions.StatusPending, next.Status)
	assert.Equal(t, prev.SlotID, next.SlotID)
	assert.Equal(t, schedule.Date(2025, 3, 29), *next.PaymentDate)
	assert.Equal(t, sessions.RenewalProductName, *next.ProductName)

	require.Len(t, f.activity.rows, 1)
	assert.Equal(t, events.ActionRenewal, f.activity.rows[0].Action)
	assert.Equal(t, "2025-03-31", f.activity.rows[0].Metadata["previousEndDate"])
	assert.Equal(t, []string{templates.EventRenewal}, f.notifier.events())
}

func TestSheetRenewalNeverGuesses(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.pipeline.Sheet(context.Background(), renewalBody(nil))
		require.NoError(t, err)
		assert.Equal(t, "user_not_found", res.Reason)
		assert.Contains(t, f.alerts.texts[0], "기존 수강생 없음")
	})
	t.Run("no active session", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddUser("홍길동", "01012345678")
		res, err := f.pipeline.Sheet(context.Background(), renewalBody(nil))
		require.NoError(t, err)
		assert.Equal(t, "no_active_session", res.Reason)
	})
	t.Run("several sessions", func(t *testing.T) {
		f := newFixture(t)
		user := f.repo.AddUser("홍길동", "01012345678")
		f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))
		other := f.repo.AddSlot(f.coach.ID, schedule.Thursday, "19:00")
		ss := sessions.Enrollment{UserID: user.ID, Slot: &other, Start: schedule.Date(2025, 3, 6), PaymentDate: schedule.Date(2025, 2, 28)}.Session()
		require.NoError(t, f.repo.CreateSession(context.Background(), ss))

		res, err := f.pipeline.Sheet(context.Background(), renewalBody(nil))
		require.NoError(t, err)
		assert.Equal(t, "multiple_sessions", res.Reason)
		assert.Len(t, f.repo.Sessions(), 2)
		assert.Len(t, f.items.All()[0].Meta()["candidateSessionIds"], 2)
	})
}

func TestSheetRenewalCancellationRefundsSingleSession(t *testing.T) {
	f := newFixture(t)
	user := f.repo.AddUser("홍길동", "01012345678")
	ss := f.book(t, user, schedule.Date(2025, 3, 4), schedule.Date(2025, 2, 28))

	res, err := f.pipeline.Sheet(context.Background(), renewalBody(map[string]string{"상태": "결제 취소"}))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeCompleted, res.Outcome)

	got, err := f.repo.GetSession(context.Background(), ss.ID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusRefunded, got.Status)
	assert.Equal(t, "재결제 환불", *got.CancellationReason)
	require.Len(t, f.activity.rows, 1)
	assert.Equal(t, events.ActionCancel, f.activity.rows[0].Action)
}

func TestReprocessRunsStoredPayload(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Sheet(context.Background(), sheetBody(map[string]string{"구매옵션": "박코치 / 화요일 / 20:00"}))
	require.NoError(t, err)
	require.Equal(t, "coach_not_found", res.Reason)

	item := f.items.All()[0]
	require.NotNil(t, item.RawWebhookID)
	park := f.repo.AddCoach("박코치", sessions.GradeSenior, "")

	replay, err := f.pipeline.Reprocess(context.Background(), *item.RawWebhookID)
	require.NoError(t, err)
	assert.True(t, replay.MovedToInbox)
	assert.Equal(t, "slot_not_found", replay.Reason)
	assert.Contains(t, f.logs.types(), events.EventWebhookReprocessed)

	f.repo.AddSlot(park.ID, schedule.Tuesday, "20:00")
	replay, err = f.pipeline.Reprocess(context.Background(), *item.RawWebhookID)
	require.NoError(t, err)
	assert.False(t, replay.MovedToInbox)
	assert.NotEmpty(t, replay.Data["sessionId"])
	assert.True(t, f.raw.Processed(*item.RawWebhookID))
}

func TestReprocessLogReplaysUnstoredPayload(t *testing.T) {
	f := newFixture(t)
	logID := f.logs.seed(events.EventWebhookFailed, string(sheetBody(nil)))

	res, err := f.pipeline.ReprocessLog(context.Background(), logID)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, f.raw.Len())
	assert.Equal(t, events.ProcessResolved, f.logs.stored[logID].ProcessStatus)
	assert.Contains(t, f.logs.types(), events.EventWebhookReprocessed)
}

func TestReprocessLogRejectsProcessedAndForeignRows(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Sheet(context.Background(), sheetBody(nil))
	require.NoError(t, err)

	done := f.logs.seed(events.EventWebhookFailed, string(sheetBody(nil)))
	_, err = f.pipeline.ReprocessLog(context.Background(), done)
	assert.ErrorIs(t, err, ingest.ErrAlreadyProcessed)

	sms := f.logs.seed(events.EventSMSFailed, string(sheetBody(nil)))
	_, err = f.pipeline.ReprocessLog(context.Background(), sms)
	assert.ErrorIs(t, err, ingest.ErrNotReprocessable)

	_, err = f.pipeline.ReprocessLog(context.Background(), uuid.New())
	assert.ErrorIs(t, err, events.ErrNotFound)
}
