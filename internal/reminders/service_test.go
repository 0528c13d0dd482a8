package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
)

// Monday 2025-03-10 09:00 KST; D-1 is Tuesday 03-11.
var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, schedule.KST)

type fakeTemplates struct {
	list []templates.Template
	err  error
}

func (f *fakeTemplates) ListSchedule(context.Context) ([]templates.Template, error) {
	return f.list, f.err
}

type fakeSessions struct {
	byDate    map[string][]sessions.View
	postponed map[uuid.UUID]map[string]bool
	err       error
}

func (f *fakeSessions) ListActiveOn(_ context.Context, date time.Time) ([]sessions.View, error) {
	if f.err != nil {
		return nil, f.err
	}
	src := f.byDate[schedule.DateString(date)]
	out := make([]sessions.View, len(src))
	copy(out, src)
	return out, nil
}

func (f *fakeSessions) PostponedDates(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]map[string]bool, error) {
	out := map[uuid.UUID]map[string]bool{}
	for _, id := range ids {
		if d, ok := f.postponed[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type ledgerKey struct {
	session uuid.UUID
	date    string
	kind    string
}

type memoryLedger struct {
	mu       sync.Mutex
	rows     map[ledgerKey]Status
	claimErr error
}

func newMemoryLedger() *memoryLedger { return &memoryLedger{rows: map[ledgerKey]Status{}} }

func (m *memoryLedger) Claim(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return m.claimErr
	}
	k := ledgerKey{e.SessionID, schedule.DateString(e.Date), e.Type}
	if _, ok := m.rows[k]; ok {
		return ErrAlreadyRecorded
	}
	m.rows[k] = StatusPending
	return nil
}

func (m *memoryLedger) SetStatus(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey{e.SessionID, schedule.DateString(e.Date), e.Type}
	if _, ok := m.rows[k]; !ok {
		return errors.New("no row")
	}
	m.rows[k] = e.Status
	return nil
}

func (m *memoryLedger) status(id uuid.UUID, date, kind string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[ledgerKey{id, date, kind}]
	return s, ok
}

type sentTemplate struct {
	event string
	to    string
	vars  map[string]string
}

type recordingSender struct {
	mu     sync.Mutex
	fail   map[messaging.Recipient]bool
	sent   []sentTemplate
	alerts []string
}

func (r *recordingSender) SendTemplate(_ context.Context, settings templates.Settings, msg templates.Message, t templates.Template) templates.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := templates.Outcome{Recipient: t.RecipientType}
	to := msg.Student
	if t.RecipientType == messaging.RecipientCoach {
		to = msg.Coach
	}
	if !settings.Enabled(t.RecipientType) || to == "" {
		out.Success, out.Skipped = true, true
		return out
	}
	r.sent = append(r.sent, sentTemplate{event: t.EventType, to: to, vars: msg.Vars})
	if r.fail[t.RecipientType] {
		out.Error = "boom"
		return out
	}
	out.Success = true
	return out
}

func (r *recordingSender) AlertAdmin(_ context.Context, text string) messaging.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, text)
	return messaging.Result{Success: true}
}

func (r *recordingSender) eventsTo(to string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.to == to {
			out = append(out, s.event)
		}
	}
	return out
}

type fixedSettings templates.Settings

func (f fixedSettings) LoadSettings(context.Context) (templates.Settings, error) {
	return templates.Settings(f), nil
}

type recordingLogs struct {
	mu      sync.Mutex
	entries []events.LogEntry
}

func (r *recordingLogs) Record(_ context.Context, e events.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingLogs) find(et events.EventType) []events.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.LogEntry
	for _, e := range r.entries {
		if e.EventType == et {
			out = append(out, e)
		}
	}
	return out
}

func days(n int) *int { return &n }

func scheduleTmpl(event string, r messaging.Recipient, n *int) templates.Template {
	return templates.Template{EventType: event, RecipientType: r, TriggerType: templates.TriggerSchedule, Content: "x", DaysBefore: n, IsActive: true}
}

type fixture struct {
	tmpls    *fakeTemplates
	sessions *fakeSessions
	ledger   *memoryLedger
	sender   *recordingSender
	logs     *recordingLogs
	settings fixedSettings
}

func newFixture() *fixture {
	return &fixture{
		tmpls:    &fakeTemplates{},
		sessions: &fakeSessions{byDate: map[string][]sessions.View{}, postponed: map[uuid.UUID]map[string]bool{}},
		ledger:   newMemoryLedger(),
		sender:   &recordingSender{fail: map[messaging.Recipient]bool{}},
		logs:     &recordingLogs{},
		settings: fixedSettings{Student: true, Coach: true, Admin: true},
	}
}

func (f *fixture) service() *Service {
	return NewService(Deps{
		Templates: f.tmpls,
		Sessions:  f.sessions,
		Ledger:    f.ledger,
		Sender:    f.sender,
		Settings:  f.settings,
		Logs:      f.logs,
		Now:       func() time.Time { return testNow },
	})
}

func view(student, phone, coach string, coachID uuid.UUID, coachPhone string, startTime string, start time.Time, ext int) sessions.View {
	v := sessions.View{
		Session: sessions.Session{
			ID:             uuid.New(),
			CoachID:        coachID,
			Day:            schedule.DayOf(start),
			StartTime:      startTime,
			StartDate:      start,
			EndDate:        schedule.EndDate(start),
			ExtensionCount: ext,
			Status:         sessions.StatusActive,
		},
		UserName:  student,
		UserPhone: phone,
		CoachName: coach,
	}
	if coachPhone != "" {
		v.CoachPhone = &coachPhone
	}
	return v
}

func TestRunSendsRemindersOnce(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1)),
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientCoach, days(1)),
	}
	coach := uuid.New()
	v := view("홍길동", "01011112222", "김다혜", coach, "01033334444", "19:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1}, res)
	assert.Equal(t, []string{"REMINDER_D1"}, f.sender.eventsTo("01011112222"))
	assert.Equal(t, []string{"REMINDER_D1"}, f.sender.eventsTo("01033334444"))
	st, ok := f.ledger.status(v.ID, "2025-03-11", "D1")
	require.True(t, ok)
	assert.Equal(t, StatusSent, st)
	assert.Empty(t, f.sender.alerts)
	require.Len(t, f.logs.find(events.EventCronCompleted), 1)

	// second run is deduped by the ledger
	res, err = f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Len(t, f.sender.sent, 2)
	require.Len(t, f.sender.alerts, 1)
	assert.Equal(t, "[RCCC] 리마인더 발송 완료\n성공: 0건, 실패: 1건", f.sender.alerts[0])
}

func TestRunSkipsOccurrenceClaimedElsewhere(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1))}
	v := view("홍길동", "01011112222", "김다혜", uuid.New(), "", "19:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}
	// another run holds the PENDING row and has not sent yet
	require.NoError(t, f.ledger.Claim(context.Background(), Entry{SessionID: v.ID, Date: schedule.Date(2025, 3, 11), Type: "D1"}))

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Empty(t, f.sender.sent)
	st, _ := f.ledger.status(v.ID, "2025-03-11", "D1")
	assert.Equal(t, StatusPending, st)
}

func TestRunConcurrentRunsSendOnce(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1)),
		scheduleTmpl(templates.EventCoachBriefing, messaging.RecipientCoach, days(1)),
	}
	v := view("홍길동", "01011112222", "김다혜", uuid.New(), "01033334444", "19:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := f.service().Run(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []string{"REMINDER_D1"}, f.sender.eventsTo("01011112222"))
	assert.Equal(t, []string{templates.EventCoachBriefing}, f.sender.eventsTo("01033334444"))
}

func TestRunUsesLastLessonAsEndDate(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1))}
	v := view("홍길동", "01011112222", "김다혜", uuid.New(), "", "19:00", schedule.Date(2025, 3, 4), 1)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}

	_, err := f.service().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	vars := f.sender.sent[0].vars
	assert.Equal(t, "2025-03-04", vars["시작일"])
	assert.Equal(t, "2025-03-25", vars["종료일"])
	assert.Equal(t, "화", vars["요일"])
	assert.Equal(t, "19:00", vars["시간"])
}

func TestRunFirstLessonUsesFirstTemplate(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1)),
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientCoach, days(1)),
		scheduleTmpl(templates.ReminderEvent(1)+templates.FirstLessonSuffix, messaging.RecipientStudent, days(1)),
	}
	first := view("신규생", "01055556666", "김다혜", uuid.New(), "01033334444", "10:00", schedule.Date(2025, 3, 11), 0)
	renewed := view("재등록", "01077778888", "김다혜", uuid.New(), "01033334444", "11:00", schedule.Date(2025, 3, 11), 1)
	f.sessions.byDate["2025-03-11"] = []sessions.View{first, renewed}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []string{"REMINDER_D1_FIRST"}, f.sender.eventsTo("01055556666"))
	assert.Equal(t, []string{"REMINDER_D1"}, f.sender.eventsTo("01077778888"))
	// coach still gets the regular template for both
	assert.Equal(t, []string{"REMINDER_D1", "REMINDER_D1"}, f.sender.eventsTo("01033334444"))
}

func TestRunSkipsPostponedAndHonorsToggles(t *testing.T) {
	f := newFixture()
	f.settings = fixedSettings{Student: true}
	f.tmpls.list = []templates.Template{
		scheduleTmpl(templates.ReminderEvent(2), messaging.RecipientStudent, days(2)),
		scheduleTmpl(templates.ReminderEvent(2), messaging.RecipientCoach, days(2)),
	}
	coach := uuid.New()
	kept := view("유지", "01011110000", "김다혜", coach, "01033334444", "19:00", schedule.Date(2025, 3, 5), 0)
	moved := view("연기", "01022220000", "김다혜", coach, "01033334444", "20:00", schedule.Date(2025, 3, 5), 0)
	f.sessions.byDate["2025-03-12"] = []sessions.View{kept, moved}
	f.sessions.postponed[moved.ID] = map[string]bool{"2025-03-12": true}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"REMINDER_D2"}, f.sender.eventsTo("01011110000"))
	assert.Empty(t, f.sender.eventsTo("01033334444"))
	_, ok := f.ledger.status(moved.ID, "2025-03-12", "D2")
	assert.False(t, ok)
}

func TestRunFailedSendRecordsFailed(t *testing.T) {
	f := newFixture()
	f.sender.fail[messaging.RecipientStudent] = true
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1))}
	v := view("홍길동", "01011112222", "김다혜", uuid.New(), "", "19:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	st, _ := f.ledger.status(v.ID, "2025-03-11", "D1")
	assert.Equal(t, StatusFailed, st)
	require.Len(t, f.sender.alerts, 1)
}

func TestRunNoPhoneRecordsPending(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientCoach, days(1))}
	v := view("홍길동", "01011112222", "김다혜", uuid.New(), "", "19:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{v}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	st, _ := f.ledger.status(v.ID, "2025-03-11", "D1")
	assert.Equal(t, StatusPending, st)
}

func TestRunWarnsOnMissingDaysBefore(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(3), messaging.RecipientStudent, nil)}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	warnings := f.logs.find(events.EventSMSWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "리마인더 템플릿 설정 오류", warnings[0].Message)
	assert.Contains(t, warnings[0].RawData, "REMINDER_D3/STUDENT")
}

func TestRunIsolatesSessionErrors(t *testing.T) {
	f := newFixture()
	f.ledger.claimErr = errors.New("db down")
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1))}
	f.sessions.byDate["2025-03-11"] = []sessions.View{
		view("하나", "01011110000", "김다혜", uuid.New(), "", "19:00", schedule.Date(2025, 3, 4), 0),
		view("둘", "01022220000", "김다혜", uuid.New(), "", "20:00", schedule.Date(2025, 3, 4), 0),
	}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, f.logs.find(events.EventSMSWarning), 2)
	assert.Len(t, f.logs.find(events.EventCronCompleted), 1)
}

func TestRunLoadFailureLogsSystemError(t *testing.T) {
	f := newFixture()
	f.tmpls.err = errors.New("db down")

	_, err := f.service().Run(context.Background())
	require.Error(t, err)
	require.Len(t, f.logs.find(events.EventSystemError), 1)
	assert.Empty(t, f.logs.find(events.EventCronCompleted))

	f = newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1))}
	f.sessions.err = errors.New("timeout")
	_, err = f.service().Run(context.Background())
	assert.ErrorContains(t, err, "timeout")
}

func TestCoachBriefingGroupsByCoach(t *testing.T) {
	f := newFixture()
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.EventCoachBriefing, messaging.RecipientCoach, days(1))}
	kim, park := uuid.New(), uuid.New()
	late := view("늦은반", "01011110000", "김다혜", kim, "01033334444", "21:00", schedule.Date(2025, 3, 4), 0)
	early := view("이른반", "01022220000", "김다혜", kim, "01033334444", "09:00", schedule.Date(2025, 3, 4), 0)
	skipped := view("연기반", "01044440000", "김다혜", kim, "01033334444", "12:00", schedule.Date(2025, 3, 4), 0)
	nophone := view("무번호", "01066660000", "박코치", park, "", "10:00", schedule.Date(2025, 3, 4), 0)
	f.sessions.byDate["2025-03-11"] = []sessions.View{early, skipped, late, nophone}
	f.sessions.postponed[skipped.ID] = map[string]bool{"2025-03-11": true}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1}, res)
	require.Len(t, f.sender.sent, 1)
	got := f.sender.sent[0]
	assert.Equal(t, "01033334444", got.to)
	assert.Equal(t, "• 09:00 이른반\n• 21:00 늦은반", got.vars["수업목록"])
	assert.Equal(t, "2", got.vars["총건수"])
	assert.Equal(t, "김다혜", got.vars["코치명"])

	st, ok := f.ledger.status(early.ID, "2025-03-11", TypeCoachBriefing)
	require.True(t, ok)
	assert.Equal(t, StatusSent, st)

	// already briefed
	res, err = f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, f.sender.sent, 1)
}

func TestCoachBriefingRequiresCoachToggle(t *testing.T) {
	f := newFixture()
	f.settings = fixedSettings{Student: true}
	f.tmpls.list = []templates.Template{scheduleTmpl(templates.EventCoachBriefing, messaging.RecipientCoach, days(1))}
	f.sessions.byDate["2025-03-11"] = []sessions.View{
		view("이른반", "01022220000", "김다혜", uuid.New(), "01033334444", "09:00", schedule.Date(2025, 3, 4), 0),
	}

	res, err := f.service().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, f.sender.sent)
}

func TestNewPlanIndexesTemplates(t *testing.T) {
	p := newPlan([]templates.Template{
		scheduleTmpl(templates.ReminderEvent(2), messaging.RecipientStudent, days(2)),
		scheduleTmpl(templates.ReminderEvent(1), messaging.RecipientStudent, days(1)),
		scheduleTmpl(templates.ReminderEvent(1)+templates.FirstLessonSuffix, messaging.RecipientStudent, days(1)),
		scheduleTmpl(templates.EventCoachBriefing, messaging.RecipientCoach, days(2)),
	})
	assert.Equal(t, []int{1, 2}, p.days)
	assert.Len(t, p.byDay[1], 1)
	assert.Contains(t, p.first, "REMINDER_D1")
	assert.Nil(t, p.briefing)
}
