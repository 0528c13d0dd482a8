package templates

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/schedule"
)

type fakeSource map[string][]Template

func (f fakeSource) ListActive(_ context.Context, event string) ([]Template, error) {
	return f[event], nil
}

type sentSMS struct {
	to, text  string
	recipient messaging.Recipient
}

type fakeSender struct {
	admin    string
	failures int
	sent     []sentSMS
	alerts   []string
}

func (f *fakeSender) Send(_ context.Context, to, text string, r messaging.Recipient) messaging.Result {
	f.sent = append(f.sent, sentSMS{to, text, r})
	if f.failures > 0 {
		f.failures--
		return messaging.Result{Error: "boom"}
	}
	return messaging.Result{Success: true, ProviderMessageID: "G"}
}

func (f *fakeSender) AlertAdmin(_ context.Context, text string) messaging.Result {
	f.alerts = append(f.alerts, text)
	return messaging.Result{Success: true}
}

func (f *fakeSender) AdminPhone() string { return f.admin }

type fakeLogs struct{ entries []events.LogEntry }

func (f *fakeLogs) Record(_ context.Context, e events.LogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogs) types() []events.EventType {
	out := make([]events.EventType, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.EventType
	}
	return out
}

func newTestDispatcher(src Source, sender *fakeSender, logs *fakeLogs) *Dispatcher {
	d := NewDispatcher(src, sender, logs, DispatcherConfig{Attempts: 2, RetryDelay: time.Second}, nil)
	d.sleep = func(context.Context, time.Duration) {}
	return d
}

func tmpl(event string, r messaging.Recipient, content string) Template {
	return Template{EventType: event, RecipientType: r, Content: content, IsActive: true}
}

func lesson() Lesson {
	return Lesson{
		StudentName: "홍길동", StudentPhone: "01011112222",
		CoachName: "김다혜", CoachPhone: "01033334444",
		Day: schedule.Tuesday, Time: "19:00",
		StartDate: schedule.Date(2025, 3, 11), EndDate: schedule.Date(2025, 4, 7),
		OpenChatLink: "https://open.kakao.com/x",
	}
}

func TestDispatcherSendsToEnabledRecipients(t *testing.T) {
	src := fakeSource{EventNewEnroll: {
		tmpl(EventNewEnroll, messaging.RecipientStudent, "{수강생명}님 {시작일} 시작 {오픈톡링크}"),
		tmpl(EventNewEnroll, messaging.RecipientCoach, "{코치명} 코치님, {수강생명} {요일} {시간}"),
		tmpl(EventNewEnroll, messaging.RecipientAdmin, "신규 {수강생명}"),
	}}
	sender := &fakeSender{admin: "01099990000"}
	logs := &fakeLogs{}
	d := newTestDispatcher(src, sender, logs)

	res := d.Send(context.Background(), Settings{Student: true, Coach: false, Admin: true}, NewEnroll(lesson()))
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, 2, res.Sent())
	assert.True(t, res.Outcomes[1].Skipped)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "홍길동님 2025-03-11 시작 https://open.kakao.com/x", sender.sent[0].text)
	assert.Equal(t, "01099990000", sender.sent[1].to)
	assert.Equal(t, []events.EventType{events.EventSMSSent, events.EventSMSSent}, logs.types())
	assert.Empty(t, sender.alerts)
}

func TestDispatcherNoTemplatesWarns(t *testing.T) {
	sender := &fakeSender{admin: "01099990000"}
	logs := &fakeLogs{}
	res := newTestDispatcher(fakeSource{}, sender, logs).Send(context.Background(), DefaultSettings(), SystemError("db down"))
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, []events.EventType{events.EventSMSWarning}, logs.types())
	require.Len(t, sender.alerts, 1)
	assert.Contains(t, sender.alerts[0], "SYSTEM_ERROR")
}

func TestDispatcherBlocksUnresolvedPlaceholders(t *testing.T) {
	src := fakeSource{EventCancel: {tmpl(EventCancel, messaging.RecipientStudent, "{수강생명} {없는변수}")}}
	sender := &fakeSender{}
	logs := &fakeLogs{}
	res := newTestDispatcher(src, sender, logs).Send(context.Background(), Settings{Student: true}, Cancel(lesson(), "개인 사정"))
	assert.Equal(t, 1, res.Failed())
	assert.Empty(t, sender.sent)
	assert.Equal(t, []events.EventType{events.EventSMSWarning}, logs.types())
	require.Len(t, sender.alerts, 1)
	assert.True(t, strings.HasPrefix(sender.alerts[0], "[RCCC] CANCEL 발송 실패"))
}

func TestDispatcherRetriesThenFails(t *testing.T) {
	src := fakeSource{EventRenewal: {tmpl(EventRenewal, messaging.RecipientStudent, "{회차}회차")}}

	sender := &fakeSender{failures: 1}
	res := newTestDispatcher(src, sender, &fakeLogs{}).Send(context.Background(), Settings{Student: true}, Renewal(lesson()))
	assert.Equal(t, 1, res.Sent())
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "1회차", sender.sent[1].text)

	sender = &fakeSender{failures: 5}
	logs := &fakeLogs{}
	res = newTestDispatcher(src, sender, logs).Send(context.Background(), Settings{Student: true}, Renewal(lesson()))
	require.Equal(t, 1, res.Failed())
	assert.Equal(t, "2회 재시도 후 실패: boom", res.Outcomes[0].Error)
	assert.Equal(t, []events.EventType{events.EventSMSFailed}, logs.types())
	require.Len(t, sender.alerts, 1)
	assert.LessOrEqual(t, len([]rune(sender.alerts[0])), 90)
}

func TestDispatcherSkipsMissingPhone(t *testing.T) {
	src := fakeSource{EventRefund: {tmpl(EventRefund, messaging.RecipientAdmin, "환불 {수강생명}")}}
	sender := &fakeSender{}
	res := newTestDispatcher(src, sender, &fakeLogs{}).Send(context.Background(), DefaultSettings(), Refund(lesson(), ""))
	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Skipped)
	assert.Empty(t, sender.sent)
}

func TestDispatcherSendTemplateSkipsLookupAndAlerts(t *testing.T) {
	sender := &fakeSender{failures: 5}
	logs := &fakeLogs{}
	d := newTestDispatcher(fakeSource{}, sender, logs)
	t1 := tmpl(ReminderEvent(1)+FirstLessonSuffix, messaging.RecipientStudent, "첫 수업 {시간}")

	out := d.SendTemplate(context.Background(), Settings{Student: true}, Reminder(1, lesson()), t1)
	assert.False(t, out.Success)
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "첫 수업 19:00", sender.sent[0].text)
	assert.Empty(t, sender.alerts)
	assert.Equal(t, []events.EventType{events.EventSMSFailed}, logs.types())

	d.AlertAdmin(context.Background(), strings.Repeat("가", 120))
	require.Len(t, sender.alerts, 1)
	assert.Len(t, []rune(sender.alerts[0]), 90)
}

func TestPostponeBuilder(t *testing.T) {
	l := lesson()
	l.EndDate = schedule.Date(2025, 4, 21)
	msg := Postpone(l, []time.Time{schedule.Date(2025, 3, 18), schedule.Date(2025, 3, 25)}, schedule.Date(2025, 4, 1))
	assert.Equal(t, "3/18, 3/25", msg.Vars["연기날짜"])
	assert.Equal(t, "2", msg.Vars["연기주수"])
	assert.Equal(t, "4/1", msg.Vars["재개일"])
	assert.Equal(t, "2025-04-21", msg.Vars["종료일"])
	assert.False(t, msg.Admin)
}

func TestReminderBuilderUsesLastLesson(t *testing.T) {
	msg := Reminder(1, lesson())
	assert.Equal(t, "REMINDER_D1", msg.Event)
	assert.Equal(t, "2025-04-01", msg.Vars["종료일"])
}

func TestSlotConflictBuilder(t *testing.T) {
	msg := SlotConflict("홍길동", "김다혜/화/19:00")
	assert.Equal(t, "요청: 김다혜/화/19:00, 기존: (인박스 확인)", msg.Vars["원본데이터"])
	assert.True(t, msg.Admin)
}
