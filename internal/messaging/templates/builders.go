package templates

import (
	"strconv"
	"strings"
	"time"

	"github.com/creatus-team/v3/internal/schedule"
)

// Event types.
const (
	EventNewEnroll          = "NEW_ENROLL"
	EventRenewal            = "RENEWAL"
	EventRefund             = "REFUND"
	EventRefundMatchFail    = "REFUND_MATCH_FAIL"
	EventCancel             = "CANCEL"
	EventPostpone           = "POSTPONE"
	EventSlotConflict       = "SLOT_CONFLICT"
	EventSystemError        = "SYSTEM_ERROR"
	EventTallyApplication   = "TALLY_APPLICATION"
	EventTallyDiagnosis     = "TALLY_DIAGNOSIS"
	EventSlotChange         = "SLOT_CHANGE"
	EventExtensionRecommend = "EXTENSION_RECOMMEND"
	EventCoachBriefing      = "COACH_BRIEFING"
)

// FirstLessonSuffix marks the first-lesson variant of a reminder template.
const FirstLessonSuffix = "_FIRST"

// ReminderEvent returns the event type for a D-n reminder.
func ReminderEvent(daysBefore int) string {
	return "REMINDER_D" + strconv.Itoa(daysBefore)
}

// Lesson is the shared variable source for session notifications. EndDate is
// the period boundary; enrollment messages show the last lesson date.
type Lesson struct {
	StudentName    string
	StudentPhone   string
	CoachName      string
	CoachPhone     string
	Day            schedule.Day
	Time           string
	StartDate      time.Time
	EndDate        time.Time
	OpenChatLink   string
	ExtensionCount int
}

func (l Lesson) baseVars() map[string]string {
	return map[string]string{
		"수강생명": l.StudentName,
		"코치명":  l.CoachName,
		"요일":   string(l.Day),
		"시간":   l.Time,
	}
}

// Message is one event ready to dispatch. Empty phones are skipped; Admin
// routes to the configured admin number.
type Message struct {
	Event   string
	Vars    map[string]string
	Student string
	Coach   string
	Admin   bool
}

func NewEnroll(l Lesson) Message {
	vars := l.baseVars()
	vars["시작일"] = schedule.DateString(l.StartDate)
	vars["종료일"] = schedule.DateString(schedule.LastLessonDate(l.EndDate))
	vars["오픈톡링크"] = l.OpenChatLink
	return Message{Event: EventNewEnroll, Vars: vars, Student: l.StudentPhone, Coach: l.CoachPhone, Admin: true}
}

func Renewal(l Lesson) Message {
	vars := l.baseVars()
	vars["시작일"] = schedule.DateString(l.StartDate)
	vars["종료일"] = schedule.DateString(schedule.LastLessonDate(l.EndDate))
	vars["회차"] = strconv.Itoa(l.ExtensionCount + 1)
	return Message{Event: EventRenewal, Vars: vars, Student: l.StudentPhone, Coach: l.CoachPhone}
}

func Refund(l Lesson, reason string) Message {
	vars := l.baseVars()
	vars["취소사유"] = reason
	return Message{Event: EventRefund, Vars: vars, Admin: true}
}

func RefundMatchFail(raw string) Message {
	return Message{Event: EventRefundMatchFail, Vars: map[string]string{"원본데이터": raw}, Admin: true}
}

func Cancel(l Lesson, reason string) Message {
	vars := l.baseVars()
	vars["취소사유"] = reason
	return Message{Event: EventCancel, Vars: vars, Student: l.StudentPhone, Coach: l.CoachPhone, Admin: true}
}

// Postpone announces skipped dates and the date lessons resume.
func Postpone(l Lesson, dates []time.Time, resume time.Time) Message {
	short := make([]string, len(dates))
	for i, d := range dates {
		short[i] = schedule.ShortDate(d)
	}
	vars := l.baseVars()
	vars["연기날짜"] = strings.Join(short, ", ")
	vars["연기주수"] = strconv.Itoa(len(dates))
	vars["재개일"] = schedule.ShortDate(resume)
	vars["종료일"] = schedule.DateString(l.EndDate)
	return Message{Event: EventPostpone, Vars: vars, Student: l.StudentPhone, Coach: l.CoachPhone}
}

// SlotConflict alerts the admin that a requested slot is taken.
func SlotConflict(studentName, requested string) Message {
	return Message{Event: EventSlotConflict, Vars: map[string]string{
		"수강생명":  studentName,
		"원본데이터": "요청: " + requested + ", 기존: (인박스 확인)",
	}, Admin: true}
}

func SystemError(msg string) Message {
	return Message{Event: EventSystemError, Vars: map[string]string{"오류메시지": msg}, Admin: true}
}

// Reminder is the D-n lesson reminder. EndDate is shown as the last lesson date.
func Reminder(daysBefore int, l Lesson) Message {
	vars := l.baseVars()
	vars["시작일"] = schedule.DateString(l.StartDate)
	vars["종료일"] = schedule.DateString(schedule.LastLessonDate(l.EndDate))
	return Message{Event: ReminderEvent(daysBefore), Vars: vars, Student: l.StudentPhone}
}

func TallyApplication(l Lesson) Message {
	return Message{Event: EventTallyApplication, Vars: map[string]string{
		"수강생명": l.StudentName,
		"코치명":  l.CoachName,
	}, Student: l.StudentPhone, Coach: l.CoachPhone}
}

func TallyDiagnosis(l Lesson) Message {
	return Message{Event: EventTallyDiagnosis, Vars: map[string]string{
		"수강생명":  l.StudentName,
		"코치명":   l.CoachName,
		"오픈톡링크": l.OpenChatLink,
	}, Student: l.StudentPhone, Coach: l.CoachPhone}
}

// SlotChange tells both parties the lesson moved from prevDay/prevTime.
func SlotChange(l Lesson, prevDay schedule.Day, prevTime string) Message {
	vars := l.baseVars()
	vars["이전시간"] = string(prevDay) + " " + prevTime
	return Message{Event: EventSlotChange, Vars: vars, Student: l.StudentPhone, Coach: l.CoachPhone}
}

func ExtensionRecommend(l Lesson) Message {
	return Message{Event: EventExtensionRecommend, Vars: map[string]string{
		"수강생명": l.StudentName,
		"코치명":  l.CoachName,
		"종료일":  schedule.DateString(l.EndDate),
	}, Student: l.StudentPhone}
}

// CoachBriefing is the day-before lesson list for one coach. Each line is one
// lesson; 총건수 is the line count.
func CoachBriefing(coachName, coachPhone string, lines []string) Message {
	return Message{
		Event: EventCoachBriefing,
		Vars: map[string]string{
			"코치명":  coachName,
			"수업목록": strings.Join(lines, "\n"),
			"총건수":  strconv.Itoa(len(lines)),
		},
		Coach: coachPhone,
	}
}
