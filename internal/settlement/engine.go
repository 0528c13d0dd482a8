// Package settlement computes the monthly coach payroll from lesson dates and
// freezes finished months against retroactive edits.
package settlement

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
)

// LessonStatus labels one lesson date in a report.
type LessonStatus string

const (
	LessonNormal          LessonStatus = "normal"
	LessonPostponed       LessonStatus = "postponed"
	LessonRefunded        LessonStatus = "refunded"
	LessonEarlyTerminated LessonStatus = "early_terminated"
)

// LessonsPerSession is the package size used for sessionCount.
const LessonsPerSession = 4

// Lesson is one dated row under a coach.
type Lesson struct {
	SessionID   uuid.UUID    `json:"sessionId"`
	Date        string       `json:"date"`
	SlotInfo    string       `json:"slotInfo"`
	StudentName string       `json:"studentName"`
	Status      LessonStatus `json:"status"`
	Billable    bool         `json:"billable"`
}

// CoachRef identifies the coach a settlement belongs to.
type CoachRef struct {
	ID    uuid.UUID      `json:"id"`
	Name  string         `json:"name"`
	Grade sessions.Grade `json:"grade"`
}

// CoachSettlement is one coach's month.
type CoachSettlement struct {
	Coach         CoachRef `json:"coach"`
	Lessons       []Lesson `json:"sessions"`
	TotalLessons  int      `json:"coachingCount"`
	SessionCount  int      `json:"sessionCount"`
	FeePerLesson  int64    `json:"feePerSession"`
	Revenue       int64    `json:"revenue"`
	CoachPayment  int64    `json:"totalFee"`
	CompanyProfit int64    `json:"companyProfit"`
}

// Summary totals every coach.
type Summary struct {
	TotalLessons       int   `json:"totalCoachingCount"`
	TotalRevenue       int64 `json:"totalRevenue"`
	TotalCoachPayment  int64 `json:"totalCoachFee"`
	TotalCompanyProfit int64 `json:"companyProfit"`
}

// Report is a computed month.
type Report struct {
	Year        int               `json:"year"`
	Month       int               `json:"month"`
	TargetMonth string            `json:"targetMonth"`
	IsLocked    bool              `json:"isLocked"`
	Lock        *Lock             `json:"lockData"`
	Coaches     []CoachSettlement `json:"coachSettlements"`
	Summary     Summary           `json:"summary"`
}

// ValidMonth rejects months outside 1..12 and implausible years.
func ValidMonth(year, month int) error {
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return fmt.Errorf("%w: %d-%d", ErrInvalidMonth, year, month)
	}
	return nil
}

// Compute builds the report for year/month from the sessions overlapping it
// and their postponed dates (keyed by schedule.DateString).
func Compute(year, month int, views []sessions.View, postponed map[uuid.UUID]map[string]bool) *Report {
	byCoach := make(map[uuid.UUID]*CoachSettlement)
	for i := range views {
		v := &views[i]
		cs, ok := byCoach[v.CoachID]
		if !ok {
			rate := RateFor(v.CoachGrade)
			cs = &CoachSettlement{
				Coach:        CoachRef{ID: v.CoachID, Name: v.CoachName, Grade: v.CoachGrade},
				Lessons:      []Lesson{},
				FeePerLesson: rate.CoachPerLesson,
			}
			byCoach[v.CoachID] = cs
		}
		addSession(cs, v, year, time.Month(month), postponed[v.ID])
	}

	report := &Report{
		Year:        year,
		Month:       month,
		TargetMonth: fmt.Sprintf("%04d-%02d", year, month),
		Coaches:     make([]CoachSettlement, 0, len(byCoach)),
	}
	for _, cs := range byCoach {
		cs.SessionCount = int(math.Ceil(float64(cs.TotalLessons) / LessonsPerSession))
		sort.SliceStable(cs.Lessons, func(i, j int) bool { return cs.Lessons[i].Date < cs.Lessons[j].Date })
		report.Coaches = append(report.Coaches, *cs)

		report.Summary.TotalLessons += cs.TotalLessons
		report.Summary.TotalRevenue += cs.Revenue
		report.Summary.TotalCoachPayment += cs.CoachPayment
		report.Summary.TotalCompanyProfit += cs.CompanyProfit
	}
	sort.Slice(report.Coaches, func(i, j int) bool {
		if report.Coaches[i].Coach.Name == report.Coaches[j].Coach.Name {
			return report.Coaches[i].Coach.ID.String() < report.Coaches[j].Coach.ID.String()
		}
		return report.Coaches[i].Coach.Name < report.Coaches[j].Coach.Name
	})
	return report
}

func addSession(cs *CoachSettlement, v *sessions.View, year int, month time.Month, postponed map[string]bool) {
	rate := RateFor(v.CoachGrade)
	terminated := v.Status == sessions.StatusRefunded ||
		v.Status == sessions.StatusEarlyTerminated ||
		v.Status == sessions.StatusCancelled

	student := v.UserName
	if student == "" {
		student = "알수없음"
	}
	slotInfo := fmt.Sprintf("%s %s", v.Day, v.StartTime)

	for _, d := range schedule.SessionDatesInMonth(v.Window(), year, month, postponed) {
		status := LessonNormal
		switch {
		case d.IsPostponed:
			status = LessonPostponed
		case terminated && v.EarlyTerminatedAt != nil && d.Date.After(*v.EarlyTerminatedAt):
			// nothing is owed after the termination date
			continue
		case v.Status == sessions.StatusRefunded:
			status = LessonRefunded
		case v.Status == sessions.StatusEarlyTerminated:
			status = LessonEarlyTerminated
		}

		cs.Lessons = append(cs.Lessons, Lesson{
			SessionID:   v.ID,
			Date:        schedule.DateString(d.Date),
			SlotInfo:    slotInfo,
			StudentName: student,
			Status:      status,
			Billable:    !d.IsExcluded,
		})
		if d.IsExcluded {
			continue
		}
		cs.TotalLessons++
		cs.Revenue += rate.RevenuePerLesson
		cs.CoachPayment += rate.CoachPerLesson
		cs.CompanyProfit += rate.CompanyPerLesson
	}
}
