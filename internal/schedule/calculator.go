package schedule

import "time"

// StartDate returns the target weekday in the calendar week (Mon-Sun) after
// the week containing paidAt. It never returns a day of the payment's own week.
func StartDate(day Day, paidAt time.Time) time.Time {
	base := DateOf(paidAt)
	baseIdx := int(base.Weekday())

	daysToNextMonday := 8 - baseIdx
	if base.Weekday() == time.Sunday {
		daysToNextMonday = 1
	}
	offset := int(day.Weekday()) - 1
	if day.Weekday() == time.Sunday {
		offset = 6
	}
	return base.AddDate(0, 0, daysToNextMonday+offset)
}

// EndDate is the period boundary four weeks after start.
func EndDate(start time.Time) time.Time {
	return start.AddDate(0, 0, SessionSpanDays)
}

// LastLessonDate is the fourth lesson of a period ending at end.
func LastLessonDate(end time.Time) time.Time {
	return end.AddDate(0, 0, -6)
}

// RenewalStartDate is the day after the previous period ends.
func RenewalStartDate(previousEnd time.Time) time.Time {
	return previousEnd.AddDate(0, 0, 1)
}

// PostponedEndDate extends a period by whole weeks.
func PostponedEndDate(end time.Time, weeks int) time.Time {
	return end.AddDate(0, 0, 7*weeks)
}

// NextOnOrAfter returns the first date >= from falling on day.
func NextOnOrAfter(from time.Time, day Day) time.Time {
	diff := (int(day.Weekday()) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, diff)
}

// NextAfter returns the first date > from falling on day.
func NextAfter(from time.Time, day Day) time.Time {
	return NextOnOrAfter(from.AddDate(0, 0, 1), day)
}

// DatesInMonthByDay lists every date of the month falling on day.
func DatesInMonthByDay(year int, month time.Month, day Day) []time.Time {
	first := Date(year, month, 1)
	var dates []time.Time
	for d := NextOnOrAfter(first, day); d.Month() == month; d = d.AddDate(0, 0, 7) {
		dates = append(dates, d)
	}
	return dates
}

// MonthBounds returns the first and last dates of a month.
func MonthBounds(year int, month time.Month) (time.Time, time.Time) {
	first := Date(year, month, 1)
	return first, first.AddDate(0, 1, -1)
}

// LessonDate is one calendar occurrence of a session inside a month.
type LessonDate struct {
	Date        time.Time
	IsPostponed bool
	// IsExcluded is true when the date does not count toward settlement.
	IsExcluded bool
}

// SessionWindow is the subset of a session needed to enumerate its lessons.
type SessionWindow struct {
	Day               Day
	StartDate         time.Time
	EndDate           time.Time
	EarlyTerminatedAt *time.Time
}

// SessionDatesInMonth enumerates the session's weekday inside [start, end]
// for the month. postponed is keyed by DateString. Postponed dates are kept
// but marked; dates after an early termination are excluded.
func SessionDatesInMonth(w SessionWindow, year int, month time.Month, postponed map[string]bool) []LessonDate {
	var out []LessonDate
	for _, d := range DatesInMonthByDay(year, month, w.Day) {
		if d.Before(w.StartDate) || d.After(w.EndDate) {
			continue
		}
		isPostponed := postponed[DateString(d)]
		terminated := w.EarlyTerminatedAt != nil && d.After(*w.EarlyTerminatedAt)
		out = append(out, LessonDate{
			Date:        d,
			IsPostponed: isPostponed,
			IsExcluded:  isPostponed || terminated,
		})
	}
	return out
}

// CountBillable returns how many dates count toward settlement.
func CountBillable(dates []LessonDate) int {
	n := 0
	for _, d := range dates {
		if !d.IsExcluded {
			n++
		}
	}
	return n
}

// IsLessonDay reports whether date is a lesson day inside the session window.
func IsLessonDay(w SessionWindow, date time.Time) bool {
	return DayOf(date) == w.Day && !date.Before(w.StartDate) && !date.After(w.EndDate)
}
