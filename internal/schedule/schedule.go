// Package schedule holds the calendar arithmetic for weekly coaching
// sessions. All dates are civil dates in Asia/Seoul, carried as time.Time at
// UTC midnight so they round-trip through Postgres DATE columns unchanged.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KST is the single business timezone.
var KST = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

const (
	// LessonsPerSession is the number of weekly lessons one payment buys.
	LessonsPerSession = 4
	// SessionSpanDays is end_date - start_date at creation.
	SessionSpanDays = 27
	// LessonMinutes is the length of one slot.
	LessonMinutes = 40

	dateLayout = "2006-01-02"
)

// Day is a Korean single-character weekday label as stored on slots and sessions.
type Day string

const (
	Monday    Day = "월"
	Tuesday   Day = "화"
	Wednesday Day = "수"
	Thursday  Day = "목"
	Friday    Day = "금"
	Saturday  Day = "토"
	Sunday    Day = "일"
)

// Days lists the weekdays Monday first, matching the order used for parsing.
var Days = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdays = map[Day]time.Weekday{
	Sunday:    time.Sunday,
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
}

// Valid reports whether d is one of the seven labels.
func (d Day) Valid() bool {
	_, ok := weekdays[d]
	return ok
}

// Weekday converts the label to time.Weekday. Invalid labels map to Sunday.
func (d Day) Weekday() time.Weekday {
	return weekdays[d]
}

// ParseDay accepts a bare label ("화") or the long form ("화요일").
func ParseDay(s string) (Day, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "요일")
	d := Day(s)
	return d, d.Valid()
}

// DayOf returns the label for the weekday of a civil date.
func DayOf(date time.Time) Day {
	for d, wd := range weekdays {
		if wd == date.Weekday() {
			return d
		}
	}
	return Sunday
}

// Date builds a civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates an instant to its calendar date in KST.
func DateOf(t time.Time) time.Time {
	k := t.In(KST)
	return Date(k.Year(), k.Month(), k.Day())
}

// Today is the KST calendar date of now.
func Today(now time.Time) time.Time { return DateOf(now) }

// Yesterday is the KST calendar date before now.
func Yesterday(now time.Time) time.Time { return DateOf(now).AddDate(0, 0, -1) }

// Tomorrow is the KST calendar date after now.
func Tomorrow(now time.Time) time.Time { return DateOf(now).AddDate(0, 0, 1) }

// AddDays shifts a civil date.
func AddDays(date time.Time, n int) time.Time { return date.AddDate(0, 0, n) }

// DateString formats a civil date as YYYY-MM-DD.
func DateString(date time.Time) string { return date.Format(dateLayout) }

// ShortDate formats a civil date as M/D.
func ShortDate(date time.Time) string {
	return fmt.Sprintf("%d/%d", int(date.Month()), date.Day())
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: parse date %q: %w", s, err)
	}
	return t, nil
}

var (
	isoPrefix   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	sheetFormat = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{2})\s+(\d{2}):(\d{2})$`)
	zonedISO    = []string{time.RFC3339Nano, time.RFC3339}
	naiveISO    = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04", dateLayout}
)

// ParseDateTime reads a provider timestamp: ISO 8601 (zoned or naive KST) or
// the spreadsheet form "YY.MM.DD HH:mm". Anything unreadable yields now.
func ParseDateTime(raw string, now time.Time) time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now
	}
	if strings.Contains(s, "T") || isoPrefix.MatchString(s) {
		for _, layout := range zonedISO {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		for _, layout := range naiveISO {
			if t, err := time.ParseInLocation(layout, s, KST); err == nil {
				return t
			}
		}
		return now
	}
	if m := sheetFormat.FindStringSubmatch(s); m != nil {
		yy, _ := strconv.Atoi(m[1])
		year := 1900 + yy
		if yy < 50 {
			year = 2000 + yy
		}
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		return time.Date(year, time.Month(month), day, hour, minute, 0, 0, KST)
	}
	return now
}

// ToDateString is the KST calendar date of a provider timestamp.
func ToDateString(raw string, now time.Time) string {
	return DateString(DateOf(ParseDateTime(raw, now)))
}
