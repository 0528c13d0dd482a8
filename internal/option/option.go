// Package option tokenizes the free-text purchase option sent by the payment
// sheet, e.g. "김다혜 / 화요일 / 19:00 ~ 19:40".
package option

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/creatus-team/v3/internal/schedule"
)

// ErrUnparseable is returned for any option string that does not fit the
// coach / day / time grammar.
var ErrUnparseable = errors.New("option: unparseable purchase option")

var (
	dayPattern   = regexp.MustCompile(`([월화수목금토일])요일?`)
	clockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	hourPattern  = regexp.MustCompile(`(\d{1,2})시`)
	validTime    = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// Parsed is the structured form of a purchase option.
type Parsed struct {
	Coach string       `json:"coach"`
	Day   schedule.Day `json:"day"`
	Time  string       `json:"time"`
}

// String renders the parsed triple the way operators read it.
func (p Parsed) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Coach, p.Day, p.Time)
}

// Parse splits on "/" and reads coach, weekday and start time from the first
// three non-empty segments. There is no fuzzy matching.
func Parse(raw string) (Parsed, error) {
	var parts []string
	for _, p := range strings.Split(raw, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return Parsed{}, ErrUnparseable
	}

	coach := parts[0]
	day, ok := parseDay(parts[1])
	if !ok {
		return Parsed{}, ErrUnparseable
	}
	start, ok := parseTime(parts[2])
	if !ok {
		return Parsed{}, ErrUnparseable
	}
	return Parsed{Coach: coach, Day: day, Time: start}, nil
}

func parseDay(segment string) (schedule.Day, bool) {
	for _, d := range schedule.Days {
		if strings.Contains(segment, string(d)) {
			return d, true
		}
	}
	if m := dayPattern.FindStringSubmatch(segment); m != nil {
		return schedule.Day(m[1]), true
	}
	return "", false
}

func parseTime(segment string) (string, bool) {
	var out string
	if m := clockPattern.FindStringSubmatch(segment); m != nil {
		out = pad2(m[1]) + ":" + m[2]
	} else if m := hourPattern.FindStringSubmatch(segment); m != nil {
		out = pad2(m[1]) + ":00"
	} else {
		return "", false
	}
	return out, IsValidTime(out)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// IsValidTime checks a zero-padded 24h HH:MM value.
func IsValidTime(hhmm string) bool {
	if !validTime.MatchString(hhmm) {
		return false
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// EndTime adds one lesson length to a start time, wrapping past midnight.
func EndTime(start string) (string, error) {
	if !IsValidTime(start) {
		return "", fmt.Errorf("option: invalid start time %q", start)
	}
	h, _ := strconv.Atoi(start[:2])
	m, _ := strconv.Atoi(start[3:])
	total := (h*60 + m + schedule.LessonMinutes) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", total/60, total%60), nil
}
