// Package phone canonicalizes Korean mobile numbers to the 11-digit domestic
// form used as the identity key for students.
package phone

import (
	"regexp"
	"strings"
)

var validPattern = regexp.MustCompile(`^01[0-9]{8,9}$`)

// A pass that changes the value leaves it starting with 0 or at exactly 11
// digits, so two changing passes plus one confirming pass reach the fixpoint.
const maxPasses = 3

// Normalize strips everything but digits, removes a leading 82 country code,
// restores the trunk 0 and keeps at most the last 11 digits.
//
// The rules are applied until the value stops changing, so
// Normalize(Normalize(x)) == Normalize(x) for every input.
func Normalize(raw string) string {
	current := digitsOnly(raw)
	for i := 0; i < maxPasses; i++ {
		next := normalizeOnce(current)
		if next == current {
			return current
		}
		current = next
	}
	return current
}

func normalizeOnce(d string) string {
	if strings.HasPrefix(d, "82") {
		d = d[2:]
		if !strings.HasPrefix(d, "0") {
			d = "0" + d
		}
	}
	if len(d) == 10 && !strings.HasPrefix(d, "0") {
		d = "0" + d
	}
	if len(d) > 11 {
		d = d[len(d)-11:]
	}
	return d
}

func digitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid reports whether an already normalized number is a mobile number.
func IsValid(normalized string) bool {
	return validPattern.MatchString(normalized)
}

// FormatDisplay renders a number with dashes: 010-1234-5678 or 010-123-4567.
func FormatDisplay(raw string) string {
	d := Normalize(raw)
	switch len(d) {
	case 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	case 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	default:
		return d
	}
}

// Last4 returns the last four digits, or the whole value when shorter.
func Last4(p string) string {
	if len(p) <= 4 {
		return p
	}
	return p[len(p)-4:]
}
