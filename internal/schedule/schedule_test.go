package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDateTime(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, KST)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"25.12.16 10:39", time.Date(2025, 12, 16, 10, 39, 0, 0, KST)},
		{"60.01.02 07:05", time.Date(1960, 1, 2, 7, 5, 0, 0, KST)},
		{"2025-03-07T18:00:00+09:00", time.Date(2025, 3, 7, 18, 0, 0, 0, KST)},
		{"2025-03-07T09:00:00Z", time.Date(2025, 3, 7, 18, 0, 0, 0, KST)},
		{"2025-03-07 18:00", time.Date(2025, 3, 7, 18, 0, 0, 0, KST)},
		{"2025-03-07", time.Date(2025, 3, 7, 0, 0, 0, 0, KST)},
		{"garbage", now},
		{"", now},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseDateTime(tt.in, now)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestToDateString(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "2025-12-16", ToDateString("25.12.16 10:39", now))
	assert.Equal(t, "2025-03-08", ToDateString("2025-03-07T16:00:00Z", now))
}

func TestTodayUsesKST(t *testing.T) {
	instant := time.Date(2025, 3, 9, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-10", DateString(Today(instant)))
	assert.Equal(t, "2025-03-09", DateString(Yesterday(instant)))
	assert.Equal(t, "2025-03-11", DateString(Tomorrow(instant)))
}

func TestParseDay(t *testing.T) {
	d, ok := ParseDay("화요일")
	assert.True(t, ok)
	assert.Equal(t, Tuesday, d)
	_, ok = ParseDay("X")
	assert.False(t, ok)
	assert.Equal(t, time.Sunday, Sunday.Weekday())
}

func TestShortDate(t *testing.T) {
	assert.Equal(t, "2/9", ShortDate(Date(2026, 2, 9)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-04")
	assert.NoError(t, err)
	assert.Equal(t, Date(2025, 3, 4), d)
	_, err = ParseDate("03/04")
	assert.Error(t, err)
}
