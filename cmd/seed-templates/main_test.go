package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
)

func TestParseSeed(t *testing.T) {
	items, err := parseSeed(strings.NewReader(`
templates:
  - event: REMINDER_D1
    recipient: STUDENT
    trigger: SCHEDULE
    days_before: 1
    send_time: "20:00"
    content: "{수강생명}님 내일 수업"
  - event: CANCEL
    recipient: ADMIN
    content: "취소 {취소사유}"
    inactive: true
`))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "REMINDER_D1", items[0].EventType)
	assert.Equal(t, messaging.RecipientStudent, items[0].RecipientType)
	assert.Equal(t, templates.TriggerSchedule, items[0].TriggerType)
	require.NotNil(t, items[0].DaysBefore)
	assert.Equal(t, 1, *items[0].DaysBefore)
	assert.True(t, items[0].IsActive)

	assert.Empty(t, items[1].TriggerType)
	assert.False(t, items[1].IsActive)
}

func TestParseSeedRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad recipient": "templates:\n  - event: X\n    recipient: PARENT\n    content: hi\n",
		"no content":    "templates:\n  - event: X\n    recipient: ADMIN\n",
		"unknown field": "templates:\n  - event: X\n    recipient: ADMIN\n    content: hi\n    colour: red\n",
		"duplicate":     "templates:\n  - event: X\n    recipient: ADMIN\n    content: a\n  - event: X\n    recipient: ADMIN\n    content: b\n",
		"schedule":      "templates:\n  - event: REMINDER_D3\n    recipient: STUDENT\n    trigger: SCHEDULE\n    content: a\n",
	}
	for name, doc := range cases {
		_, err := parseSeed(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestDefaultSeedFileParses(t *testing.T) {
	f, err := os.Open("../../configs/sms_templates.yaml")
	require.NoError(t, err)
	defer f.Close()

	items, err := parseSeed(f)
	require.NoError(t, err)

	events := make(map[string]bool)
	for _, it := range items {
		events[it.EventType] = true
	}
	for _, want := range []string{templates.EventNewEnroll, templates.EventCoachBriefing, templates.ReminderEvent(1)} {
		assert.True(t, events[want], want)
	}
}
