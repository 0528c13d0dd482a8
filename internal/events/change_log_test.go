package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	link := "https://open.kakao.com/x"
	before := map[string]any{"start_time": "19:00", "is_active": true, "open_chat_link": nil}
	after := map[string]any{"start_time": "20:00", "is_active": true, "open_chat_link": &link}

	changes := Diff(before, after, []string{"start_time", "is_active", "open_chat_link", "missing"})
	require.Len(t, changes, 2)
	assert.Equal(t, "start_time", changes[0].Field)
	assert.Equal(t, "19:00", *changes[0].OldValue)
	assert.Equal(t, "20:00", *changes[0].NewValue)
	assert.Equal(t, "open_chat_link", changes[1].Field)
	assert.Nil(t, changes[1].OldValue)
}

func TestRecordChanges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newChangeLogStoreWithExec(mock)
	id := uuid.New()
	oldV, newV := "19:00", "20:00"
	mock.ExpectExec("INSERT INTO change_logs").
		WithArgs(pgxmock.AnyArg(), "coach_slots", id, "start_time", &oldV, &newV).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.RecordChanges(context.Background(), "coach_slots", id,
		map[string]any{"start_time": "19:00", "day_of_week": "화"},
		map[string]any{"start_time": "20:00", "day_of_week": "화"},
		[]string{"start_time", "day_of_week"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
