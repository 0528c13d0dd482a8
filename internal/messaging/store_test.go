package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStoreInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)
	groupID := "G1"
	mock.ExpectExec("INSERT INTO sms_logs").
		WithArgs(pgxmock.AnyArg(), "01012345678", "STUDENT", "hello", LogSent, &groupID, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Insert(context.Background(), SMSLog{
		RecipientPhone:    "01012345678",
		RecipientType:     RecipientStudent,
		Content:           "hello",
		Status:            LogSent,
		ProviderMessageID: &groupID,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreListRefreshableLatest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)
	id := uuid.New()
	gid := "G1"
	mock.ExpectQuery("FROM sms_logs WHERE status = 'SENT'").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recipient_phone", "recipient_type", "message_content", "status", "provider_message_id", "error_message", "created_at"}).
			AddRow(id, "01012345678", "COACH", "hi", LogSent, &gid, (*string)(nil), time.Now()))

	logs, err := store.ListRefreshable(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].RecipientType != RecipientCoach || *logs[0].ProviderMessageID != "G1" {
		t.Fatalf("unexpected logs %#v", logs)
	}
}

func TestStoreListRefreshableByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithExec(mock)
	ids := []uuid.UUID{uuid.New()}
	mock.ExpectQuery("WHERE id = ANY").WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recipient_phone", "recipient_type", "message_content", "status", "provider_message_id", "error_message", "created_at"}))

	logs, err := store.ListRefreshable(context.Background(), ids, 50)
	if err != nil || len(logs) != 0 {
		t.Fatalf("expected no rows, got %v %v", logs, err)
	}
}
