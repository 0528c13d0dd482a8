package inbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/schedule"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	inbox.NewHandler(f.svc, nil).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestHandlerListAll(t *testing.T) {
	f := newFixture(t)
	id, _ := f.park(t, samplePayload, inbox.ErrorParseFailed, nil)
	f.park(t, samplePayload, inbox.ErrorSlotConflict, nil)
	require.NoError(t, f.svc.UpdateStatus(context.Background(), id, inbox.StatusResolved))
	router := newTestRouter(f)

	rec, body := do(t, router, http.MethodGet, "/inbox?status=all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 2)

	_, body = do(t, router, http.MethodGet, "/inbox?status=PENDING", "")
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "SLOT_CONFLICT", data[0].(map[string]any)["error_type"])

	rec, _ = do(t, router, http.MethodGet, "/inbox?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPatchValidatesStatus(t *testing.T) {
	f := newFixture(t)
	id, _ := f.park(t, samplePayload, inbox.ErrorParseFailed, nil)
	router := newTestRouter(f)

	rec, body := do(t, router, http.MethodPatch, "/inbox/"+id.String(), `{"status":"DONE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "oneof", body["fields"].(map[string]any)["status"])

	rec, _ = do(t, router, http.MethodPatch, "/inbox/"+id.String(), `{"status":"IGNORED"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodPatch, "/inbox/"+uuid.NewString(), `{"status":"IGNORED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerAssign(t *testing.T) {
	f := newFixture(t)
	id, _ := f.park(t, samplePayload, inbox.ErrorSlotConflict, nil)
	router := newTestRouter(f)

	rec, body := do(t, router, http.MethodPost, "/inbox/"+id.String()+"/assign", `{"slotId":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "uuid", body["fields"].(map[string]any)["slotId"])

	rec, _ = do(t, router, http.MethodPost, "/inbox/"+id.String()+"/assign", `{"slotId":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, router, http.MethodPost, "/inbox/"+id.String()+"/assign", `{"slotId":"`+f.slot.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["data"].(map[string]any)["sessionId"])

	other, _ := f.park(t, samplePayload, inbox.ErrorSlotConflict, nil)
	rec, body = do(t, router, http.MethodPost, "/inbox/"+other.String()+"/assign", `{"slotId":"`+f.slot.ID.String()+`"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, inbox.ErrSlotTaken.Error(), body["error"])
}

func TestHandlerReprocessBackToInbox(t *testing.T) {
	f := newFixture(t)
	id, _ := f.park(t, samplePayload, inbox.ErrorParseFailed, nil)
	f.replayer.replay = inbox.Replay{MovedToInbox: true, Reason: "coach_not_found"}
	router := newTestRouter(f)

	rec, body := do(t, router, http.MethodPost, "/inbox/"+id.String()+"/reprocess", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "coach_not_found", body["reason"])
	assert.Equal(t, "재처리 실패: coach_not_found", body["message"])
}

func TestHandlerRefundEmptyBody(t *testing.T) {
	f := newFixture(t)
	user := f.repo.AddUser("홍길동", "01012345678")
	f.book(t, user, schedule.Date(2025, 3, 4))
	id, _ := f.park(t, samplePayload, inbox.ErrorRefundMatchFailed, nil)
	router := newTestRouter(f)

	rec, body := do(t, router, http.MethodPost, "/inbox/"+id.String()+"/refund", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "REFUNDED", body["data"].(map[string]any)["status"])

	rec, _ = do(t, router, http.MethodPost, "/inbox/"+id.String()+"/refund", `{"sessionId":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRefundTodayLessonFlag(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"omitted", `{"reason":"x"}`, "2025-03-10T00:00:00Z"},
		{"true", `{"reason":"x","includeTodayLesson":true}`, "2025-03-10T00:00:00Z"},
		{"false", `{"reason":"x","includeTodayLesson":false}`, "2025-03-09T00:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			user := f.repo.AddUser("홍길동", "01012345678")
			f.book(t, user, schedule.Date(2025, 3, 4))
			id, _ := f.park(t, samplePayload, inbox.ErrorRefundMatchFailed, nil)
			router := newTestRouter(f)

			rec, body := do(t, router, http.MethodPost, "/inbox/"+id.String()+"/refund", tc.body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, body["data"].(map[string]any)["early_terminated_at"])
		})
	}
}

func TestHandlerTallyMatchSendFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	user := f.repo.AddUser("홍길동", "01012345678")
	f.book(t, user, schedule.Date(2025, 3, 4))
	id, err := f.items.Create(context.Background(), inbox.Entry{RawText: "x", ErrorMessage: "x", ErrorType: inbox.ErrorTallyMatchFailed})
	require.NoError(t, err)
	router := newTestRouter(f)

	rec, _ := do(t, router, http.MethodPost, "/inbox/"+id.String()+"/tally-match", `{"userId":"`+user.ID.String()+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
