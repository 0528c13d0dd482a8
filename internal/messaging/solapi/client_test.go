package solapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"
)

var authPattern = regexp.MustCompile(`^HMAC-SHA256 apiKey=key, date=([^,]+), salt=([0-9a-f]{32}), signature=([0-9a-f]{64})$`)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	return New(Config{
		BaseURL:    server.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Sender:     "0212345678",
		HTTPClient: server.Client(),
		Now:        func() time.Time { return time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC) },
	})
}

func TestSendSignsAndPosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/v4/send" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		m := authPattern.FindStringSubmatch(r.Header.Get("Authorization"))
		if m == nil {
			t.Fatalf("bad auth header %q", r.Header.Get("Authorization"))
		}
		if m[1] != "2025-03-10T01:00:00Z" {
			t.Fatalf("unexpected date %s", m[1])
		}
		if Sign("secret", m[1], m[2]) != m[3] {
			t.Fatalf("signature mismatch")
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Message map[string]string `json:"message"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Message["to"] != "01012345678" || req.Message["from"] != "0212345678" || req.Message["text"] != "hi" {
			t.Fatalf("unexpected body %s", body)
		}
		w.Write([]byte(`{"groupId":"G1"}`))
	}))
	defer server.Close()

	res, err := newTestClient(t, server).Send(context.Background(), "01012345678", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.GroupID != "G1" {
		t.Fatalf("unexpected group %q", res.GroupID)
	}
}

func TestSendErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorCode":"ValidationError","errorMessage":"수신번호 형식 오류"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Send(context.Background(), "010", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.Message != "수신번호 형식 오류" || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected error %#v", apiErr)
	}
}

func TestSendMissingGroupIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"queued?"}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).Send(context.Background(), "01012345678", "hi")
	if err == nil || !strings.Contains(err.Error(), "queued?") {
		t.Fatalf("expected failure from body message, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{APIKey: "key"})
	if c.Configured() {
		t.Fatalf("expected unconfigured client")
	}
	if _, err := c.Send(context.Background(), "01012345678", "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Fatalf("expected default timeout, got %s", c.httpClient.Timeout)
	}
}

func TestGetStatus(t *testing.T) {
	cases := map[string]string{
		"4000": StatusComplete,
		"3000": StatusSending,
		"2000": StatusSending,
		"5001": StatusFailed,
		"6011": StatusFailed,
		"1000": StatusPending,
	}
	for code, want := range cases {
		code, want := code, want
		t.Run(code, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/messages/v4/groups/G1/messages" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(`{"messageList":{"M1":{"statusCode":"` + code + `","statusMessage":"x"}}}`))
			}))
			defer server.Close()

			st, err := newTestClient(t, server).GetStatus(context.Background(), "G1")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if st.State != want {
				t.Fatalf("code %s: expected %s, got %s", code, want, st.State)
			}
		})
	}
}

func TestGetStatusEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messageList":{}}`))
	}))
	defer server.Close()

	st, err := newTestClient(t, server).GetStatus(context.Background(), "G1")
	if err != nil || st.State != StatusPending {
		t.Fatalf("expected pending, got %#v %v", st, err)
	}
}
