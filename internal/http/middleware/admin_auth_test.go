package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveAdmin(t *testing.T, secret, authHeader string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/inbox", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	called := false
	AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if claims, ok := AdminClaimsFromContext(r.Context()); !ok || claims.Subject != AdminSubject {
			t.Fatalf("expected admin claims in context")
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, called
}

func TestAdminJWTRejects(t *testing.T) {
	good, _, err := IssueAdminToken("secret", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expired, _, err := IssueAdminToken("secret", time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	cases := map[string]struct {
		secret string
		header string
	}{
		"secret not configured": {"", "Bearer " + good},
		"missing header":        {"secret", ""},
		"wrong scheme":          {"secret", "Token " + good},
		"wrong key":             {"other", "Bearer " + good},
		"expired":               {"secret", "Bearer " + expired},
		"foreign subject":       {"secret", "Bearer " + signToken(t, "secret", "someone")},
	}
	for name, tc := range cases {
		rec, called := serveAdmin(t, tc.secret, tc.header)
		if called || rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d (called=%v)", name, rec.Code, called)
		}
	}
}

func TestAdminJWTAcceptsIssuedToken(t *testing.T) {
	now := time.Now()
	token, expires, err := IssueAdminToken("secret", 12*time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !expires.Equal(now.Add(12 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", expires)
	}
	rec, called := serveAdmin(t, "secret", "Bearer "+token)
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected handler to run, got %d", rec.Code)
	}
}

func TestIssueAdminTokenRequiresSecret(t *testing.T) {
	if _, _, err := IssueAdminToken("", time.Hour, time.Now()); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
