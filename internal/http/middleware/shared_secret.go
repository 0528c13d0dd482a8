package middleware

import (
	"crypto/subtle"
	"net/http"
)

const (
	// WebhookTokenHeader carries the shared secret on provider webhooks.
	WebhookTokenHeader = "X-RCCC-Token"
	// CronSecretHeader carries the scheduler secret on cron routes.
	CronSecretHeader = "X-Cron-Secret"
)

// RejectHook observes a request refused for a bad or missing secret.
type RejectHook func(r *http.Request)

// WebhookToken accepts X-RCCC-Token or a bearer token equal to secret. An
// empty secret rejects every call.
func WebhookToken(secret string, onReject RejectHook) func(http.Handler) http.Handler {
	return sharedSecret(secret, WebhookTokenHeader, onReject)
}

// CronSecret accepts X-Cron-Secret or a bearer token equal to secret.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return sharedSecret(secret, CronSecretHeader, nil)
}

func sharedSecret(secret, header string, onReject RejectHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretMatches(r, header, secret) {
				if onReject != nil {
					onReject(r)
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretMatches(r *http.Request, header, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(header)
	if got == "" {
		got, _ = bearer(r)
	}
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
