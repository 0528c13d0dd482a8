// Package idempotency derives the dedup keys stored on raw webhooks and
// outbound messages.
package idempotency

import (
	"github.com/creatus-team/v3/internal/phone"
)

// WebhookKey identifies one payment row: normalized phone plus the raw
// provider timestamp. The timestamp is not reparsed, so a re-stamped retry
// is a new event.
func WebhookKey(rawPhone, rawTimestamp string) string {
	return phone.Normalize(rawPhone) + "_" + rawTimestamp
}

// CancellationKey identifies the cancellation row for the payment WebhookKey
// names. Cancellation rows repeat the payment timestamp, so they need their
// own key space.
func CancellationKey(rawPhone, rawTimestamp string) string {
	return WebhookKey(rawPhone, rawTimestamp) + "_cancel"
}

// SMSKey identifies one templated message to one phone on one date.
func SMSKey(rawPhone, messageType, date string) string {
	return "sms_" + phone.Normalize(rawPhone) + "_" + messageType + "_" + date
}

// TallyKey identifies one form submission.
func TallyKey(responseID string) string {
	return "tally_" + responseID
}
