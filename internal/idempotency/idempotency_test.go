package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookKey(t *testing.T) {
	assert.Equal(t, "01012345678_25.12.16 10:39", WebhookKey("010-1234-5678", "25.12.16 10:39"))
	assert.Equal(t, WebhookKey("+82 10 1234 5678", "t"), WebhookKey("01012345678", "t"))
	assert.NotEqual(t, WebhookKey("01012345678", "25.12.16 10:39"), WebhookKey("01012345678", "25.12.16 10:40"))
}

func TestCancellationKeyDiffersFromPayment(t *testing.T) {
	assert.Equal(t, "01012345678_25.12.16 10:39_cancel", CancellationKey("010-1234-5678", "25.12.16 10:39"))
	assert.NotEqual(t, WebhookKey("01012345678", "t"), CancellationKey("01012345678", "t"))
}

func TestSMSKey(t *testing.T) {
	assert.Equal(t, "sms_01012345678_D1_2025-03-10", SMSKey("010-1234-5678", "D1", "2025-03-10"))
}

func TestTallyKey(t *testing.T) {
	assert.Equal(t, "tally_abc", TallyKey("abc"))
}
