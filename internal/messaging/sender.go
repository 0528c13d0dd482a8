// Package messaging sends SMS through the configured provider and keeps the
// sms_logs audit trail.
package messaging

import (
	"context"
	"errors"

	"github.com/creatus-team/v3/internal/messaging/solapi"
	"github.com/creatus-team/v3/internal/observability/metrics"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/pkg/logging"
)

// Recipient is the audience class of a message.
type Recipient string

const (
	RecipientStudent Recipient = "STUDENT"
	RecipientCoach   Recipient = "COACH"
	RecipientAdmin   Recipient = "ADMIN"
)

// Recipients lists every class in display order.
var Recipients = []Recipient{RecipientStudent, RecipientCoach, RecipientAdmin}

const (
	errNotConfigured   = "Solapi 환경변수 미설정"
	errNoAdminPhone    = "관리자 전화번호 미설정"
	errInvalidReceiver = "수신번호 형식 오류"
)

// Provider is the outbound SMS transport.
type Provider interface {
	Configured() bool
	Send(ctx context.Context, to, text string) (*solapi.SendResult, error)
}

type logWriter interface {
	Insert(ctx context.Context, rec SMSLog) error
}

// Result is the outcome of one send.
type Result struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Sender delivers single messages and records each attempt.
type Sender struct {
	provider   Provider
	logs       logWriter
	adminPhone string
	metrics    *metrics.SMSMetrics
	logger     *logging.Logger
}

func NewSender(provider Provider, logs logWriter, adminPhone string, m *metrics.SMSMetrics, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		provider:   provider,
		logs:       logs,
		adminPhone: phone.Normalize(adminPhone),
		metrics:    m,
		logger:     logger,
	}
}

// AdminPhone returns the normalized admin number, or "".
func (s *Sender) AdminPhone() string {
	return s.adminPhone
}

// Send delivers text to rawPhone. Failures are returned in the Result and
// never as an error; every attempt is logged to sms_logs.
func (s *Sender) Send(ctx context.Context, rawPhone, text string, recipient Recipient) Result {
	to := phone.Normalize(rawPhone)
	var res Result
	switch {
	case s.provider == nil || !s.provider.Configured():
		res.Error = errNotConfigured
	case !phone.IsValid(to):
		res.Error = errInvalidReceiver
	default:
		sent, err := s.provider.Send(ctx, to, text)
		if err != nil {
			var apiErr *solapi.APIError
			if errors.As(err, &apiErr) {
				res.Error = apiErr.Error()
			} else {
				res.Error = err.Error()
			}
		} else {
			res.Success = true
			res.ProviderMessageID = sent.GroupID
		}
	}

	rec := SMSLog{RecipientPhone: to, RecipientType: recipient, Content: text}
	if res.Success {
		rec.Status = LogSent
		rec.ProviderMessageID = &res.ProviderMessageID
	} else {
		rec.Status = LogFailed
		msg := res.Error
		rec.ErrorMessage = &msg
		s.logger.Warn("sms send failed", "recipient", string(recipient), "phone", logging.MaskPhone(to), "error", res.Error)
	}
	if s.logs != nil {
		if err := s.logs.Insert(ctx, rec); err != nil {
			s.logger.Error("failed to record sms log", "error", err)
		}
	}
	s.metrics.ObserveSend(string(recipient), rec.Status)
	return res
}

// AlertAdmin sends a plain-text operator alert.
func (s *Sender) AlertAdmin(ctx context.Context, text string) Result {
	if s.adminPhone == "" {
		s.logger.Warn("admin alert dropped: no admin phone", "text", text)
		return Result{Error: errNoAdminPhone}
	}
	return s.Send(ctx, s.adminPhone, text, RecipientAdmin)
}
