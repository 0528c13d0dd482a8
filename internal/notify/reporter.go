package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/creatus-team/v3/pkg/logging"
)

// Provider names accepted by NewEmailSender.
const (
	ProviderSendGrid = "sendgrid"
	ProviderSES      = "ses"
	ProviderStub     = "stub"
)

// SenderConfig selects and configures an email provider.
type SenderConfig struct {
	Provider string
	SendGrid SendGridConfig
	SES      SESConfig
}

// NewEmailSender returns the configured provider, falling back to the stub
// when the provider is unknown or not fully configured.
func NewEmailSender(cfg SenderConfig, ses SESAPI, logger *logging.Logger) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderSendGrid:
		if s := NewSendGridSender(cfg.SendGrid, logger); s != nil {
			return s
		}
		logger.Warn("sendgrid selected without api key; using stub email sender")
	case ProviderSES:
		if s := NewSESSender(ses, cfg.SES, logger); s != nil && cfg.SES.FromEmail != "" {
			return s
		}
		logger.Warn("ses selected without client or sender address; using stub email sender")
	}
	return NewStubEmailSender(logger)
}

// Reporter mails plain-text reports to one operator address.
type Reporter struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

// NewReporter returns nil when there is no sender or recipient; a nil
// Reporter ignores reports.
func NewReporter(sender EmailSender, to string, logger *logging.Logger) *Reporter {
	if sender == nil || strings.TrimSpace(to) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reporter{sender: sender, to: strings.TrimSpace(to), logger: logger}
}

// SendReport mails subject and body.
func (r *Reporter) SendReport(ctx context.Context, subject, body string) error {
	if r == nil {
		return nil
	}
	if err := r.sender.Send(ctx, Email{To: r.to, Subject: subject, Text: body}); err != nil {
		return fmt.Errorf("notify: send report: %w", err)
	}
	r.logger.Info("report emailed", "subject", subject)
	return nil
}
