// Package notify delivers operator email: the settlement report sent when a
// month is locked.
package notify

import (
	"context"
	"fmt"
	"html"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/creatus-team/v3/pkg/logging"
)

const defaultFromName = "크리투스 코칭"

// Email is one plain-text operator mail.
type Email struct {
	To      string
	Subject string
	Text    string
}

// EmailSender delivers one Email.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// from is the display identity shared by every provider.
type from struct {
	name    string
	address string
}

func newFrom(name, address string) from {
	if name == "" {
		name = defaultFromName
	}
	return from{name: name, address: address}
}

// String renders an RFC 5322 mailbox with a quoted, encoded display name.
func (f from) String() string {
	return (&mail.Address{Name: f.name, Address: f.address}).String()
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender posts mail through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   from
	logger *logging.Logger
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.APIKey),
		from:   newFrom(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Email) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	// SendGrid requires an html part; the report is mirrored as preformatted text.
	message := sgmail.NewSingleEmail(
		sgmail.NewEmail(s.from.name, s.from.address),
		msg.Subject,
		sgmail.NewEmail("", msg.To),
		msg.Text,
		"<pre>"+html.EscapeString(msg.Text)+"</pre>",
	)
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected mail", "status", resp.StatusCode, "body", resp.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("email sent", "provider", ProviderSendGrid, "to", msg.To, "subject", msg.Subject)
	return nil
}

// StubEmailSender only logs. It is used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg Email) error {
	s.logger.Info("email provider disabled; report not sent", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.Text))
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
