package notify

import (
	"context"
	"errors"
	"net/mail"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "ops@example.com"}, nil))

	sender := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "ops@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.from.name)
}

func TestSendGridSenderWithoutClient(t *testing.T) {
	var sender *SendGridSender
	assert.Error(t, sender.Send(context.Background(), Email{To: "ops@example.com", Subject: "정산"}))
}

func TestStubEmailSender(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), Email{To: "ops@example.com", Subject: "정산"}))
}

func TestFromEncodesDisplayName(t *testing.T) {
	addr, err := mail.ParseAddress(newFrom("", "noreply@example.com").String())
	require.NoError(t, err)
	assert.Equal(t, defaultFromName, addr.Name)
	assert.Equal(t, "noreply@example.com", addr.Address)
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSenderSendsText(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "noreply@example.com", FromName: "RCCC"}, nil)

	require.NoError(t, sender.Send(context.Background(), Email{To: "ops@example.com", Subject: "정산", Text: "본문"}))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, `"RCCC" <noreply@example.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "정산", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "본문", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Nil(t, in.Content.Simple.Body.Html)
}

func TestSESSenderSendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "noreply@example.com"}, nil)
	assert.ErrorContains(t, sender.Send(context.Background(), Email{To: "ops@example.com"}), "throttled")
}

func TestNewEmailSenderSelection(t *testing.T) {
	assert.IsType(t, &SendGridSender{}, NewEmailSender(SenderConfig{Provider: "sendgrid", SendGrid: SendGridConfig{APIKey: "k"}}, nil, nil))
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(SenderConfig{Provider: "sendgrid"}, nil, nil))
	assert.IsType(t, &SESSender{}, NewEmailSender(SenderConfig{Provider: "SES", SES: SESConfig{FromEmail: "a@b.c"}}, &fakeSES{}, nil))
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(SenderConfig{Provider: "ses"}, nil, nil))
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(SenderConfig{}, nil, nil))
}
