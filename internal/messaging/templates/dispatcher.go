package templates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/pkg/logging"
)

const alertLimit = 90

// Source loads active templates for an event.
type Source interface {
	ListActive(ctx context.Context, eventType string) ([]Template, error)
}

// SMSSender is the single-message transport.
type SMSSender interface {
	Send(ctx context.Context, phone, text string, recipient messaging.Recipient) messaging.Result
	AlertAdmin(ctx context.Context, text string) messaging.Result
	AdminPhone() string
}

// SystemLogger records operational audit rows.
type SystemLogger interface {
	Record(ctx context.Context, e events.LogEntry) error
}

// Outcome is the per-recipient result of a dispatch.
type Outcome struct {
	Recipient messaging.Recipient `json:"recipient"`
	Success   bool                `json:"success"`
	Skipped   bool                `json:"skipped,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Result summarizes one dispatch.
type Result struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Sent counts delivered outcomes.
func (r Result) Sent() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success && !o.Skipped {
			n++
		}
	}
	return n
}

// Failed counts failed outcomes.
func (r Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

// DispatcherConfig tunes retry behaviour.
type DispatcherConfig struct {
	Attempts   int
	RetryDelay time.Duration
}

// Dispatcher renders and sends template messages. Send failures never
// surface as errors; they are logged and summarized to the admin.
type Dispatcher struct {
	source   Source
	sender   SMSSender
	logs     SystemLogger
	renderer Renderer
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration)
	logger   *logging.Logger
}

func NewDispatcher(source Source, sender SMSSender, logs SystemLogger, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	delay := cfg.RetryDelay
	if delay < 0 {
		delay = 0
	}
	return &Dispatcher{
		source:   source,
		sender:   sender,
		logs:     logs,
		attempts: attempts,
		delay:    delay,
		sleep:    sleepCtx,
		logger:   logger,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Send dispatches msg to every recipient that has an active template.
func (d *Dispatcher) Send(ctx context.Context, settings Settings, msg Message) Result {
	var result Result
	tmpls, err := d.source.ListActive(ctx, msg.Event)
	if err != nil {
		d.logger.Error("load sms templates failed", "event_type", msg.Event, "error", err)
		d.record(ctx, events.Failure(events.EventSMSFailed, "SMS 템플릿 조회 실패: "+msg.Event, err.Error()))
		return result
	}
	if len(tmpls) == 0 {
		warn := "SMS 템플릿 없음: " + msg.Event
		d.record(ctx, events.Warning(events.EventSMSWarning, warn, fmt.Sprintf("이벤트 타입 %q에 대한 활성화된 템플릿이 없습니다.", msg.Event)))
		d.sender.AlertAdmin(ctx, truncate("[RCCC 경고] "+warn, alertLimit))
		return result
	}

	var failures []string
	for _, t := range tmpls {
		outcome := d.sendOne(ctx, settings, msg, t)
		if !outcome.Success {
			failures = append(failures, string(t.RecipientType)+": "+outcome.Error)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	if len(failures) > 0 {
		d.sender.AlertAdmin(ctx, truncate("[RCCC] "+msg.Event+" 발송 실패\n"+strings.Join(failures, ", "), alertLimit))
	}
	return result
}

// SendTemplate sends one chosen template, for callers that pick the variant
// themselves. Admin alerts on failure are left to the caller.
func (d *Dispatcher) SendTemplate(ctx context.Context, settings Settings, msg Message, t Template) Outcome {
	return d.sendOne(ctx, settings, msg, t)
}

// AlertAdmin forwards a free-text alert to the admin phone.
func (d *Dispatcher) AlertAdmin(ctx context.Context, text string) messaging.Result {
	return d.sender.AlertAdmin(ctx, truncate(text, alertLimit))
}

func (d *Dispatcher) sendOne(ctx context.Context, settings Settings, msg Message, t Template) Outcome {
	recipient := t.RecipientType
	outcome := Outcome{Recipient: recipient}
	if !settings.Enabled(recipient) {
		outcome.Success, outcome.Skipped = true, true
		return outcome
	}
	to := d.phoneFor(msg, recipient)
	if to == "" {
		outcome.Success, outcome.Skipped = true, true
		return outcome
	}

	text, err := d.renderer.Render(t.Content, msg.Vars)
	if err != nil {
		d.record(ctx, events.Warning(events.EventSMSWarning, "미치환 변수로 발송 차단: "+msg.Event, err.Error()))
		outcome.Error = err.Error()
		return outcome
	}

	res := d.sendWithRetry(ctx, to, text, recipient)
	raw := map[string]any{"phone": to, "eventType": msg.Event, "recipientType": string(recipient), "messageId": res.ProviderMessageID}
	if res.Success {
		d.record(ctx, events.Success(events.EventSMSSent, "문자 발송 성공: "+phone.Last4(to), raw))
		outcome.Success = true
		return outcome
	}
	raw["error"] = res.Error
	d.record(ctx, events.Failure(events.EventSMSFailed, "문자 발송 실패: "+phone.Last4(to), raw))
	outcome.Error = res.Error
	return outcome
}

func (d *Dispatcher) phoneFor(msg Message, r messaging.Recipient) string {
	switch r {
	case messaging.RecipientStudent:
		return msg.Student
	case messaging.RecipientCoach:
		return msg.Coach
	case messaging.RecipientAdmin:
		if msg.Admin {
			return d.sender.AdminPhone()
		}
	}
	return ""
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, to, text string, r messaging.Recipient) messaging.Result {
	var last messaging.Result
	for attempt := 1; attempt <= d.attempts; attempt++ {
		last = d.sender.Send(ctx, to, text, r)
		if last.Success {
			return last
		}
		d.logger.Warn("sms attempt failed", "attempt", attempt, "max_attempts", d.attempts, "error", last.Error)
		if attempt < d.attempts {
			d.sleep(ctx, d.delay)
		}
	}
	last.Error = fmt.Sprintf("%d회 재시도 후 실패: %s", d.attempts, last.Error)
	return last
}

func (d *Dispatcher) record(ctx context.Context, e events.LogEntry) {
	if d.logs == nil {
		return
	}
	if err := d.logs.Record(ctx, e); err != nil {
		d.logger.Error("failed to record sms system log", "event_type", string(e.EventType), "error", err)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
