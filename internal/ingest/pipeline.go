// Package ingest reconciles payment-sheet and Tally webhooks against
// sessions. Every payload is stored before it is interpreted; anything the
// pipeline cannot settle deterministically is parked in the manual inbox.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/idempotency"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/ingest/payload"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/slotlock"
	"github.com/creatus-team/v3/pkg/logging"
)

var tracer = otel.Tracer("creatus/ingest")

var (
	// ErrMissingFields is returned when a sheet row lacks phone or timestamp.
	ErrMissingFields = errors.New("ingest: missing required fields")
	// ErrMalformed is returned for bodies that are not a JSON object.
	ErrMalformed = errors.New("ingest: malformed payload")
	// ErrInvalidPhone is returned when a form submission has no usable phone.
	ErrInvalidPhone = errors.New("ingest: invalid phone number")
	// ErrNotReprocessable is returned when a log row has no sheet payload to replay.
	ErrNotReprocessable = errors.New("ingest: log row cannot be reprocessed")
	// ErrAlreadyProcessed is returned when the stored payload was already applied.
	ErrAlreadyProcessed = errors.New("ingest: payload already processed")
)

// Outcome classifies a pipeline run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInboxed   Outcome = "moved_to_inbox"
)

// Result is the caller-facing summary of a run. Reason is the short inbox
// code when Outcome is OutcomeInboxed.
type Result struct {
	Outcome Outcome
	Reason  string
	InboxID uuid.UUID
	Data    map[string]any
}

// RawStore is the save-first payload table.
type RawStore interface {
	ExistsByKey(ctx context.Context, key string) (bool, error)
	FindByKey(ctx context.Context, key string) (*events.RawWebhook, error)
	Insert(ctx context.Context, source, key string, payload json.RawMessage) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*events.RawWebhook, error)
	SetProcessed(ctx context.Context, id uuid.UUID, processed bool) error
}

var _ RawStore = (*events.RawWebhookStore)(nil)

// LogStore records system logs and lets operators replay them.
type LogStore interface {
	Record(ctx context.Context, e events.LogEntry) error
	Get(ctx context.Context, id uuid.UUID) (*events.SystemLog, error)
	SetProcessStatus(ctx context.Context, id uuid.UUID, status events.ProcessStatus) error
}

var _ LogStore = (*events.SystemLogStore)(nil)

// ActivityLog appends user activity rows.
type ActivityLog interface {
	Record(ctx context.Context, a events.Activity) error
}

// Notifier dispatches template messages.
type Notifier interface {
	Send(ctx context.Context, settings templates.Settings, msg templates.Message) templates.Result
}

// SettingsLoader loads the send toggle snapshot.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (templates.Settings, error)
}

// AdminAlerter sends plain-text operator alerts.
type AdminAlerter interface {
	AlertAdmin(ctx context.Context, text string) messaging.Result
}

// Locker serializes bookings on one slot.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Deps wires a Pipeline.
type Deps struct {
	Repo     sessions.Repository
	Raw      RawStore
	Inbox    inbox.Items
	Logs     LogStore
	Activity ActivityLog
	Notifier Notifier
	Settings SettingsLoader
	Alerts   AdminAlerter
	Locker   Locker
	Forms    payload.FormIDs
	Logger   *logging.Logger
	Now      func() time.Time

	// TallySecret enables Tally-Signature verification when set.
	TallySecret string
}

// Pipeline runs the webhook flows.
type Pipeline struct {
	repo     sessions.Repository
	raw      RawStore
	inbox    inbox.Items
	logs     LogStore
	activity ActivityLog
	notifier Notifier
	settings SettingsLoader
	alerts   AdminAlerter
	locker   Locker
	forms    payload.FormIDs
	secret   string
	logger   *logging.Logger
	now      func() time.Time
}

func NewPipeline(d Deps) *Pipeline {
	if d.Repo == nil || d.Raw == nil || d.Inbox == nil {
		panic("ingest: repository, raw store and inbox required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Forms == (payload.FormIDs{}) {
		d.Forms = payload.FormIDs{Application: payload.DefaultApplicationFormID, Diagnosis: payload.DefaultDiagnosisFormID}
	}
	return &Pipeline{
		repo:     d.Repo,
		raw:      d.Raw,
		inbox:    d.Inbox,
		logs:     d.Logs,
		activity: d.Activity,
		notifier: d.Notifier,
		settings: d.Settings,
		alerts:   d.Alerts,
		locker:   d.Locker,
		forms:    d.Forms,
		secret:   d.TallySecret,
		logger:   d.Logger.Component("ingest"),
		now:      d.Now,
	}
}

var _ inbox.Reprocessor = (*Pipeline)(nil)

// Sheet ingests one payment-sheet row.
func (p *Pipeline) Sheet(ctx context.Context, body []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.sheet")
	defer span.End()

	sheet, err := payload.ParseSheet(body)
	if err != nil {
		if errors.Is(err, payload.ErrMissingIdentity) {
			p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "필수 필드 누락 (전화번호 또는 결제일시)", string(body)))
			span.SetStatus(codes.Error, "missing fields")
			return Result{}, ErrMissingFields
		}
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "요청 본문 파싱 실패", string(body)))
		span.SetStatus(codes.Error, "malformed")
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	span.SetAttributes(
		attribute.String("coaching.phone_last4", phone.Last4(phone.Normalize(sheet.Phone))),
		attribute.Bool("coaching.cancellation", sheet.IsCancellation()),
		attribute.String("coaching.sheet_source", sheet.Source),
	)

	key := sheetKey(sheet)
	exists, err := p.raw.ExistsByKey(ctx, key)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("ingest: check duplicate: %w", err)
	}
	if exists {
		return p.duplicate(ctx, key), nil
	}
	rawID, err := p.raw.Insert(ctx, events.SourceGoogleSheet, key, json.RawMessage(body))
	if errors.Is(err, events.ErrDuplicateKey) {
		return p.duplicate(ctx, key), nil
	}
	if err != nil {
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "Raw 데이터 저장 실패", err.Error()))
		span.RecordError(err)
		return Result{}, fmt.Errorf("ingest: save raw webhook: %w", err)
	}
	span.SetAttributes(attribute.String("coaching.raw_webhook_id", rawID.String()))

	return p.run(ctx, rawID, sheet)
}

// run routes a persisted sheet row and converts unexpected failures into a
// SYSTEM_ERROR log. The raw row stays unprocessed in that case.
func (p *Pipeline) run(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	res, err := p.route(ctx, rawID, sheet)
	if err != nil {
		p.systemError(ctx, rawID, err)
		return Result{}, err
	}
	p.logger.Info("sheet webhook processed", "raw_webhook_id", rawID, "outcome", string(res.Outcome), "reason", res.Reason)
	return res, nil
}

func (p *Pipeline) route(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	switch {
	case sheet.IsRenewal() && sheet.IsCancellation():
		return p.renewalRefund(ctx, rawID, sheet)
	case sheet.IsRenewal():
		return p.renewal(ctx, rawID, sheet)
	case sheet.IsCancellation():
		return p.refund(ctx, rawID, sheet)
	default:
		return p.enroll(ctx, rawID, sheet)
	}
}

func sheetKey(s payload.Sheet) string {
	if s.IsCancellation() {
		return idempotency.CancellationKey(s.Phone, s.PaidAt)
	}
	return idempotency.WebhookKey(s.Phone, s.PaidAt)
}

func (p *Pipeline) duplicate(ctx context.Context, key string) Result {
	p.recordLog(ctx, events.Success(events.EventWebhookDuplicate, "중복 웹훅 무시: "+key, nil))
	return Result{Outcome: OutcomeDuplicate}
}

func (p *Pipeline) systemError(ctx context.Context, rawID uuid.UUID, err error) {
	p.logger.Error("webhook pipeline failed", "raw_webhook_id", rawID, "error", err)
	p.recordLog(ctx, events.Failure(events.EventSystemError, "웹훅 처리 중 시스템 오류",
		map[string]any{"rawWebhookId": rawID.String(), "error": err.Error()}))
	p.notify(ctx, templates.SystemError("웹훅 처리 중 시스템 오류: "+err.Error()))
}

// Reprocess re-runs routing for a stored payload. Callers reset the processed
// flag first.
func (p *Pipeline) Reprocess(ctx context.Context, rawID uuid.UUID) (inbox.Replay, error) {
	ctx, span := tracer.Start(ctx, "ingest.reprocess")
	defer span.End()
	span.SetAttributes(attribute.String("coaching.raw_webhook_id", rawID.String()))

	w, err := p.raw.Get(ctx, rawID)
	if err != nil {
		return inbox.Replay{}, err
	}
	var res Result
	if w.Source == events.SourceTally {
		res, err = p.tallyStored(ctx, rawID, w.Payload)
	} else {
		res, err = p.replaySheet(ctx, rawID, w.Payload)
	}
	if err != nil {
		return inbox.Replay{}, err
	}
	p.recordLog(ctx, events.Success(events.EventWebhookReprocessed, "웹훅 재처리: "+string(res.Outcome),
		map[string]any{"rawWebhookId": rawID.String(), "reason": res.Reason}))
	return res.Replay(), nil
}

func (p *Pipeline) replaySheet(ctx context.Context, rawID uuid.UUID, body []byte) (Result, error) {
	sheet, err := payload.ParseSheet(body)
	if err != nil {
		if errors.Is(err, payload.ErrMissingIdentity) {
			return p.park(ctx, parking{raw: &rawID, text: sheet.Option, msg: "필수 필드 누락 (전화번호 또는 결제일시)",
				errType: inbox.ErrorParseFailed, reason: "missing_fields"})
		}
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p.run(ctx, rawID, sheet)
}

// ReprocessLog replays the sheet payload captured on a WEBHOOK_* or PARSE_*
// system log. A payload that was never stored goes through the full intake.
func (p *Pipeline) ReprocessLog(ctx context.Context, logID uuid.UUID) (Result, error) {
	if p.logs == nil {
		return Result{}, ErrNotReprocessable
	}
	entry, err := p.logs.Get(ctx, logID)
	if err != nil {
		return Result{}, err
	}
	if !entry.EventType.Reprocessable() || entry.RawData == nil || *entry.RawData == "" {
		return Result{}, ErrNotReprocessable
	}
	body := []byte(*entry.RawData)
	sheet, err := payload.ParseSheet(body)
	if err != nil {
		if errors.Is(err, payload.ErrMissingIdentity) {
			return Result{}, ErrMissingFields
		}
		return Result{}, ErrNotReprocessable
	}

	var res Result
	stored, err := p.raw.FindByKey(ctx, sheetKey(sheet))
	switch {
	case errors.Is(err, events.ErrNotFound):
		res, err = p.Sheet(ctx, body)
	case err != nil:
		return Result{}, err
	case stored.Processed:
		return Result{}, ErrAlreadyProcessed
	default:
		res, err = p.run(ctx, stored.ID, sheet)
	}
	if err != nil {
		return Result{}, err
	}

	if err := p.logs.SetProcessStatus(ctx, logID, events.ProcessResolved); err != nil {
		p.logger.Error("failed to resolve system log", "log_id", logID, "error", err)
	}
	p.recordLog(ctx, events.Success(events.EventWebhookReprocessed, "로그 재처리: "+string(res.Outcome),
		map[string]any{"logId": logID.String(), "reason": res.Reason}))
	return res, nil
}

// Replay converts r for the inbox reprocess response.
func (r Result) Replay() inbox.Replay {
	return inbox.Replay{MovedToInbox: r.Outcome == OutcomeInboxed, Reason: r.Reason, Data: r.Data}
}

// parking describes one inbox hand-off.
type parking struct {
	raw     *uuid.UUID
	text    string
	msg     string
	errType inbox.ErrorType
	reason  string
	meta    map[string]any
	// log, when set, is recorded alongside the inbox item.
	log *events.LogEntry
	// alert, when set, is sent to the admin phone as plain text.
	alert string
}

func (p *Pipeline) park(ctx context.Context, pk parking) (Result, error) {
	meta := map[string]any{"reason": pk.reason}
	for k, v := range pk.meta {
		meta[k] = v
	}
	id, err := p.inbox.Create(ctx, inbox.Entry{
		RawWebhookID: pk.raw,
		RawText:      pk.text,
		ErrorMessage: pk.msg,
		ErrorType:    pk.errType,
		Metadata:     meta,
	})
	if err != nil {
		return Result{}, fmt.Errorf("ingest: move to inbox: %w", err)
	}
	if pk.log != nil {
		p.recordLog(ctx, *pk.log)
	}
	if pk.alert != "" && p.alerts != nil {
		p.alerts.AlertAdmin(ctx, pk.alert)
	}
	p.logger.Warn("payload moved to inbox", "inbox_id", id, "reason", pk.reason)
	return Result{Outcome: OutcomeInboxed, Reason: pk.reason, InboxID: id}, nil
}

// lockSlot takes the slot lease. A busy lease is reported as ok=false so the
// caller can park the payload instead of failing.
func (p *Pipeline) lockSlot(ctx context.Context, slotID uuid.UUID) (release func(), ok bool, err error) {
	if p.locker == nil {
		return func() {}, true, nil
	}
	release, err = p.locker.Acquire(ctx, slotlock.SlotKey(slotID.String()))
	if errors.Is(err, slotlock.ErrBusy) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return release, true, nil
}

func (p *Pipeline) markProcessed(ctx context.Context, rawID uuid.UUID) {
	if err := p.raw.SetProcessed(ctx, rawID, true); err != nil {
		p.logger.Error("failed to mark raw webhook processed", "raw_webhook_id", rawID, "error", err)
	}
}

func (p *Pipeline) loadSettings(ctx context.Context) templates.Settings {
	if p.settings == nil {
		return templates.DefaultSettings()
	}
	settings, err := p.settings.LoadSettings(ctx)
	if err != nil {
		p.logger.Warn("sms settings unavailable, using defaults", "error", err)
		return templates.DefaultSettings()
	}
	return settings
}

func (p *Pipeline) notify(ctx context.Context, msg templates.Message) templates.Result {
	if p.notifier == nil {
		return templates.Result{}
	}
	return p.notifier.Send(ctx, p.loadSettings(ctx), msg)
}

func (p *Pipeline) recordActivity(ctx context.Context, a events.Activity) {
	if p.activity == nil {
		return
	}
	if err := p.activity.Record(ctx, a); err != nil {
		p.logger.Error("failed to record activity", "action", string(a.Action), "user_id", a.UserID, "error", err)
	}
}

func (p *Pipeline) recordLog(ctx context.Context, e events.LogEntry) {
	if p.logs == nil {
		return
	}
	if err := p.logs.Record(ctx, e); err != nil {
		p.logger.Error("failed to record system log", "event_type", string(e.EventType), "error", err)
	}
}

func logEntry(e events.LogEntry) *events.LogEntry { return &e }
