package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/idempotency"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/ingest/payload"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/internal/sessions"
)

// ErrBadSignature is returned when a Tally-Signature header does not match.
var ErrBadSignature = errors.New("ingest: tally signature mismatch")

// VerifyTallySignature checks the base64 HMAC-SHA256 of body. An empty
// secret disables the check.
func VerifyTallySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// Tally ingests one form submission. Submissions carrying a response id are
// stored and deduplicated; anonymous ones are still stored without a key.
func (p *Pipeline) Tally(ctx context.Context, body []byte, signature string) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.tally")
	defer span.End()

	if !VerifyTallySignature(p.secret, body, signature) {
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "Tally 서명 검증 실패", nil))
		return Result{}, ErrBadSignature
	}
	t, err := payload.ParseTally(body)
	if err != nil {
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "Tally 본문 파싱 실패", string(body)))
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	span.SetAttributes(attribute.String("coaching.tally_form_id", t.FormID))

	var key string
	if t.ResponseID != "" {
		key = idempotency.TallyKey(t.ResponseID)
		exists, err := p.raw.ExistsByKey(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("ingest: check duplicate: %w", err)
		}
		if exists {
			p.logger.Info("tally duplicate ignored", "key", key)
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	}
	rawID, err := p.raw.Insert(ctx, events.SourceTally, key, json.RawMessage(body))
	if errors.Is(err, events.ErrDuplicateKey) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, "Tally Raw 데이터 저장 실패", err.Error()))
		return Result{}, fmt.Errorf("ingest: save raw webhook: %w", err)
	}

	res, err := p.tally(ctx, rawID, t, body)
	if err != nil && !errors.Is(err, ErrInvalidPhone) {
		p.systemError(ctx, rawID, err)
	}
	return res, err
}

func (p *Pipeline) tallyStored(ctx context.Context, rawID uuid.UUID, body []byte) (Result, error) {
	t, err := payload.ParseTally(body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p.tally(ctx, rawID, t, body)
}

// tally matches the submitter to a user and their newest occupying session
// and sends the form follow-up.
func (p *Pipeline) tally(ctx context.Context, rawID uuid.UUID, t payload.Tally, body []byte) (Result, error) {
	formType := p.forms.Classify(t.FormID)
	label := "Tally " + string(formType)

	normalized := phone.Normalize(t.Phone)
	if !phone.IsValid(normalized) {
		p.recordLog(ctx, events.Failure(events.EventWebhookFailed, label+": 유효하지 않은 전화번호", string(body)))
		return Result{}, ErrInvalidPhone
	}

	meta := map[string]any{
		"source":          events.SourceTally,
		"formType":        string(formType),
		"name":            t.Name,
		"phone":           t.Phone,
		"normalizedPhone": normalized,
	}
	user, err := p.repo.FindUserByPhone(ctx, normalized)
	if errors.Is(err, sessions.ErrNotFound) {
		return p.park(ctx, parking{
			raw:     &rawID,
			text:    fmt.Sprintf("%s: %s (%s)", label, t.Name, t.Phone),
			msg:     fmt.Sprintf("%s: 수강생 없음 - 수동 매칭 필요 (이름: %s, 입력번호: %s)", label, t.Name, t.Phone),
			errType: inbox.ErrorTallyMatchFailed,
			reason:  "user_not_found",
			meta:    meta,
			log:     logEntry(events.Failure(events.EventWebhookFailed, fmt.Sprintf("%s: 수강생 없음 (%s) → 인박스로 이동", label, t.Phone), string(body))),
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find user: %w", err)
	}

	active, err := p.repo.OccupyingByUser(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: list sessions: %w", err)
	}
	if len(active) == 0 {
		meta["name"], meta["phone"], meta["userId"] = user.Name, user.Phone, user.ID.String()
		return p.park(ctx, parking{
			raw:     &rawID,
			text:    fmt.Sprintf("%s: %s (%s)", label, user.Name, user.Phone),
			msg:     fmt.Sprintf("%s: 활성 세션 없음 - 수동 처리 필요 (이름: %s)", label, user.Name),
			errType: inbox.ErrorTallyMatchFailed,
			reason:  "no_active_session",
			meta:    meta,
			log:     logEntry(events.Failure(events.EventWebhookFailed, fmt.Sprintf("%s: 활성 세션 없음 (%s) → 인박스로 이동", label, user.Name), string(body))),
		})
	}

	// OccupyingByUser is newest first.
	v := active[0]
	switch formType {
	case payload.FormApplication:
		p.notify(ctx, templates.TallyApplication(v.Lesson()))
	case payload.FormDiagnosis:
		p.notify(ctx, templates.TallyDiagnosis(v.Lesson()))
	default:
		p.recordLog(ctx, events.Warning(events.EventWebhookReceived, fmt.Sprintf("Tally: 알 수 없는 폼 (%s)", t.FormID), string(body)))
	}

	p.recordLog(ctx, events.Success(events.EventType("TALLY_"+string(formType)+"_RECEIVED"),
		fmt.Sprintf("%s 처리: %s → %s", label, user.Name, v.CoachName), nil))
	p.markProcessed(ctx, rawID)

	kind := "코칭신청서"
	if formType == payload.FormDiagnosis {
		kind = "사전진단"
	}
	return Result{
		Outcome: OutcomeCompleted,
		Data: map[string]any{
			"userId":    user.ID.String(),
			"sessionId": v.ID.String(),
			"formType":  string(formType),
			"message":   fmt.Sprintf("%s님의 %s가 처리되었습니다.", user.Name, kind),
		},
	}, nil
}
