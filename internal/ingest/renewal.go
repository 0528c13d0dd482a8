package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/events"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/ingest/payload"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
)

// renewal chains a new session after the payer's single occupying session.
// Zero or several candidates are never guessed at.
func (p *Pipeline) renewal(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.renewal")
	defer span.End()

	name := sheet.NameOr("알수없음")
	normalized := phone.Normalize(sheet.Phone)
	if !phone.IsValid(normalized) {
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Phone, msg: "유효하지 않은 전화번호: " + sheet.Phone,
			errType: inbox.ErrorParseFailed, reason: "invalid_phone",
		})
	}

	user, err := p.repo.FindUserByPhone(ctx, normalized)
	if errors.Is(err, sessions.ErrNotFound) {
		msg := fmt.Sprintf("수강생 없음: %s (%s)", name, normalized)
		return p.park(ctx, parking{
			raw: &rawID, text: "재결제", msg: msg,
			errType: inbox.ErrorParseFailed, reason: "user_not_found",
			log:   logEntry(events.Failure(events.EventParseFailed, "재결제 "+msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s재결제 오류\n고객: %s\n기존 수강생 없음 - 인박스 확인", adminPrefix, name),
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find user: %w", err)
	}

	active, err := p.repo.OccupyingByUser(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: list sessions: %w", err)
	}
	switch {
	case len(active) == 0:
		msg := "진행중인 세션 없음: " + user.Name
		return p.park(ctx, parking{
			raw: &rawID, text: "재결제", msg: msg,
			errType: inbox.ErrorParseFailed, reason: "no_active_session",
			log:   logEntry(events.Failure(events.EventParseFailed, "재결제 "+msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s재결제 오류\n고객: %s\n진행중인 세션 없음 - 인박스 확인", adminPrefix, user.Name),
		})
	case len(active) > 1:
		list := make([]string, 0, len(active))
		for _, v := range active {
			list = append(list, sessions.Describe(v.CoachName, v.Day, v.StartTime))
		}
		msg := fmt.Sprintf("세션 %d개 - 어떤 세션 연장할지 확인 필요: %s", len(active), strings.Join(list, ", "))
		return p.park(ctx, parking{
			raw: &rawID, text: "재결제", msg: msg,
			errType: inbox.ErrorParseFailed, reason: "multiple_sessions",
			meta:  map[string]any{"candidateSessionIds": viewIDs(active)},
			log:   logEntry(events.Warning(events.EventParseFailed, "재결제 "+msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s재결제 확인 필요\n고객: %s\n세션 %d개 - 인박스 확인", adminPrefix, user.Name, len(active)),
		})
	}

	prev := active[0]
	slotName := sessions.Describe(prev.CoachName, prev.Day, prev.StartTime)
	release, ok, err := p.lockSlot(ctx, prev.SlotID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: lock slot: %w", err)
	}
	if !ok {
		return p.park(ctx, parking{
			raw: &rawID, text: "재결제", msg: "슬롯 충돌: " + slotName + " 동시 예약 진행중",
			errType: inbox.ErrorSlotConflict, reason: "slot_busy",
		})
	}
	defer release()

	paidAt := schedule.ParseDateTime(sheet.PaidAt, p.now())
	next := sessions.RenewalOf(&prev.Session, schedule.DateOf(paidAt), sheet.AmountValue())
	if err := p.repo.CreateSession(ctx, next); err != nil {
		if errors.Is(err, sessions.ErrSlotOccupied) {
			msg := "슬롯 충돌: " + slotName + " 연장 기간에 다른 세션 있음"
			return p.park(ctx, parking{
				raw: &rawID, text: "재결제", msg: msg,
				errType: inbox.ErrorSlotConflict, reason: "slot_conflict",
				log: logEntry(events.Warning(events.EventSlotConflict, msg+": "+user.Name, map[string]any{"rawWebhookId": rawID.String()})),
			})
		}
		p.logger.Error("renewal insert failed", "raw_webhook_id", rawID, "error", err)
		return p.park(ctx, parking{
			raw: &rawID, text: "재결제", msg: "세션 생성 실패: " + err.Error(),
			errType: inbox.ErrorParseFailed, reason: "session_creation_failed",
			log: logEntry(events.Failure(events.EventSystemError, "재결제 세션 생성 실패", map[string]any{"rawWebhookId": rawID.String(), "error": err.Error()})),
		})
	}

	p.recordActivity(ctx, events.Activity{
		UserID:    user.ID,
		SessionID: &next.ID,
		Action:    events.ActionRenewal,
		Metadata: map[string]any{
			"coach":           prev.CoachName,
			"slot":            string(prev.Day) + " " + prev.StartTime,
			"previousEndDate": schedule.DateString(prev.EndDate),
			"newStartDate":    schedule.DateString(next.StartDate),
			"newEndDate":      schedule.DateString(next.EndDate),
			"paymentAmount":   next.PaymentAmount,
			"paymentDate":     schedule.DateString(*next.PaymentDate),
		},
	})
	p.markProcessed(ctx, rawID)
	p.recordLog(ctx, events.Success(events.EventSessionCreated,
		fmt.Sprintf("재결제 처리 완료: %s → %s (%d회차)", user.Name, slotName, next.ExtensionCount+1),
		map[string]any{"rawWebhookId": rawID.String(), "sessionId": next.ID.String(), "previousSessionId": prev.ID.String()}))

	v, err := p.repo.GetView(ctx, next.ID)
	if err != nil {
		p.logger.Warn("renewal view unavailable", "session_id", next.ID, "error", err)
	} else {
		p.notify(ctx, templates.Renewal(v.Lesson()))
	}
	return Result{
		Outcome: OutcomeCompleted,
		Data: map[string]any{
			"sessionId":         next.ID.String(),
			"previousSessionId": prev.ID.String(),
			"isRenewal":         true,
			"extensionCount":    next.ExtensionCount,
		},
	}, nil
}
