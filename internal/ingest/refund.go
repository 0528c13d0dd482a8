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
	"github.com/creatus-team/v3/internal/option"
	"github.com/creatus-team/v3/internal/phone"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
)

// refund matches a cancelled payment to exactly one occupying session. Any
// ambiguity, including a refund on a lesson day, goes to the inbox.
func (p *Pipeline) refund(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.refund")
	defer span.End()

	name := sheet.NameOr("알수없음")
	parsed, err := option.Parse(sheet.Option)
	if err != nil {
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: "환불 처리 중 파싱 실패",
			errType: inbox.ErrorRefundMatchFailed, reason: "refund_parse_failed",
			log: logEntry(events.Failure(events.EventRefundMatchFailed, "환불 파싱 실패: "+sheet.Option,
				map[string]any{"rawWebhookId": rawID.String()})),
		})
	}

	normalized := phone.Normalize(sheet.Phone)
	user, err := p.repo.FindUserByPhone(ctx, normalized)
	if errors.Is(err, sessions.ErrNotFound) {
		msg := fmt.Sprintf("환불: 수강생을 찾을 수 없음 (%s)", normalized)
		return p.refundMiss(ctx, rawID, sheet, msg, "user_not_found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find user: %w", err)
	}

	coach, err := p.repo.FindCoachByName(ctx, parsed.Coach)
	if errors.Is(err, sessions.ErrNotFound) {
		msg := fmt.Sprintf("환불: 코치를 찾을 수 없음 (%s)", parsed.Coach)
		return p.refundMiss(ctx, rawID, sheet, msg, "coach_not_found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find coach: %w", err)
	}

	candidates, err := p.repo.OccupyingByUserCoachDay(ctx, user.ID, coach.ID, parsed.Day)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: list refund candidates: %w", err)
	}
	who := fmt.Sprintf("%s/%s/%s", user.Name, coach.Name, parsed.Day)
	if len(candidates) == 0 {
		return p.refundMiss(ctx, rawID, sheet, "환불: 매칭되는 세션 없음 ("+who+")", "session_not_found")
	}

	now := p.now()
	requested := schedule.ToDateString(sheet.PaidAt, now)
	var target *sessions.View
	var recorded []string
	for i := range candidates {
		c := &candidates[i]
		if c.PaymentDate == nil {
			recorded = append(recorded, "없음")
			continue
		}
		paid := schedule.DateString(*c.PaymentDate)
		recorded = append(recorded, paid)
		if paid == requested && target == nil {
			target = c
		}
	}
	slotName := sessions.Describe(coach.Name, parsed.Day, parsed.Time)
	if target == nil {
		msg := fmt.Sprintf("환불: 결제일 불일치 - 관리자 확인 필요 (요청: %s, 세션: %s)", requested, strings.Join(recorded, ", "))
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "payment_date_mismatch",
			meta:  map[string]any{"candidateSessionIds": viewIDs(candidates)},
			log:   logEntry(events.Warning(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s환불 확인 필요\n고객: %s\n슬롯: %s\n결제일 불일치 - 인박스 확인", adminPrefix, name, slotName),
		})
	}

	if schedule.IsLessonDay(target.Window(), schedule.Today(now)) {
		msg := "환불: 오늘이 수업일 - 당일 수업 정산 포함 여부 확인 필요 (" + who + ")"
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "refund_on_lesson_day",
			meta:  map[string]any{"sessionId": target.ID.String()},
			log:   logEntry(events.Warning(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s환불 확인 필요\n고객: %s\n오늘이 수업일입니다.\n당일 수업 정산 포함 여부 인박스에서 선택", adminPrefix, name),
		})
	}

	reason := strings.TrimSpace(sheet.CancelReason)
	if err := p.terminateRefund(ctx, target, reason); err != nil {
		return Result{}, err
	}
	p.recordActivity(ctx, events.Activity{
		UserID:    user.ID,
		SessionID: &target.ID,
		Action:    events.ActionRefund,
		Reason:    reason,
		Metadata: map[string]any{
			"coach":             coach.Name,
			"slot":              string(target.Day) + " " + target.StartTime,
			"earlyTerminatedAt": schedule.DateString(*target.EarlyTerminatedAt),
		},
	})
	p.markProcessed(ctx, rawID)
	p.recordLog(ctx, events.Success(events.EventRefundAutoProcessed,
		fmt.Sprintf("환불 자동 처리 완료: %s (%s)", user.Name, slotName),
		map[string]any{"rawWebhookId": rawID.String(), "sessionId": target.ID.String()}))
	p.notify(ctx, templates.Refund(target.Lesson(), reason))

	return Result{
		Outcome: OutcomeCompleted,
		Data:    map[string]any{"sessionId": target.ID.String(), "status": "refunded"},
	}, nil
}

func (p *Pipeline) refundMiss(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet, msg, reason string) (Result, error) {
	res, err := p.park(ctx, parking{
		raw: &rawID, text: sheet.Option, msg: msg,
		errType: inbox.ErrorRefundMatchFailed, reason: reason,
		log: logEntry(events.Failure(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
	})
	if err != nil {
		return res, err
	}
	p.notify(ctx, templates.RefundMatchFail(sheet.NameOr("알수없음")+" / "+sheet.Option))
	return res, nil
}

// renewalRefund handles a cancelled payment on the renewal sheet. The row
// carries no option, so the user's single occupying session is the target.
func (p *Pipeline) renewalRefund(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.renewal_refund")
	defer span.End()

	const rawText = "재결제"
	name := sheet.NameOr("알수없음")
	user, err := p.repo.FindUserByPhone(ctx, phone.Normalize(sheet.Phone))
	if errors.Is(err, sessions.ErrNotFound) {
		msg := "재결제 환불 - 수강생 없음: " + name
		return p.park(ctx, parking{
			raw: &rawID, text: rawText, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "user_not_found",
			log: logEntry(events.Failure(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
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
		msg := "재결제 환불 - 활성 세션 없음"
		return p.park(ctx, parking{
			raw: &rawID, text: rawText, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "no_active_session",
			log: logEntry(events.Failure(events.EventRefundMatchFailed, msg+": "+user.Name, map[string]any{"rawWebhookId": rawID.String()})),
		})
	case len(active) > 1:
		msg := fmt.Sprintf("재결제 환불 - 세션 %d개: %s (환불할 세션 선택 필요)", len(active), user.Name)
		return p.park(ctx, parking{
			raw: &rawID, text: rawText, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "multiple_sessions",
			meta:  map[string]any{"candidateSessionIds": viewIDs(active)},
			log:   logEntry(events.Warning(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s재결제 환불\n고객: %s\n세션 %d개 - 인박스에서 선택", adminPrefix, user.Name, len(active)),
		})
	}

	target := &active[0]
	if schedule.IsLessonDay(target.Window(), schedule.Today(p.now())) {
		msg := fmt.Sprintf("재결제 환불: 오늘이 수업일 - 당일 수업 정산 포함 여부 확인 필요 (%s)", user.Name)
		return p.park(ctx, parking{
			raw: &rawID, text: rawText, msg: msg,
			errType: inbox.ErrorRefundMatchFailed, reason: "refund_on_lesson_day",
			meta:  map[string]any{"sessionId": target.ID.String()},
			log:   logEntry(events.Warning(events.EventRefundMatchFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s재결제 환불 확인\n고객: %s\n오늘이 수업일입니다.\n당일 수업 정산 포함 여부 인박스에서 선택", adminPrefix, user.Name),
		})
	}

	reason := strings.TrimSpace(sheet.CancelReason)
	if reason == "" {
		reason = "재결제 환불"
	}
	if err := p.terminateRefund(ctx, target, reason); err != nil {
		return Result{}, err
	}
	p.recordActivity(ctx, events.Activity{
		UserID:    user.ID,
		SessionID: &target.ID,
		Action:    events.ActionCancel,
		Reason:    "재결제 환불",
		Metadata:  map[string]any{"cancellationReason": reason},
	})
	p.markProcessed(ctx, rawID)
	p.recordLog(ctx, events.Success(events.EventRefundAutoProcessed,
		fmt.Sprintf("재결제 환불 완료: %s (%s)", user.Name, sessions.Describe(target.CoachName, target.Day, target.StartTime)),
		map[string]any{"rawWebhookId": rawID.String(), "sessionId": target.ID.String()}))
	p.notify(ctx, templates.Refund(target.Lesson(), reason))

	return Result{
		Outcome: OutcomeCompleted,
		Data:    map[string]any{"sessionId": target.ID.String(), "status": "refunded"},
	}, nil
}

// terminateRefund sets v REFUNDED as of today and mirrors the change on v.
func (p *Pipeline) terminateRefund(ctx context.Context, v *sessions.View, reason string) error {
	now := p.now()
	today := schedule.Today(now)
	if err := p.repo.Terminate(ctx, v.ID, sessions.Termination{
		Status:            sessions.StatusRefunded,
		CancelledAt:       now,
		Reason:            reason,
		EarlyTerminatedAt: today,
		EarlyReason:       sessions.TerminationRefund,
	}); err != nil {
		return fmt.Errorf("ingest: refund session: %w", err)
	}
	v.Status = sessions.StatusRefunded
	v.CancelledAt = &now
	v.EarlyTerminatedAt = &today
	if reason != "" {
		v.CancellationReason = &reason
	}
	return nil
}

func viewIDs(vs []sessions.View) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID.String())
	}
	return out
}
