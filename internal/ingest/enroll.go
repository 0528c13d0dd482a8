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

const adminPrefix = "[크리투스 코칭] "

// enroll books a first-time payment onto the slot named by its option string.
func (p *Pipeline) enroll(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.enroll")
	defer span.End()

	name := sheet.NameOr("알수없음")
	parsed, err := option.Parse(sheet.Option)
	if err != nil {
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: "구매옵션 파싱 실패",
			errType: inbox.ErrorParseFailed, reason: "parse_failed",
			log:   logEntry(events.Failure(events.EventParseFailed, "파싱 실패: "+sheet.Option, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s웹훅 파싱 실패\n고객: %s\n옵션: %s\n인박스 확인 필요", adminPrefix, name, clip(sheet.Option, 20)),
		})
	}

	coach, err := p.repo.FindCoachByName(ctx, parsed.Coach)
	if errors.Is(err, sessions.ErrNotFound) {
		msg := fmt.Sprintf("코치 %q를 찾을 수 없음", parsed.Coach)
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: msg,
			errType: inbox.ErrorParseFailed, reason: "coach_not_found",
			log:   logEntry(events.Failure(events.EventParseFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s코치 매칭 실패\n고객: %s\n코치: %s\n인박스 확인 필요", adminPrefix, name, parsed.Coach),
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find coach: %w", err)
	}

	slotName := sessions.Describe(coach.Name, parsed.Day, parsed.Time)
	slot, err := p.repo.FindActiveSlot(ctx, coach.ID, parsed.Day, parsed.Time)
	if errors.Is(err, sessions.ErrNotFound) {
		msg := "슬롯을 찾을 수 없음: " + slotName
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: msg,
			errType: inbox.ErrorParseFailed, reason: "slot_not_found",
			log: logEntry(events.Failure(events.EventParseFailed, msg, map[string]any{"rawWebhookId": rawID.String()})),
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find slot: %w", err)
	}

	normalized := phone.Normalize(sheet.Phone)
	if !phone.IsValid(normalized) {
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Phone, msg: "유효하지 않은 전화번호",
			errType: inbox.ErrorParseFailed, reason: "invalid_phone",
		})
	}

	release, ok, err := p.lockSlot(ctx, slot.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: lock slot: %w", err)
	}
	if !ok {
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: "슬롯 충돌: " + slotName + " 동시 예약 진행중",
			errType: inbox.ErrorSlotConflict, reason: "slot_busy",
		})
	}
	defer release()

	user, err := p.repo.FindOrCreateUser(ctx, sheet.NameOr(sessions.DefaultUserName), normalized, strings.TrimSpace(sheet.Email))
	if err != nil {
		return Result{}, fmt.Errorf("ingest: find or create user: %w", err)
	}

	occupying, err := p.repo.OccupyingOnSlot(ctx, slot.ID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: check slot: %w", err)
	}
	for _, other := range occupying {
		if other.UserID != user.ID {
			return p.slotConflict(ctx, rawID, sheet, user, slotName)
		}
	}
	if len(occupying) > 0 {
		msg := "중복 결제 감지: 이미 같은 슬롯에 진행중인 세션 있음"
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: msg,
			errType: inbox.ErrorParseFailed, reason: "duplicate_session",
			meta:  map[string]any{"existingSessionId": occupying[0].ID.String()},
			log:   logEntry(events.Warning(events.EventParseFailed, msg+": "+user.Name, map[string]any{"rawWebhookId": rawID.String()})),
			alert: fmt.Sprintf("%s중복 결제 감지\n고객: %s\n슬롯: %s\n기존 세션 있음 - 인박스 확인 필요", adminPrefix, user.Name, slotName),
		})
	}

	now := p.now()
	paidAt := schedule.ParseDateTime(sheet.PaidAt, now)
	ss := sessions.Enrollment{
		UserID:      user.ID,
		Slot:        slot,
		Start:       schedule.StartDate(slot.Day, paidAt),
		PaymentDate: schedule.DateOf(paidAt),
		Amount:      sheet.AmountValue(),
		Product:     strings.TrimSpace(sheet.Product),
	}.Session()
	if err := p.repo.CreateSession(ctx, ss); err != nil {
		if errors.Is(err, sessions.ErrSlotOccupied) {
			return p.slotConflict(ctx, rawID, sheet, user, slotName)
		}
		p.logger.Error("session insert failed", "raw_webhook_id", rawID, "error", err)
		return p.park(ctx, parking{
			raw: &rawID, text: sheet.Option, msg: "세션 생성 실패: " + err.Error(),
			errType: inbox.ErrorParseFailed, reason: "session_creation_failed",
			log: logEntry(events.Failure(events.EventSystemError, "세션 생성 실패", map[string]any{"rawWebhookId": rawID.String(), "error": err.Error()})),
		})
	}

	p.recordActivity(ctx, events.Activity{
		UserID:    user.ID,
		SessionID: &ss.ID,
		Action:    events.ActionEnroll,
		Metadata: map[string]any{
			"coach":         coach.Name,
			"slot":          string(slot.Day) + " " + slot.StartTime,
			"startDate":     schedule.DateString(ss.StartDate),
			"endDate":       schedule.DateString(ss.EndDate),
			"paymentAmount": ss.PaymentAmount,
			"paymentDate":   schedule.DateString(*ss.PaymentDate),
		},
	})
	p.markProcessed(ctx, rawID)
	p.recordLog(ctx, events.Success(events.EventSessionCreated,
		fmt.Sprintf("세션 생성 완료: %s → %s", user.Name, slotName),
		map[string]any{"rawWebhookId": rawID.String(), "sessionId": ss.ID.String()}))

	v, err := p.repo.GetView(ctx, ss.ID)
	if err != nil {
		p.logger.Warn("new session view unavailable", "session_id", ss.ID, "error", err)
	} else {
		p.notify(ctx, templates.NewEnroll(v.Lesson()))
	}
	return Result{
		Outcome: OutcomeCompleted,
		Data:    map[string]any{"sessionId": ss.ID.String(), "isRenewal": false},
	}, nil
}

func (p *Pipeline) slotConflict(ctx context.Context, rawID uuid.UUID, sheet payload.Sheet, user *sessions.User, slotName string) (Result, error) {
	msg := "슬롯 충돌: " + slotName + " 이미 사용중"
	res, err := p.park(ctx, parking{
		raw: &rawID, text: sheet.Option, msg: msg,
		errType: inbox.ErrorSlotConflict, reason: "slot_conflict",
		log: logEntry(events.Warning(events.EventSlotConflict, msg+": "+user.Name,
			map[string]any{"rawWebhookId": rawID.String(), "userId": user.ID.String()})),
	})
	if err != nil {
		return res, err
	}
	p.notify(ctx, templates.SlotConflict(user.Name, slotName))
	return res, nil
}

// clip shortens s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
