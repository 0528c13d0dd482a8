// Package sessions owns students, coaches, weekly slots and the 4-lesson
// sessions booked against them, plus the operator actions that mutate them.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/schedule"
)

var (
	ErrNotFound = errors.New("sessions: not found")
	// ErrSlotOccupied is returned when the storage layer rejects a second
	// occupying session on the same slot and dates.
	ErrSlotOccupied = errors.New("sessions: slot already occupied")
	// ErrLocked is returned when the session's start month has an active settlement lock.
	ErrLocked = errors.New("sessions: settlement month locked")
	// ErrInvalidState is returned when an action does not apply to the session's status.
	ErrInvalidState = errors.New("sessions: invalid session status for action")
	// ErrInvalidInput is returned for operator requests that cannot be applied.
	ErrInvalidInput = errors.New("sessions: invalid input")
	// ErrSlotInUse is returned when a slot with occupying sessions would be removed.
	ErrSlotInUse = errors.New("sessions: slot has active sessions")
)

// LockedError reports the locked settlement month that blocked a mutation.
type LockedError struct {
	Year  int
	Month int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%d년 %d월 정산이 잠겨 있습니다", e.Year, e.Month)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// TargetMonth renders the locked month as YYYY-MM.
func (e *LockedError) TargetMonth() string {
	return fmt.Sprintf("%04d-%02d", e.Year, e.Month)
}

// NotEnoughLessonsError is returned when fewer lessons remain than requested weeks.
type NotEnoughLessonsError struct {
	Available int
}

func (e *NotEnoughLessonsError) Error() string {
	return fmt.Sprintf("연기 가능한 수업이 %d개뿐입니다", e.Available)
}

func (e *NotEnoughLessonsError) Is(target error) bool { return target == ErrInvalidInput }

// Status is the session lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusActive          Status = "ACTIVE"
	StatusExpired         Status = "EXPIRED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefunded        Status = "REFUNDED"
	StatusEarlyTerminated Status = "EARLY_TERMINATED"
)

// Occupying reports whether a session in this state holds its slot.
func (s Status) Occupying() bool {
	return s == StatusPending || s == StatusActive
}

// OccupyingStatuses are the states that hold a slot.
var OccupyingStatuses = []string{string(StatusPending), string(StatusActive)}

// SettledStatuses are the states a settlement run reads.
var SettledStatuses = []string{
	string(StatusActive), string(StatusExpired), string(StatusRefunded),
	string(StatusEarlyTerminated), string(StatusCancelled),
}

// Early termination reasons.
const (
	TerminationRefund = "REFUND"
	TerminationOther  = "OTHER"
)

// Grade determines a coach's settlement rate.
type Grade string

const (
	GradeTrainee Grade = "TRAINEE"
	GradeRegular Grade = "REGULAR"
	GradeSenior  Grade = "SENIOR"
)

// Manual entry reasons for users created outside the payment flow.
const (
	ManualCashPayment    = "CASH_PAYMENT"
	ManualFreeTrial      = "FREE_TRIAL"
	ManualTest           = "TEST"
	ManualSystemRecovery = "SYSTEM_RECOVERY"
	ManualOther          = "OTHER"
)

// DefaultProductName is used when the payment row has no product.
const DefaultProductName = "래피드코칭 4회"

// RenewalProductName labels sessions created from the renewal sheet.
const RenewalProductName = "래피드코칭 4회 (재결제)"

// DefaultUserName is used when the payment row has no name.
const DefaultUserName = "이름없음"

type User struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Email             *string   `json:"email,omitempty"`
	Memo              *string   `json:"memo,omitempty"`
	IsManualEntry     bool      `json:"is_manual_entry"`
	ManualEntryReason *string   `json:"manual_entry_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type Coach struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Phone       *string   `json:"phone,omitempty"`
	Grade       Grade     `json:"grade"`
	BankAccount *string   `json:"bank_account,omitempty"`
	MaxSlots    int       `json:"max_slots"`
}

// PhoneOrEmpty returns the coach phone or "".
func (c *Coach) PhoneOrEmpty() string {
	if c == nil || c.Phone == nil {
		return ""
	}
	return *c.Phone
}

// Slot is a coach's recurring weekly 40-minute box.
type Slot struct {
	ID           uuid.UUID    `json:"id"`
	CoachID      uuid.UUID    `json:"coach_id"`
	Day          schedule.Day `json:"day_of_week"`
	StartTime    string       `json:"start_time"`
	EndTime      string       `json:"end_time"`
	OpenChatLink *string      `json:"open_chat_link,omitempty"`
	IsActive     bool         `json:"is_active"`
}

// ChatLinkOrEmpty returns the open chat link or "".
func (s *Slot) ChatLinkOrEmpty() string {
	if s == nil || s.OpenChatLink == nil {
		return ""
	}
	return *s.OpenChatLink
}

type Session struct {
	ID                     uuid.UUID    `json:"id"`
	UserID                 uuid.UUID    `json:"user_id"`
	CoachID                uuid.UUID    `json:"coach_id"`
	SlotID                 uuid.UUID    `json:"slot_id"`
	Day                    schedule.Day `json:"day_of_week"`
	StartTime              string       `json:"start_time"`
	StartDate              time.Time    `json:"start_date"`
	EndDate                time.Time    `json:"end_date"`
	ExtensionCount         int          `json:"extension_count"`
	Status                 Status       `json:"status"`
	CancelledAt            *time.Time   `json:"cancelled_at,omitempty"`
	CancellationReason     *string      `json:"cancellation_reason,omitempty"`
	EarlyTerminatedAt      *time.Time   `json:"early_terminated_at,omitempty"`
	EarlyTerminationReason *string      `json:"early_termination_reason,omitempty"`
	PaymentAmount          *int64       `json:"payment_amount,omitempty"`
	PaymentDate            *time.Time   `json:"payment_date,omitempty"`
	ProductName            *string      `json:"product_name,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
}

// Window returns the calendar view of the session.
func (s *Session) Window() schedule.SessionWindow {
	return schedule.SessionWindow{
		Day:               s.Day,
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		EarlyTerminatedAt: s.EarlyTerminatedAt,
	}
}

// View is a session joined with the names and contacts notifications need.
type View struct {
	Session
	UserName     string  `json:"user_name"`
	UserPhone    string  `json:"user_phone"`
	CoachName    string  `json:"coach_name"`
	CoachPhone   *string `json:"coach_phone,omitempty"`
	CoachGrade   Grade   `json:"coach_grade"`
	OpenChatLink *string `json:"open_chat_link,omitempty"`
}

type Postponement struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Date      time.Time `json:"postponed_date"`
	Reason    *string   `json:"reason,omitempty"`
}

// Termination describes how a session leaves the occupying states.
type Termination struct {
	Status            Status
	CancelledAt       time.Time
	Reason            string
	EarlyTerminatedAt time.Time
	EarlyReason       string
}

// Lesson returns the notification variables for v.
func (v *View) Lesson() templates.Lesson {
	l := templates.Lesson{
		StudentName:    v.UserName,
		StudentPhone:   v.UserPhone,
		CoachName:      v.CoachName,
		Day:            v.Day,
		Time:           v.StartTime,
		StartDate:      v.StartDate,
		EndDate:        v.EndDate,
		ExtensionCount: v.ExtensionCount,
	}
	if v.CoachPhone != nil {
		l.CoachPhone = *v.CoachPhone
	}
	if v.OpenChatLink != nil {
		l.OpenChatLink = *v.OpenChatLink
	}
	return l
}
