package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/schedule"
)

// Enrollment is a first booking of a user on a slot.
type Enrollment struct {
	UserID      uuid.UUID
	Slot        *Slot
	Start       time.Time
	PaymentDate time.Time
	Amount      *int64
	Product     string
}

// Session builds the PENDING four-week session for e.
func (e Enrollment) Session() *Session {
	product := e.Product
	if product == "" {
		product = DefaultProductName
	}
	paid := e.PaymentDate
	return &Session{
		UserID:        e.UserID,
		CoachID:       e.Slot.CoachID,
		SlotID:        e.Slot.ID,
		Day:           e.Slot.Day,
		StartTime:     e.Slot.StartTime,
		StartDate:     e.Start,
		EndDate:       schedule.EndDate(e.Start),
		Status:        StatusPending,
		PaymentAmount: e.Amount,
		PaymentDate:   &paid,
		ProductName:   &product,
	}
}

// RenewalOf builds the session that follows prev on the same slot.
func RenewalOf(prev *Session, paymentDate time.Time, amount *int64) *Session {
	start := schedule.RenewalStartDate(prev.EndDate)
	product := RenewalProductName
	return &Session{
		UserID:         prev.UserID,
		CoachID:        prev.CoachID,
		SlotID:         prev.SlotID,
		Day:            prev.Day,
		StartTime:      prev.StartTime,
		StartDate:      start,
		EndDate:        schedule.EndDate(start),
		ExtensionCount: prev.ExtensionCount + 1,
		Status:         StatusPending,
		PaymentAmount:  amount,
		PaymentDate:    &paymentDate,
		ProductName:    &product,
	}
}

// Describe renders the slot triple operators read in the inbox.
func Describe(coach string, day schedule.Day, startTime string) string {
	return coach + "/" + string(day) + "/" + startTime
}
