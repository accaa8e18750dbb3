// Package events carries fire-and-forget notifications out of the payment
// core. Publishing never influences the outcome of the operation that
// produced the event.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	EnrollmentCreated   Type = "enrollment.created"
	OrderCreated        Type = "order.created"
	OrderCancelled      Type = "order.cancelled"
	OrderExpired        Type = "order.expired"
	PaymentSucceeded    Type = "payment.succeeded"
	PaymentFailed       Type = "payment.failed"
	PaymentOrphaned     Type = "payment.orphaned"
	CheckinCompleted    Type = "checkin.completed"
	RefundRequested     Type = "refund.requested"
	RefundCompleted     Type = "refund.completed"
	RefundRejected      Type = "refund.rejected"
	RefundFailed        Type = "refund.failed"
	SettlementCompleted Type = "settlement.completed"
	WithdrawalCreated   Type = "withdrawal.created"
	WithdrawalApproved  Type = "withdrawal.approved"
	WithdrawalRejected  Type = "withdrawal.rejected"
	WithdrawalCompleted Type = "withdrawal.completed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	UserID     uint           `json:"user_id,omitempty"`
	ClubID     uint           `json:"club_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, userID, clubID uint, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		UserID:     userID,
		ClubID:     clubID,
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi delivers to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
