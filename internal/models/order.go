package mxm

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaying    OrderStatus = "PAYING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunding OrderStatus = "REFUNDING"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// orderEdges is the complete order state machine. Repositories refuse any
// transition that is not listed here.
var orderEdges = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaying, OrderStatusCancelled, OrderStatusPaid},
	OrderStatusPaying:    {OrderStatusPaid, OrderStatusPending, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusCompleted, OrderStatusRefunding},
	OrderStatusRefunding: {OrderStatusRefunded, OrderStatusPaid},
}

// CanTransitionOrder reports whether from -> to is an edge of the order state machine.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, s := range orderEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned for a status change outside orderEdges.
var ErrIllegalTransition = errors.New("illegal order transition")

// CheckOrderTransition fails unless every status in from may move to to.
func CheckOrderTransition(from []OrderStatus, to OrderStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status for %s", ErrIllegalTransition, to)
	}
	for _, f := range from {
		if !CanTransitionOrder(f, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f, to)
		}
	}
	return nil
}

// PaidOrderStatuses are the statuses of orders whose money reached the platform.
var PaidOrderStatuses = []OrderStatus{
	OrderStatusPaid,
	OrderStatusCompleted,
	OrderStatusRefunding,
	OrderStatusRefunded,
}

type Order struct {
	ID               uint            `gorm:"primaryKey;autoIncrement;comment:订单ID" json:"id"`
	OrderNo          string          `gorm:"uniqueIndex;type:varchar(32);not null;comment:商户订单号" json:"order_no"`
	EnrollmentID     uint            `gorm:"index;not null" json:"enrollment_id"`
	ActivityID       uint            `gorm:"index;not null" json:"activity_id"`
	UserID           uint            `gorm:"index;not null" json:"user_id"`
	Description      string          `gorm:"type:varchar(255);not null;comment:订单描述" json:"description"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:报名费" json:"amount"`
	AddonFee         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;comment:附加费用(保险)" json:"addon_fee"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:应付总额" json:"total_amount"`
	Status           OrderStatus     `gorm:"type:varchar(16);not null;default:'PENDING';index:idx_status_expires" json:"status"`
	ExpiresAt        time.Time       `gorm:"not null;index:idx_status_expires;comment:订单过期时间" json:"expires_at"`
	VerificationCode string          `gorm:"type:varchar(128);comment:核销码" json:"-"`
	PaidAt           *time.Time      `gorm:"comment:支付成功时间" json:"paid_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsLive reports whether the order is PENDING and not yet past its expiry.
func (o *Order) IsLive(now time.Time) bool {
	return o.Status == OrderStatusPending && now.Before(o.ExpiresAt)
}

type AddonType string

const AddonTypeInsurance AddonType = "INSURANCE"

// OrderAddon records an extra fee charged on top of the enrollment amount.
type OrderAddon struct {
	ID        uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint            `gorm:"index;not null" json:"order_id"`
	Type      AddonType       `gorm:"type:varchar(16);not null" json:"type"`
	UnitFee   decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:日费率" json:"unit_fee"`
	Days      int             `gorm:"not null" json:"days"`
	Fee       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

func (OrderAddon) TableName() string {
	return "order_addons"
}
