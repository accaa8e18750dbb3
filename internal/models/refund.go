package mxm

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusRejected   RefundStatus = "REJECTED"
)

// OpenRefundStatuses block settlement of the activity until they resolve.
var OpenRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusApproved,
	RefundStatusProcessing,
}

type Refund struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundNo        string          `gorm:"uniqueIndex;type:varchar(64);not null;comment:商户退款单号" json:"refund_no"`
	OrderID         uint            `gorm:"uniqueIndex;not null" json:"order_id"`
	ActivityID      uint            `gorm:"index;not null" json:"activity_id"`
	UserID          uint            `gorm:"index;not null" json:"user_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:退款金额" json:"amount"`
	Percent         int             `gorm:"not null" json:"percent"`
	Reason          string          `gorm:"type:varchar(255)" json:"reason"`
	Status          RefundStatus    `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ReviewerID      *uint           `json:"reviewer_id,omitempty"`
	RejectReason    string          `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	GatewayRefundID string          `gorm:"type:varchar(64);comment:微信退款单号" json:"gateway_refund_id,omitempty"`
	FailReason      string          `gorm:"type:varchar(255)" json:"fail_reason,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

// RefundTier grants Percent of the order amount when the refund is requested
// at least HoursBeforeStart hours before the activity starts.
type RefundTier struct {
	HoursBeforeStart int `json:"hours_before_start"`
	Percent          int `json:"percent"`
}

// RefundPolicy is attached to an activity or to a club. Activity policies win.
type RefundPolicy struct {
	ID            uint                            `gorm:"primaryKey;autoIncrement" json:"id"`
	ClubID        *uint                           `gorm:"index" json:"club_id,omitempty"`
	ActivityID    *uint                           `gorm:"index" json:"activity_id,omitempty"`
	Tiers         datatypes.JSONSlice[RefundTier] `gorm:"type:json;not null" json:"tiers"`
	NoRefundHours int                             `gorm:"not null;comment:开始前多少小时内不可退" json:"no_refund_hours"`
	CreatedAt     time.Time                       `json:"created_at"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

func (RefundPolicy) TableName() string {
	return "refund_policies"
}
