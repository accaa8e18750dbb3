package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "PENDING"
	SettlementStatusCompleted SettlementStatus = "COMPLETED"
)

// Settlement 活动结算记录
// SettleAmount = TotalAmount - RefundAmount - PlatformFee
type Settlement struct {
	ID           uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID   uint             `gorm:"uniqueIndex;not null" json:"activity_id"`
	ClubID       uint             `gorm:"index;not null" json:"club_id"`
	TotalAmount  decimal.Decimal  `gorm:"type:decimal(12,2);not null;comment:实收总额" json:"total_amount"`
	RefundAmount decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0;comment:退款总额" json:"refund_amount"`
	FeeRate      decimal.Decimal  `gorm:"type:decimal(6,4);not null" json:"fee_rate"`
	PlatformFee  decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0;comment:平台服务费" json:"platform_fee"`
	SettleAmount decimal.Decimal  `gorm:"type:decimal(12,2);not null;comment:结算金额" json:"settle_amount"`
	OrderCount   int              `gorm:"not null;default:0" json:"order_count"`
	Status       SettlementStatus `gorm:"type:varchar(16);not null;default:'PENDING'" json:"status"`
	SettledAt    *time.Time       `json:"settled_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}
