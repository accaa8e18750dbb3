package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type Payment struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       uint            `gorm:"uniqueIndex;not null" json:"order_id"`
	OrderNo       string          `gorm:"type:varchar(32);not null;comment:商户订单号" json:"order_no"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PrepayID      string          `gorm:"type:varchar(64);comment:预支付交易会话标识" json:"-"`
	TransactionID string          `gorm:"type:varchar(32);comment:微信支付订单号" json:"transaction_id"`
	Status        PaymentStatus   `gorm:"type:varchar(16);not null;default:'PENDING'" json:"status"`
	FailReason    string          `gorm:"type:varchar(255)" json:"fail_reason,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
