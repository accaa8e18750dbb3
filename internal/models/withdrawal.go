package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "PENDING"
	WithdrawalStatusApproved  WithdrawalStatus = "APPROVED"
	WithdrawalStatusRejected  WithdrawalStatus = "REJECTED"
	WithdrawalStatusCompleted WithdrawalStatus = "COMPLETED"
)

type Withdrawal struct {
	ID            uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo  string           `gorm:"uniqueIndex;type:varchar(64);not null" json:"withdrawal_no"`
	ClubID        uint             `gorm:"index;not null" json:"club_id"`
	ApplicantID   uint             `gorm:"not null" json:"applicant_id"`
	Amount        decimal.Decimal  `gorm:"type:decimal(12,2);not null;comment:申请金额" json:"amount"`
	Fee           decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0;comment:手续费" json:"fee"`
	ActualAmount  decimal.Decimal  `gorm:"type:decimal(12,2);not null;comment:实际到账" json:"actual_amount"`
	BankName      string           `gorm:"type:varchar(64)" json:"bank_name"`
	BankAccount   string           `gorm:"type:varchar(64)" json:"-"`
	AccountHolder string           `gorm:"type:varchar(64)" json:"account_holder"`
	Status        WithdrawalStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	ReviewerID    *uint            `json:"reviewer_id,omitempty"`
	RejectReason  string           `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}
