package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClubAccount 俱乐部资金账户
// 不变量: 0 <= FrozenBalance <= Balance
type ClubAccount struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	ClubID        uint            `gorm:"uniqueIndex;not null" json:"club_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0;comment:账户余额" json:"balance"`
	FrozenBalance decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0;comment:冻结金额" json:"frozen_balance"`
	TotalIncome   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0;comment:累计收入" json:"total_income"`
	TotalWithdraw decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0;comment:累计提现" json:"total_withdraw"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (ClubAccount) TableName() string {
	return "club_accounts"
}

// AvailableBalance is the part of the balance that is not frozen.
func (a *ClubAccount) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.FrozenBalance)
}

type TransactionType string

const (
	TransactionTypeIncome     TransactionType = "INCOME"
	TransactionTypeSettlement TransactionType = "SETTLEMENT"
	TransactionTypeFee        TransactionType = "FEE"
	TransactionTypeRefund     TransactionType = "REFUND"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

// Transaction is an append-only ledger row. BalanceAfter of one row equals
// BalanceBefore of the next row for the same account.
type Transaction struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID     uint            `gorm:"index:idx_account_id;not null" json:"account_id"`
	ClubID        uint            `gorm:"index;not null" json:"club_id"`
	Type          TransactionType `gorm:"type:varchar(16);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(14,2);not null;comment:变动金额(正加负减)" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance_after"`
	RefType       string          `gorm:"type:varchar(16)" json:"ref_type"`
	RefID         uint            `json:"ref_id"`
	Remark        string          `gorm:"type:varchar(255)" json:"remark"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
