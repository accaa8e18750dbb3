package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

// Activity, Club and ClubMember are owned by the activity/club services. This
// core only reads the fields the ledger needs.

type ActivityStatus string

const (
	ActivityStatusDraft     ActivityStatus = "DRAFT"
	ActivityStatusPublished ActivityStatus = "PUBLISHED"
	ActivityStatusOngoing   ActivityStatus = "ONGOING"
	ActivityStatusCompleted ActivityStatus = "COMPLETED"
	ActivityStatusCancelled ActivityStatus = "CANCELLED"
)

type Activity struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ClubID            uint            `gorm:"index;not null" json:"club_id"`
	Title             string          `gorm:"type:varchar(128);not null" json:"title"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;comment:报名费" json:"price"`
	InsuranceDailyFee decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;comment:保险日费率" json:"insurance_daily_fee"`
	Capacity          int             `gorm:"not null;default:0;comment:名额" json:"capacity"`
	StartTime         time.Time       `gorm:"not null" json:"start_time"`
	EndTime           time.Time       `gorm:"not null" json:"end_time"`
	Status            ActivityStatus  `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Activity) TableName() string {
	return "activities"
}

// HasStarted reports whether the activity start time is at or before now.
func (a *Activity) HasStarted(now time.Time) bool {
	return !now.Before(a.StartTime)
}

// SpanDays is the number of calendar days the activity covers, rounded up and
// never less than one. A two hour activity is billed as a full day.
func (a *Activity) SpanDays() int {
	span := a.EndTime.Sub(a.StartTime)
	if span <= 0 {
		return 1
	}
	days := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

type Club struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(128);not null" json:"name"`
	OwnerID       uint      `gorm:"index;not null" json:"owner_id"`
	BankName      string    `gorm:"type:varchar(64);comment:开户行" json:"bank_name"`
	BankAccount   string    `gorm:"type:varchar(64);comment:银行账号" json:"-"`
	AccountHolder string    `gorm:"type:varchar(64);comment:户名" json:"account_holder"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Club) TableName() string {
	return "clubs"
}

// HasBankDetails reports whether a payout destination is on file.
func (c *Club) HasBankDetails() bool {
	return c.BankName != "" && c.BankAccount != "" && c.AccountHolder != ""
}

type ClubRole string

const (
	ClubRoleOwner  ClubRole = "owner"
	ClubRoleAdmin  ClubRole = "admin"
	ClubRoleMember ClubRole = "member"
)

type ClubMember struct {
	ID     uint     `gorm:"primaryKey" json:"id"`
	ClubID uint     `gorm:"uniqueIndex:uk_club_user;not null" json:"club_id"`
	UserID uint     `gorm:"uniqueIndex:uk_club_user;not null" json:"user_id"`
	Role   ClubRole `gorm:"type:varchar(16);not null" json:"role"`
}

func (ClubMember) TableName() string {
	return "club_members"
}
