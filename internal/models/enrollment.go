package mxm

import (
	"time"

	"github.com/shopspring/decimal"
)

type EnrollmentStatus string

const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusPaid      EnrollmentStatus = "PAID"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusCheckedIn EnrollmentStatus = "CHECKED_IN"
	EnrollmentStatusRefunded  EnrollmentStatus = "REFUNDED"
)

// LiveEnrollmentStatuses hold a slot on the activity.
var LiveEnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusPending,
	EnrollmentStatusPaid,
	EnrollmentStatusCheckedIn,
}

// IsLive reports whether the enrollment still occupies capacity.
func (s EnrollmentStatus) IsLive() bool {
	for _, l := range LiveEnrollmentStatuses {
		if s == l {
			return true
		}
	}
	return false
}

type Enrollment struct {
	ID         uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID uint             `gorm:"index:idx_activity_user;not null" json:"activity_id"`
	UserID     uint             `gorm:"index:idx_activity_user;not null" json:"user_id"`
	Amount     decimal.Decimal  `gorm:"type:decimal(12,2);not null;comment:报名时价格快照" json:"amount"`
	Status     EnrollmentStatus `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}
