package dao

import (
	"context"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
)

// Transactor runs fn as one unit of work. Every repository call made with the
// ctx passed to fn joins the same database transaction; if fn returns an error
// (or panics) all of its writes are rolled back.
type Transactor interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

// ActivityRepository 活动/俱乐部只读数据
type ActivityRepository interface {
	GetActivity(ctx context.Context, id uint) (*mxm.Activity, error)
	// LockActivity reads the activity FOR UPDATE; only meaningful inside Exec.
	LockActivity(ctx context.Context, id uint) (*mxm.Activity, error)
	// ListSettleableActivities returns COMPLETED activities that ended before
	// endedBefore and have no COMPLETED settlement.
	ListSettleableActivities(ctx context.Context, endedBefore time.Time, limit int) ([]*mxm.Activity, error)
	GetClub(ctx context.Context, id uint) (*mxm.Club, error)
	GetClubMember(ctx context.Context, clubID, userID uint) (*mxm.ClubMember, error)
}

// UserRepository 用户只读数据
type UserRepository interface {
	GetUserByID(ctx context.Context, id uint) (*mxm.User, error)
}

// EnrollmentRepository 报名
type EnrollmentRepository interface {
	CreateEnrollment(ctx context.Context, e *mxm.Enrollment) error
	GetEnrollment(ctx context.Context, id uint) (*mxm.Enrollment, error)
	FindLiveEnrollment(ctx context.Context, activityID, userID uint) (*mxm.Enrollment, error)
	CountLiveEnrollments(ctx context.Context, activityID uint) (int64, error)
	// TransitionEnrollment moves the enrollment to `to` only if its current
	// status is one of from. It reports whether a row changed.
	TransitionEnrollment(ctx context.Context, id uint, from []mxm.EnrollmentStatus, to mxm.EnrollmentStatus) (bool, error)
	ListEnrollmentsByUser(ctx context.Context, userID uint) ([]*mxm.Enrollment, error)
}

// OrderRepository 订单
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *mxm.Order) error
	CreateOrderAddon(ctx context.Context, a *mxm.OrderAddon) error
	GetOrder(ctx context.Context, id uint) (*mxm.Order, error)
	GetOrderByNo(ctx context.Context, orderNo string) (*mxm.Order, error)
	ListOrderAddons(ctx context.Context, orderID uint) ([]*mxm.OrderAddon, error)
	// FindLiveOrder returns the PENDING, unexpired order of the enrollment.
	FindLiveOrder(ctx context.Context, enrollmentID uint, now time.Time) (*mxm.Order, error)
	ListOrdersByEnrollment(ctx context.Context, enrollmentID uint, statuses []mxm.OrderStatus) ([]*mxm.Order, error)
	// TransitionOrder is a conditional status update that also stamps the
	// timestamp column belonging to `to` (paid_at, cancelled_at, completed_at).
	TransitionOrder(ctx context.Context, id uint, from []mxm.OrderStatus, to mxm.OrderStatus, at time.Time) (bool, error)
	SetOrderVerificationCode(ctx context.Context, id uint, code string) error
	// ListOverdueOrders returns orders in status whose expiry is before now,
	// oldest expiry first.
	ListOverdueOrders(ctx context.Context, status mxm.OrderStatus, now time.Time, limit int) ([]*mxm.Order, error)
	ListOrdersByUser(ctx context.Context, userID uint) ([]*mxm.Order, error)
	SumOrderAmounts(ctx context.Context, activityID uint, statuses []mxm.OrderStatus) (decimal.Decimal, int, error)
	CompletePaidOrders(ctx context.Context, activityID uint, at time.Time) (int64, error)
}

// PaymentRepository 支付
type PaymentRepository interface {
	GetPaymentByOrder(ctx context.Context, orderID uint) (*mxm.Payment, error)
	// UpsertPendingPayment creates the payment of the order or resets an
	// existing non-successful one to PENDING with the new prepay id.
	UpsertPendingPayment(ctx context.Context, p *mxm.Payment) error
	// MarkPaymentSuccess never touches a payment that is already SUCCESS.
	MarkPaymentSuccess(ctx context.Context, orderID uint, transactionID string, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID uint, reason string) (bool, error)
}

// RefundPatch carries the optional columns written with a refund transition.
type RefundPatch struct {
	ReviewerID      *uint
	RejectReason    string
	GatewayRefundID string
	FailReason      string
	CompletedAt     *time.Time
}

// RefundRepository 退款
type RefundRepository interface {
	CreateRefund(ctx context.Context, r *mxm.Refund) error
	GetRefund(ctx context.Context, id uint) (*mxm.Refund, error)
	GetRefundByOrder(ctx context.Context, orderID uint) (*mxm.Refund, error)
	TransitionRefund(ctx context.Context, id uint, from []mxm.RefundStatus, to mxm.RefundStatus, patch RefundPatch) (bool, error)
	SumCompletedRefunds(ctx context.Context, activityID uint) (decimal.Decimal, error)
	CountOpenRefunds(ctx context.Context, activityID uint) (int64, error)
	// GetRefundPolicy returns the activity policy, else the club policy.
	GetRefundPolicy(ctx context.Context, activityID, clubID uint) (*mxm.RefundPolicy, error)
}

// SettlementRepository 结算
type SettlementRepository interface {
	GetSettlementByActivity(ctx context.Context, activityID uint) (*mxm.Settlement, error)
	// SaveSettlement inserts a new settlement or rewrites the figures of a
	// PENDING one.
	SaveSettlement(ctx context.Context, s *mxm.Settlement) error
	TransitionSettlement(ctx context.Context, id uint, from, to mxm.SettlementStatus, at time.Time) (bool, error)
}

// WithdrawalPatch carries the optional columns written with a withdrawal transition.
type WithdrawalPatch struct {
	ReviewerID   *uint
	RejectReason string
	ApprovedAt   *time.Time
	CompletedAt  *time.Time
}

// WithdrawalRepository 提现
type WithdrawalRepository interface {
	CreateWithdrawal(ctx context.Context, w *mxm.Withdrawal) error
	GetWithdrawal(ctx context.Context, id uint) (*mxm.Withdrawal, error)
	ListWithdrawalsByClub(ctx context.Context, clubID uint) ([]*mxm.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id uint, from, to mxm.WithdrawalStatus, patch WithdrawalPatch) (bool, error)
}

// AccountRepository 俱乐部账户与流水
type AccountRepository interface {
	// LockAccount reads the club account FOR UPDATE, creating an empty one
	// first if the club has none. Only meaningful inside Exec.
	LockAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error)
	GetAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error)
	SaveAccount(ctx context.Context, a *mxm.ClubAccount) error
	AppendTransaction(ctx context.Context, t *mxm.Transaction) error
	// ListTransactions returns the newest rows first.
	ListTransactions(ctx context.Context, accountID uint, limit, offset int) ([]*mxm.Transaction, error)
	// ListAllTransactions returns every row of the account in insertion order.
	ListAllTransactions(ctx context.Context, accountID uint) ([]*mxm.Transaction, error)
}

// Repository 统一的数据访问接口
type Repository interface {
	Transactor
	ActivityRepository
	UserRepository
	EnrollmentRepository
	OrderRepository
	PaymentRepository
	RefundRepository
	SettlementRepository
	WithdrawalRepository
	AccountRepository
}
