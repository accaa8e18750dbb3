package services

import (
	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/lock"
)

// Container 服务容器，持有全部业务服务
type Container struct {
	Auth        Authorizer
	Ledger      *Ledger
	Enrollments *EnrollmentService
	Orders      *OrderService
	Payments    *PaymentService
	Refunds     *RefundService
	Settlements *SettlementService
	Withdrawals *WithdrawalService
	JWT         JWTService
}

// NewContainer wires every service against the same repository, locker,
// gateway and event publisher.
func NewContainer(cfg *config.Config, repo dao.Repository, locker lock.Locker,
	gateway vendors.PaymentGateway, pub events.Publisher) *Container {
	auth := NewAuthorizer(repo)
	ledger := NewLedger(repo, auth)
	codec := NewVerificationCodec(cfg.Verification.Secret, cfg.Verification.MaxAge)
	payments := NewPaymentService(repo, locker, gateway, pub, codec)

	return &Container{
		Auth:        auth,
		Ledger:      ledger,
		Enrollments: NewEnrollmentService(repo, pub),
		Orders:      NewOrderService(repo, locker, pub, payments, codec, auth, cfg.Orders.Timeout, cfg.Orders.ExpiryBatch),
		Payments:    payments,
		Refunds:     NewRefundService(repo, locker, gateway, pub, auth, PolicyFromConfig(cfg.RefundPolicy)),
		Settlements: NewSettlementService(repo, locker, ledger, pub, auth, cfg.Ledger.PlatformFeeRate, cfg.Settlement),
		Withdrawals: NewWithdrawalService(repo, locker, ledger, pub, auth, cfg.Ledger),
		JWT:         NewJWTService(cfg.JwtIssuer, cfg.JwtKey),
	}
}

// NewScheduler builds the periodic jobs from the configured specs.
func (c *Container) NewScheduler(cfg *config.Config) (*Scheduler, error) {
	return NewScheduler(ScheduleSpec{
		OrderExpiry:    cfg.Orders.ExpirySpec,
		PayingOrders:   cfg.Orders.ReconcileSpec,
		SettlementScan: cfg.Settlement.SweepSpec,
	}, c.Orders, c.Payments, c.Settlements)
}
