package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/pkg/lock"
	"github.com/Daneel-Li/clubpay/pkg/utils"
	"github.com/shopspring/decimal"
)

const (
	enrollmentLockTTL = 10 * time.Second
	orderNoAttempts   = 3
)

func enrollmentLockKey(id uint) string { return fmt.Sprintf("enrollment:%d", id) }

// OrderService owns the order state machine apart from the payment edges.
type OrderService struct {
	repo     dao.Repository
	locker   lock.Locker
	events   events.Publisher
	payments *PaymentService
	codec    *VerificationCodec
	auth     Authorizer

	timeout     time.Duration
	expiryBatch int
	sweeping    atomic.Bool
	now         func() time.Time
}

func NewOrderService(repo dao.Repository, locker lock.Locker, pub events.Publisher, payments *PaymentService,
	codec *VerificationCodec, auth Authorizer, timeout time.Duration, expiryBatch int) *OrderService {
	if expiryBatch <= 0 {
		expiryBatch = 200
	}
	return &OrderService{
		repo:        repo,
		locker:      locker,
		events:      pub,
		payments:    payments,
		codec:       codec,
		auth:        auth,
		timeout:     timeout,
		expiryBatch: expiryBatch,
		now:         time.Now,
	}
}

// CreateOrder opens an order for a PENDING enrollment. A live order of the
// enrollment is returned as is, so retrying the call never creates a second
// one.
func (s *OrderService) CreateOrder(ctx context.Context, userID, enrollmentID uint) (*mxm.Order, error) {
	var order *mxm.Order
	created := false
	err := s.locker.WithLock(ctx, enrollmentLockKey(enrollmentID), enrollmentLockTTL, func(ctx context.Context) error {
		enrollment, err := s.repo.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return loadErr(err, "enrollment", enrollmentID)
		}
		if enrollment.UserID != userID {
			return forbidden("enrollment %d does not belong to user %d", enrollmentID, userID)
		}
		if enrollment.Status != mxm.EnrollmentStatusPending {
			return stateErr("enrollment", enrollment.ID, enrollment.Status, "create order")
		}

		now := s.now()
		live, err := s.repo.FindLiveOrder(ctx, enrollmentID, now)
		if err == nil {
			order = live
			return nil
		}
		if !errors.Is(err, dao.ErrNotFound) {
			return err
		}

		paying, err := s.repo.ListOrdersByEnrollment(ctx, enrollmentID, []mxm.OrderStatus{mxm.OrderStatusPaying})
		if err != nil {
			return err
		}
		if len(paying) > 0 {
			return fmt.Errorf("%w: order %s of enrollment %d is being paid", ErrConflict, paying[0].OrderNo, enrollmentID)
		}

		activity, err := s.repo.GetActivity(ctx, enrollment.ActivityID)
		if err != nil {
			return loadErr(err, "activity", enrollment.ActivityID)
		}
		if activity.HasStarted(now) {
			return stateErr("activity", activity.ID, "STARTED", "create order")
		}

		order, err = s.insertOrder(ctx, enrollment, activity, now)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, busy(err)
	}

	if created {
		slog.Info("order created", "orderNo", order.OrderNo, "enrollmentID", enrollmentID, "total", order.TotalAmount.StringFixed(2))
		s.publish(ctx, events.New(events.OrderCreated, userID, 0, map[string]any{
			"order_id":      order.ID,
			"order_no":      order.OrderNo,
			"enrollment_id": enrollmentID,
			"total_amount":  order.TotalAmount.StringFixed(2),
		}))
	}
	return order, nil
}

// insertOrder writes the order and its add-on as one unit. Overdue PENDING
// orders of the enrollment that the sweep has not reached yet are cancelled
// in the same unit, keeping a single open order per enrollment.
func (s *OrderService) insertOrder(ctx context.Context, enrollment *mxm.Enrollment, activity *mxm.Activity, now time.Time) (*mxm.Order, error) {
	var addon *mxm.OrderAddon
	addonFee := decimal.Zero
	if activity.InsuranceDailyFee.IsPositive() {
		days := activity.SpanDays()
		addonFee = mxm.RoundMoney(activity.InsuranceDailyFee.Mul(decimal.NewFromInt(int64(days))))
		addon = &mxm.OrderAddon{
			Type:    mxm.AddonTypeInsurance,
			UnitFee: activity.InsuranceDailyFee,
			Days:    days,
			Fee:     addonFee,
		}
	}

	for attempt := 1; ; attempt++ {
		order := &mxm.Order{
			OrderNo:      newOrderNo(now),
			EnrollmentID: enrollment.ID,
			ActivityID:   activity.ID,
			UserID:       enrollment.UserID,
			Description:  activity.Title,
			Amount:       enrollment.Amount,
			AddonFee:     addonFee,
			TotalAmount:  enrollment.Amount.Add(addonFee),
			Status:       mxm.OrderStatusPending,
			ExpiresAt:    now.Add(s.timeout),
		}
		err := s.repo.Exec(ctx, func(ctx context.Context) error {
			stale, err := s.repo.ListOrdersByEnrollment(ctx, enrollment.ID, []mxm.OrderStatus{mxm.OrderStatusPending})
			if err != nil {
				return err
			}
			for _, o := range stale {
				if _, err := s.repo.TransitionOrder(ctx, o.ID,
					[]mxm.OrderStatus{mxm.OrderStatusPending}, mxm.OrderStatusCancelled, now); err != nil {
					return err
				}
			}
			if err := s.repo.CreateOrder(ctx, order); err != nil {
				return err
			}
			if addon != nil {
				a := *addon
				a.OrderID = order.ID
				return s.repo.CreateOrderAddon(ctx, &a)
			}
			return nil
		})
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, dao.ErrDuplicate) || attempt >= orderNoAttempts {
			return nil, fmt.Errorf("create order: %w", err)
		}
		slog.Warn("order number collision, retrying", "orderNo", order.OrderNo)
	}
}

// newOrderNo returns AO followed by the local timestamp and eight random digits.
func newOrderNo(now time.Time) string {
	return "AO" + now.Format("20060102150405") + utils.RandomDigits(8)
}

// CancelOrder cancels an unpaid order of the caller. A PAYING order is first
// checked against the gateway: if it was paid meanwhile the order ends up
// PAID and cancelling is refused, otherwise the gateway transaction is
// closed and the order cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID uint) (*mxm.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, loadErr(err, "order", orderID)
	}
	if order.UserID != userID {
		return nil, forbidden("order %d does not belong to user %d", orderID, userID)
	}

	// PAYING is only accepted once the gateway transaction was checked and
	// closed here; a prepay that lands after this read must be checked again.
	from := []mxm.OrderStatus{mxm.OrderStatusPending}
	if order.Status == mxm.OrderStatusPaying {
		order, err = s.payments.syncOrder(ctx, order)
		if err != nil {
			return nil, err
		}
		if order.Status == mxm.OrderStatusPaying {
			if err := s.payments.gateway.CloseOrder(ctx, order.OrderNo); err != nil {
				slog.Warn("close gateway order failed", "orderNo", order.OrderNo, "error", err)
			}
			from = append(from, mxm.OrderStatusPaying)
		}
	}
	if order.Status != mxm.OrderStatusPending && order.Status != mxm.OrderStatusPaying {
		return nil, stateErr("order", order.ID, order.Status, "cancel")
	}

	now := s.now()
	err = s.locker.WithLock(ctx, orderLockKey(orderID), orderLockTTL, func(ctx context.Context) error {
		current, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return loadErr(err, "order", orderID)
		}
		if !slices.Contains(from, current.Status) {
			return stateErr("order", current.ID, current.Status, "cancel")
		}
		return s.repo.Exec(ctx, func(ctx context.Context) error {
			changed, err := s.repo.TransitionOrder(ctx, orderID, from, mxm.OrderStatusCancelled, now)
			if err != nil {
				return err
			}
			if !changed {
				return s.payments.currentOrderErr(ctx, orderID, "cancel")
			}
			_, err = s.repo.MarkPaymentFailed(ctx, orderID, "order cancelled")
			return err
		})
	})
	if err != nil {
		return nil, busy(err)
	}

	order.Status = mxm.OrderStatusCancelled
	order.CancelledAt = &now
	slog.Info("order cancelled", "orderNo", order.OrderNo, "userID", userID)
	s.publish(ctx, events.New(events.OrderCancelled, userID, 0, map[string]any{
		"order_id": order.ID,
		"order_no": order.OrderNo,
	}))
	return order, nil
}

// ExpireOrders cancels PENDING orders past their expiry. Overlapping calls
// return immediately. Every order is cancelled by a conditional transition,
// so an order paid or cancelled since it was listed is left alone.
func (s *OrderService) ExpireOrders(ctx context.Context, now time.Time) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		slog.Debug("order expiry sweep already running")
		return 0, nil
	}
	defer s.sweeping.Store(false)

	orders, err := s.repo.ListOverdueOrders(ctx, mxm.OrderStatusPending, now, s.expiryBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue orders: %w", err)
	}
	expired := 0
	for _, order := range orders {
		changed, err := s.repo.TransitionOrder(ctx, order.ID,
			[]mxm.OrderStatus{mxm.OrderStatusPending}, mxm.OrderStatusCancelled, now)
		if err != nil {
			slog.Error("expire order failed", "orderNo", order.OrderNo, "error", err)
			continue
		}
		if !changed {
			continue
		}
		expired++
		slog.Info("order expired", "orderNo", order.OrderNo)
		s.publish(ctx, events.New(events.OrderExpired, order.UserID, 0, map[string]any{
			"order_id": order.ID,
			"order_no": order.OrderNo,
		}))
	}
	return expired, nil
}

// CheckIn redeems a verification code at the venue. The code is checked
// offline first; the stored code and the order status then decide.
func (s *OrderService) CheckIn(ctx context.Context, operatorID uint, code string) (*mxm.Order, error) {
	now := s.now()
	orderID, err := s.codec.Parse(code, now)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, loadErr(err, "order", orderID)
	}
	activity, err := s.repo.GetActivity(ctx, order.ActivityID)
	if err != nil {
		return nil, loadErr(err, "activity", order.ActivityID)
	}
	if err := requireOperator(ctx, s.auth, operatorID, activity.ClubID); err != nil {
		return nil, err
	}
	if order.VerificationCode != code {
		return nil, invalid("verification code of order %d was superseded", orderID)
	}
	if order.Status != mxm.OrderStatusPaid {
		return nil, stateErr("order", order.ID, order.Status, "check in")
	}

	err = s.repo.Exec(ctx, func(ctx context.Context) error {
		changed, err := s.repo.TransitionOrder(ctx, order.ID,
			[]mxm.OrderStatus{mxm.OrderStatusPaid}, mxm.OrderStatusCompleted, now)
		if err != nil {
			return err
		}
		if !changed {
			return s.payments.currentOrderErr(ctx, order.ID, "check in")
		}
		changed, err = s.repo.TransitionEnrollment(ctx, order.EnrollmentID,
			[]mxm.EnrollmentStatus{mxm.EnrollmentStatusPaid}, mxm.EnrollmentStatusCheckedIn)
		if err != nil {
			return err
		}
		if !changed {
			return stateErr("enrollment", order.EnrollmentID, "NOT_PAID", "check in")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Status = mxm.OrderStatusCompleted
	order.CompletedAt = &now
	slog.Info("checked in", "orderNo", order.OrderNo, "operatorID", operatorID)
	s.publish(ctx, events.New(events.CheckinCompleted, order.UserID, activity.ClubID, map[string]any{
		"order_id":      order.ID,
		"enrollment_id": order.EnrollmentID,
		"activity_id":   order.ActivityID,
	}))
	return order, nil
}

// OrderDetail is an order with its add-ons.
type OrderDetail struct {
	*mxm.Order
	Addons []*mxm.OrderAddon `json:"addons"`
}

func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uint) (*OrderDetail, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, loadErr(err, "order", orderID)
	}
	if order.UserID != userID {
		return nil, forbidden("order %d does not belong to user %d", orderID, userID)
	}
	addons, err := s.repo.ListOrderAddons(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Addons: addons}, nil
}

func (s *OrderService) ListMyOrders(ctx context.Context, userID uint, statuses []mxm.OrderStatus) ([]*mxm.Order, error) {
	orders, err := s.repo.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return orders, nil
	}
	return slices.DeleteFunc(orders, func(o *mxm.Order) bool {
		return !slices.Contains(statuses, o.Status)
	}), nil
}

func (s *OrderService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
