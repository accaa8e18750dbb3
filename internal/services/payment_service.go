package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/lock"
)

const (
	notifyLockTTL = 30 * time.Second
	orderLockTTL  = 15 * time.Second
)

func notifyLockKey(orderNo string) string { return "payment:notify:" + orderNo }
func orderLockKey(orderID uint) string    { return fmt.Sprintf("order:%d", orderID) }

// NotifyOutcome says what a webhook delivery did. Every outcome except an
// error is acknowledged to the gateway.
type NotifyOutcome string

const (
	NotifyApplied        NotifyOutcome = "applied"
	NotifyFailedApplied  NotifyOutcome = "failure_applied"
	NotifyDuplicate      NotifyOutcome = "duplicate"
	NotifyBusy           NotifyOutcome = "busy"
	NotifyUnknownOrder   NotifyOutcome = "unknown_order"
	NotifyIgnored        NotifyOutcome = "ignored"
	NotifyAmountMismatch NotifyOutcome = "amount_mismatch"
	NotifyOrphaned       NotifyOutcome = "orphaned"
)

// PaymentService drives orders through the gateway: prepay, inbound
// notifications and active status queries.
type PaymentService struct {
	repo    dao.Repository
	locker  lock.Locker
	gateway vendors.PaymentGateway
	events  events.Publisher
	codec   *VerificationCodec

	reconcileBatch int
	reconciling    atomic.Bool
	now            func() time.Time
}

func NewPaymentService(repo dao.Repository, locker lock.Locker, gateway vendors.PaymentGateway,
	pub events.Publisher, codec *VerificationCodec) *PaymentService {
	return &PaymentService{
		repo:           repo,
		locker:         locker,
		gateway:        gateway,
		events:         pub,
		codec:          codec,
		reconcileBatch: 100,
		now:            time.Now,
	}
}

// Prepay opens a gateway transaction for a PENDING order and moves it to
// PAYING. Calling it again while the order is PAYING re-signs the existing
// prepay handle instead of opening a second transaction.
func (s *PaymentService) Prepay(ctx context.Context, userID, orderID uint) (*vendors.ClientParams, error) {
	var prepayID string
	err := s.locker.WithLock(ctx, orderLockKey(orderID), orderLockTTL, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return loadErr(err, "order", orderID)
		}
		if order.UserID != userID {
			return forbidden("order %d does not belong to user %d", orderID, userID)
		}

		payment, err := s.repo.GetPaymentByOrder(ctx, orderID)
		if err != nil && !errors.Is(err, dao.ErrNotFound) {
			return err
		}
		if payment != nil && payment.Status == mxm.PaymentStatusSuccess {
			return stateErr("payment", payment.ID, payment.Status, "prepay")
		}

		switch order.Status {
		case mxm.OrderStatusPaying:
			if payment != nil && payment.Status == mxm.PaymentStatusPending && payment.PrepayID != "" {
				prepayID = payment.PrepayID
				return nil
			}
			return stateErr("order", order.ID, order.Status, "prepay")
		case mxm.OrderStatusPending:
		default:
			return stateErr("order", order.ID, order.Status, "prepay")
		}

		now := s.now()
		if !order.IsLive(now) {
			return stateErr("order", order.ID, "EXPIRED", "prepay")
		}

		user, err := s.repo.GetUserByID(ctx, userID)
		if err != nil {
			return loadErr(err, "user", userID)
		}

		res, err := s.gateway.CreatePrepay(ctx, vendors.PrepayRequest{
			OrderNo:     order.OrderNo,
			Description: order.Description,
			AmountCents: mxm.ToCents(order.TotalAmount),
			PayerOpenID: user.OpenID,
			ExpiresAt:   order.ExpiresAt,
		})
		if err != nil {
			return fmt.Errorf("%w: prepay order %s: %v", ErrGatewayFailure, order.OrderNo, err)
		}

		err = s.repo.Exec(ctx, func(ctx context.Context) error {
			if err := s.repo.UpsertPendingPayment(ctx, &mxm.Payment{
				OrderID:  order.ID,
				OrderNo:  order.OrderNo,
				Amount:   order.TotalAmount,
				PrepayID: res.PrepayID,
			}); err != nil {
				return err
			}
			changed, err := s.repo.TransitionOrder(ctx, order.ID,
				[]mxm.OrderStatus{mxm.OrderStatusPending}, mxm.OrderStatusPaying, now)
			if err != nil {
				return err
			}
			if !changed {
				// cancelled or expired by the sweep since it was read
				return s.currentOrderErr(ctx, order.ID, "prepay")
			}
			return nil
		})
		if err != nil {
			return err
		}
		prepayID = res.PrepayID
		slog.Info("order prepaid", "orderNo", order.OrderNo, "userID", userID)
		return nil
	})
	if err != nil {
		return nil, busy(err)
	}

	params, err := s.gateway.ClientParams(ctx, prepayID)
	if err != nil {
		return nil, fmt.Errorf("%w: sign client params: %v", ErrGatewayFailure, err)
	}
	return params, nil
}

// HandleNotify processes one gateway notification. It only returns an error
// for a bad signature or a genuine internal failure; every expected case,
// including a concurrent delivery of the same notification, is an outcome.
func (s *PaymentService) HandleNotify(ctx context.Context, r *http.Request) (NotifyOutcome, error) {
	trade, err := s.gateway.ParseNotify(ctx, r)
	if err != nil {
		return "", err
	}
	return s.applyNotification(ctx, trade)
}

func (s *PaymentService) applyNotification(ctx context.Context, trade *vendors.TradeResult) (NotifyOutcome, error) {
	outcome := NotifyBusy
	ran, err := s.locker.TryWithLock(ctx, notifyLockKey(trade.OrderNo), notifyLockTTL, func(ctx context.Context) error {
		order, err := s.repo.GetOrderByNo(ctx, trade.OrderNo)
		if errors.Is(err, dao.ErrNotFound) {
			outcome = NotifyUnknownOrder
			return nil
		}
		if err != nil {
			return err
		}
		outcome, err = s.applyTrade(ctx, order, trade)
		return err
	})
	if err != nil {
		slog.Error("payment notify failed", "orderNo", trade.OrderNo, "error", err)
		return "", err
	}
	if !ran {
		outcome = NotifyBusy
	}
	slog.Info("payment notify handled", "orderNo", trade.OrderNo, "state", trade.State, "outcome", outcome)
	return outcome, nil
}

// applyTrade applies what the gateway reported to the order. Callers hold
// the notify lock of the order.
func (s *PaymentService) applyTrade(ctx context.Context, order *mxm.Order, trade *vendors.TradeResult) (NotifyOutcome, error) {
	if slices.Contains(mxm.PaidOrderStatuses, order.Status) {
		return NotifyDuplicate, nil
	}
	switch {
	case trade.State.Paid():
		if trade.AmountCents != mxm.ToCents(order.TotalAmount) {
			slog.Warn("payment amount mismatch, not applied", "orderNo", order.OrderNo,
				"expected", order.TotalAmount.StringFixed(2), "paid", mxm.FromCents(trade.AmountCents).StringFixed(2))
			return NotifyAmountMismatch, nil
		}
		return s.applySuccess(ctx, order, trade)
	case trade.State.Failed():
		if order.Status != mxm.OrderStatusPaying {
			return NotifyIgnored, nil
		}
		if err := s.applyFailure(ctx, order, trade.StateDesc); err != nil {
			return "", err
		}
		return NotifyFailedApplied, nil
	default:
		return NotifyIgnored, nil
	}
}

// applySuccess marks Payment SUCCESS, stores a verification code and moves
// Order and Enrollment to PAID as one unit. A CANCELLED order only records
// the payment: the money arrived but the slot is gone and needs a manual
// refund.
func (s *PaymentService) applySuccess(ctx context.Context, order *mxm.Order, trade *vendors.TradeResult) (NotifyOutcome, error) {
	paidAt := s.now()
	if trade.SuccessTime != nil {
		paidAt = *trade.SuccessTime
	}

	outcome := NotifyApplied
	err := s.repo.Exec(ctx, func(ctx context.Context) error {
		if err := s.ensurePayment(ctx, order); err != nil {
			return err
		}
		if _, err := s.repo.MarkPaymentSuccess(ctx, order.ID, trade.TransactionID, paidAt); err != nil {
			return err
		}

		if order.Status == mxm.OrderStatusCancelled {
			outcome = NotifyOrphaned
			return nil
		}

		changed, err := s.repo.TransitionOrder(ctx, order.ID,
			[]mxm.OrderStatus{mxm.OrderStatusPending, mxm.OrderStatusPaying}, mxm.OrderStatusPaid, paidAt)
		if err != nil {
			return err
		}
		if !changed {
			return s.currentOrderErr(ctx, order.ID, "mark paid")
		}

		code := s.codec.Generate(order.ID, s.now())
		if err := s.repo.SetOrderVerificationCode(ctx, order.ID, code); err != nil {
			return err
		}

		changed, err = s.repo.TransitionEnrollment(ctx, order.EnrollmentID,
			[]mxm.EnrollmentStatus{mxm.EnrollmentStatusPending}, mxm.EnrollmentStatusPaid)
		if err != nil {
			return err
		}
		if !changed {
			slog.Warn("enrollment not pending on payment", "enrollmentID", order.EnrollmentID, "orderNo", order.OrderNo)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"order_id":       order.ID,
		"order_no":       order.OrderNo,
		"transaction_id": trade.TransactionID,
		"amount":         order.TotalAmount.StringFixed(2),
	}
	if outcome == NotifyOrphaned {
		slog.Warn("payment succeeded for cancelled order", "orderNo", order.OrderNo, "transactionID", trade.TransactionID)
		s.publish(ctx, events.New(events.PaymentOrphaned, order.UserID, 0, payload))
	} else {
		s.publish(ctx, events.New(events.PaymentSucceeded, order.UserID, 0, payload))
	}
	return outcome, nil
}

// ensurePayment creates the payment row if the order never went through
// Prepay on this side, e.g. a success reported after a lost prepay response.
func (s *PaymentService) ensurePayment(ctx context.Context, order *mxm.Order) error {
	_, err := s.repo.GetPaymentByOrder(ctx, order.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	return s.repo.UpsertPendingPayment(ctx, &mxm.Payment{
		OrderID: order.ID,
		OrderNo: order.OrderNo,
		Amount:  order.TotalAmount,
	})
}

// applyFailure marks the payment FAILED and returns the order to PENDING so
// the user can pay again.
func (s *PaymentService) applyFailure(ctx context.Context, order *mxm.Order, reason string) error {
	if reason == "" {
		reason = "payment failed"
	}
	err := s.repo.Exec(ctx, func(ctx context.Context) error {
		if _, err := s.repo.MarkPaymentFailed(ctx, order.ID, reason); err != nil {
			return err
		}
		_, err := s.repo.TransitionOrder(ctx, order.ID,
			[]mxm.OrderStatus{mxm.OrderStatusPaying}, mxm.OrderStatusPending, s.now())
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.PaymentFailed, order.UserID, 0, map[string]any{
		"order_id": order.ID,
		"order_no": order.OrderNo,
		"reason":   reason,
	}))
	return nil
}

// SyncPaymentStatus reconciles an order the notification for which may have
// been lost. Paid orders short-circuit; otherwise the gateway is queried and
// a reported success is applied exactly as a notification would be.
func (s *PaymentService) SyncPaymentStatus(ctx context.Context, userID, orderID uint) (*mxm.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, loadErr(err, "order", orderID)
	}
	if order.UserID != userID {
		return nil, forbidden("order %d does not belong to user %d", orderID, userID)
	}
	return s.syncOrder(ctx, order)
}

func (s *PaymentService) syncOrder(ctx context.Context, order *mxm.Order) (*mxm.Order, error) {
	if slices.Contains(mxm.PaidOrderStatuses, order.Status) {
		return order, nil
	}
	trade, err := s.gateway.QueryByOrderNo(ctx, order.OrderNo)
	if err != nil {
		return nil, fmt.Errorf("%w: query order %s: %v", ErrGatewayFailure, order.OrderNo, err)
	}
	if trade.OrderNo == "" {
		trade.OrderNo = order.OrderNo
	}

	err = s.locker.WithLock(ctx, notifyLockKey(order.OrderNo), notifyLockTTL, func(ctx context.Context) error {
		current, err := s.repo.GetOrder(ctx, order.ID)
		if err != nil {
			return loadErr(err, "order", order.ID)
		}
		_, err = s.applyTrade(ctx, current, trade)
		return err
	})
	if err != nil {
		return nil, busy(err)
	}
	updated, err := s.repo.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, loadErr(err, "order", order.ID)
	}
	return updated, nil
}

// ReconcilePayingOrders queries the gateway for PAYING orders past their
// expiry. Paid ones are applied; unpaid ones are closed at the gateway and
// returned to PENDING, where the expiry sweep picks them up.
func (s *PaymentService) ReconcilePayingOrders(ctx context.Context) (int, error) {
	if !s.reconciling.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.reconciling.Store(false)

	orders, err := s.repo.ListOverdueOrders(ctx, mxm.OrderStatusPaying, s.now(), s.reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue paying orders: %w", err)
	}
	done := 0
	for _, order := range orders {
		updated, err := s.syncOrder(ctx, order)
		if err != nil {
			slog.Error("reconcile paying order failed", "orderNo", order.OrderNo, "error", err)
			continue
		}
		if updated.Status == mxm.OrderStatusPaying {
			if err := s.gateway.CloseOrder(ctx, order.OrderNo); err != nil {
				slog.Error("close overdue order failed", "orderNo", order.OrderNo, "error", err)
				continue
			}
			if err := s.applyFailure(ctx, updated, "payment window closed"); err != nil {
				slog.Error("revert overdue order failed", "orderNo", order.OrderNo, "error", err)
				continue
			}
		}
		done++
	}
	return done, nil
}

// GetVerificationCode returns the check-in code of a PAID order, issuing one
// if the order somehow has none.
func (s *PaymentService) GetVerificationCode(ctx context.Context, userID, orderID uint) (string, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", loadErr(err, "order", orderID)
	}
	if order.UserID != userID {
		return "", forbidden("order %d does not belong to user %d", orderID, userID)
	}
	if order.Status != mxm.OrderStatusPaid {
		return "", stateErr("order", order.ID, order.Status, "issue verification code")
	}
	if order.VerificationCode != "" {
		return order.VerificationCode, nil
	}
	code := s.codec.Generate(order.ID, s.now())
	if err := s.repo.SetOrderVerificationCode(ctx, order.ID, code); err != nil {
		return "", err
	}
	return code, nil
}

func (s *PaymentService) currentOrderErr(ctx context.Context, id uint, action string) error {
	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return loadErr(err, "order", id)
	}
	return stateErr("order", id, current.Status, action)
}

func (s *PaymentService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
