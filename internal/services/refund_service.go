package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/lock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const refundLockTTL = 30 * time.Second

func refundLockKey(id uint) string { return fmt.Sprintf("refund:execute:%d", id) }

// PolicyFromConfig builds the fallback policy used when neither the activity
// nor its club has one.
func PolicyFromConfig(cfg config.RefundPolicyConfig) mxm.RefundPolicy {
	p := mxm.RefundPolicy{NoRefundHours: cfg.NoRefundHours}
	for _, t := range cfg.Tiers {
		p.Tiers = append(p.Tiers, mxm.RefundTier{HoursBeforeStart: t.HoursBeforeStart, Percent: t.Percent})
	}
	return p
}

// RefundPercent applies a policy at hoursBeforeStart. Tiers are tried from
// the longest notice down and the first one the caller still qualifies for
// wins; when none qualifies the least generous tier applies. Inside the
// no-refund window, or once the activity started, nothing is refunded.
func RefundPercent(policy mxm.RefundPolicy, hoursBeforeStart float64) int {
	if hoursBeforeStart <= 0 || hoursBeforeStart < float64(policy.NoRefundHours) || len(policy.Tiers) == 0 {
		return 0
	}
	tiers := slices.Clone([]mxm.RefundTier(policy.Tiers))
	slices.SortFunc(tiers, func(a, b mxm.RefundTier) int { return b.HoursBeforeStart - a.HoursBeforeStart })
	for _, t := range tiers {
		if float64(t.HoursBeforeStart) <= hoursBeforeStart {
			return clampPercent(t.Percent)
		}
	}
	floor := slices.MinFunc(tiers, func(a, b mxm.RefundTier) int { return a.Percent - b.Percent })
	return clampPercent(floor.Percent)
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

// RefundQuote is what a refund of the order would pay out right now.
type RefundQuote struct {
	OrderID          uint            `json:"order_id"`
	Refundable       bool            `json:"refundable"`
	Percent          int             `json:"percent"`
	Amount           decimal.Decimal `json:"amount"`
	HoursBeforeStart float64         `json:"hours_before_start"`
}

type RefundService struct {
	repo          dao.Repository
	locker        lock.Locker
	gateway       vendors.PaymentGateway
	events        events.Publisher
	auth          Authorizer
	defaultPolicy mxm.RefundPolicy
	now           func() time.Time
}

func NewRefundService(repo dao.Repository, locker lock.Locker, gateway vendors.PaymentGateway,
	pub events.Publisher, auth Authorizer, defaultPolicy mxm.RefundPolicy) *RefundService {
	return &RefundService{
		repo:          repo,
		locker:        locker,
		gateway:       gateway,
		events:        pub,
		auth:          auth,
		defaultPolicy: defaultPolicy,
		now:           time.Now,
	}
}

func (s *RefundService) policyFor(ctx context.Context, activity *mxm.Activity) (mxm.RefundPolicy, error) {
	p, err := s.repo.GetRefundPolicy(ctx, activity.ID, activity.ClubID)
	if errors.Is(err, dao.ErrNotFound) {
		return s.defaultPolicy, nil
	}
	if err != nil {
		return mxm.RefundPolicy{}, fmt.Errorf("load refund policy of activity %d: %w", activity.ID, err)
	}
	return *p, nil
}

// PreviewRefund quotes a refund of a PAID order without a refund yet.
func (s *RefundService) PreviewRefund(ctx context.Context, userID, orderID uint) (*RefundQuote, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, loadErr(err, "order", orderID)
	}
	if order.UserID != userID {
		return nil, forbidden("order %d does not belong to user %d", orderID, userID)
	}
	quote, _, err := s.quote(ctx, order)
	return quote, err
}

func (s *RefundService) quote(ctx context.Context, order *mxm.Order) (*RefundQuote, *mxm.Activity, error) {
	if order.Status != mxm.OrderStatusPaid {
		return nil, nil, stateErr("order", order.ID, order.Status, "refund")
	}
	if existing, err := s.repo.GetRefundByOrder(ctx, order.ID); err == nil {
		return nil, nil, fmt.Errorf("%w: order %d already has refund %s", ErrConflict, order.ID, existing.RefundNo)
	} else if !errors.Is(err, dao.ErrNotFound) {
		return nil, nil, err
	}

	activity, err := s.repo.GetActivity(ctx, order.ActivityID)
	if err != nil {
		return nil, nil, loadErr(err, "activity", order.ActivityID)
	}
	policy, err := s.policyFor(ctx, activity)
	if err != nil {
		return nil, nil, err
	}

	hours := activity.StartTime.Sub(s.now()).Hours()
	pct := RefundPercent(policy, hours)
	amount := mxm.RoundMoney(order.Amount.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)))
	if amount.GreaterThan(order.Amount) {
		amount = order.Amount
	}
	return &RefundQuote{
		OrderID:          order.ID,
		Refundable:       pct > 0 && amount.IsPositive(),
		Percent:          pct,
		Amount:           amount,
		HoursBeforeStart: hours,
	}, activity, nil
}

// CreateRefund requests a refund of the amount the policy grants now. The
// refund and the PAID -> REFUNDING move of the order are one unit.
func (s *RefundService) CreateRefund(ctx context.Context, userID, orderID uint, reason string) (*mxm.Refund, error) {
	var refund *mxm.Refund
	var clubID uint
	err := s.locker.WithLock(ctx, orderLockKey(orderID), orderLockTTL, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return loadErr(err, "order", orderID)
		}
		if order.UserID != userID {
			return forbidden("order %d does not belong to user %d", orderID, userID)
		}
		quote, activity, err := s.quote(ctx, order)
		if err != nil {
			return err
		}
		if !quote.Refundable {
			return invalid("order %d is not refundable %.1f hours before start", orderID, quote.HoursBeforeStart)
		}
		clubID = activity.ClubID

		refund = &mxm.Refund{
			RefundNo:   newRefundNo(),
			OrderID:    order.ID,
			ActivityID: order.ActivityID,
			UserID:     userID,
			Amount:     quote.Amount,
			Percent:    quote.Percent,
			Reason:     reason,
			Status:     mxm.RefundStatusPending,
		}
		return s.repo.Exec(ctx, func(ctx context.Context) error {
			if err := s.repo.CreateRefund(ctx, refund); err != nil {
				if errors.Is(err, dao.ErrDuplicate) {
					return fmt.Errorf("%w: order %d already has a refund", ErrConflict, orderID)
				}
				return err
			}
			changed, err := s.repo.TransitionOrder(ctx, orderID,
				[]mxm.OrderStatus{mxm.OrderStatusPaid}, mxm.OrderStatusRefunding, s.now())
			if err != nil {
				return err
			}
			if !changed {
				return stateErr("order", orderID, "NOT_PAID", "refund")
			}
			return nil
		})
	})
	if err != nil {
		return nil, busy(err)
	}

	slog.Info("refund requested", "refundNo", refund.RefundNo, "orderID", orderID, "amount", refund.Amount.StringFixed(2))
	s.publish(ctx, events.New(events.RefundRequested, userID, clubID, map[string]any{
		"refund_id": refund.ID,
		"order_id":  orderID,
		"amount":    refund.Amount.StringFixed(2),
		"percent":   refund.Percent,
	}))
	return refund, nil
}

func newRefundNo() string {
	return "RF" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// reviewable loads the refund and checks reviewerID runs its club.
func (s *RefundService) reviewable(ctx context.Context, reviewerID, refundID uint) (*mxm.Refund, *mxm.Activity, error) {
	refund, err := s.repo.GetRefund(ctx, refundID)
	if err != nil {
		return nil, nil, loadErr(err, "refund", refundID)
	}
	activity, err := s.repo.GetActivity(ctx, refund.ActivityID)
	if err != nil {
		return nil, nil, loadErr(err, "activity", refund.ActivityID)
	}
	if err := requireOperator(ctx, s.auth, reviewerID, activity.ClubID); err != nil {
		return nil, nil, err
	}
	return refund, activity, nil
}

// ApproveRefund approves a PENDING refund and executes it at the gateway
// right away. A gateway failure leaves the refund APPROVED for RetryRefund
// and is returned wrapped in ErrGatewayFailure.
func (s *RefundService) ApproveRefund(ctx context.Context, reviewerID, refundID uint) (*mxm.Refund, error) {
	refund, activity, err := s.reviewable(ctx, reviewerID, refundID)
	if err != nil {
		return nil, err
	}
	changed, err := s.repo.TransitionRefund(ctx, refundID,
		[]mxm.RefundStatus{mxm.RefundStatusPending}, mxm.RefundStatusApproved,
		dao.RefundPatch{ReviewerID: &reviewerID})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, s.currentRefundErr(ctx, refundID, "approve")
	}
	slog.Info("refund approved", "refundNo", refund.RefundNo, "reviewerID", reviewerID)
	return s.execute(ctx, refundID, activity.ClubID, []mxm.RefundStatus{mxm.RefundStatusApproved})
}

// RetryRefund re-runs the gateway call of an APPROVED refund. A refund stuck
// in PROCESSING, left by a process that died mid-call, is retried too; the
// execute lock guarantees no live call is in flight, and the gateway
// deduplicates on the refund number.
func (s *RefundService) RetryRefund(ctx context.Context, reviewerID, refundID uint) (*mxm.Refund, error) {
	refund, activity, err := s.reviewable(ctx, reviewerID, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != mxm.RefundStatusApproved && refund.Status != mxm.RefundStatusProcessing {
		return nil, stateErr("refund", refund.ID, refund.Status, "retry")
	}
	return s.execute(ctx, refundID, activity.ClubID,
		[]mxm.RefundStatus{mxm.RefundStatusApproved, mxm.RefundStatusProcessing})
}

func (s *RefundService) execute(ctx context.Context, refundID, clubID uint, from []mxm.RefundStatus) (*mxm.Refund, error) {
	var refund *mxm.Refund
	var gatewayErr error
	err := s.locker.WithLock(ctx, refundLockKey(refundID), refundLockTTL, func(ctx context.Context) error {
		changed, err := s.repo.TransitionRefund(ctx, refundID, from, mxm.RefundStatusProcessing, dao.RefundPatch{})
		if err != nil {
			return err
		}
		if !changed {
			return s.currentRefundErr(ctx, refundID, "execute")
		}
		refund, err = s.repo.GetRefund(ctx, refundID)
		if err != nil {
			return loadErr(err, "refund", refundID)
		}
		order, err := s.repo.GetOrder(ctx, refund.OrderID)
		if err != nil {
			return loadErr(err, "order", refund.OrderID)
		}

		res, err := s.gateway.Refund(ctx, vendors.RefundRequest{
			OrderNo:     order.OrderNo,
			RefundNo:    refund.RefundNo,
			RefundCents: mxm.ToCents(refund.Amount),
			TotalCents:  mxm.ToCents(order.TotalAmount),
			Reason:      refund.Reason,
		})
		if err == nil && !res.State.Accepted() {
			err = fmt.Errorf("refund %s in state %s", refund.RefundNo, res.State)
		}
		if err != nil {
			gatewayErr = err
			return s.rollbackToApproved(ctx, refund, err)
		}

		now := s.now()
		return s.repo.Exec(ctx, func(ctx context.Context) error {
			changed, err := s.repo.TransitionRefund(ctx, refundID,
				[]mxm.RefundStatus{mxm.RefundStatusProcessing}, mxm.RefundStatusCompleted,
				dao.RefundPatch{GatewayRefundID: res.RefundID, CompletedAt: &now})
			if err != nil {
				return err
			}
			if !changed {
				return s.currentRefundErr(ctx, refundID, "complete")
			}
			changed, err = s.repo.TransitionOrder(ctx, order.ID,
				[]mxm.OrderStatus{mxm.OrderStatusRefunding}, mxm.OrderStatusRefunded, now)
			if err != nil {
				return err
			}
			if !changed {
				return stateErr("order", order.ID, "NOT_REFUNDING", "complete refund")
			}
			if _, err := s.repo.TransitionEnrollment(ctx, order.EnrollmentID,
				[]mxm.EnrollmentStatus{mxm.EnrollmentStatusPaid, mxm.EnrollmentStatusCheckedIn},
				mxm.EnrollmentStatusRefunded); err != nil {
				return err
			}
			refund.Status = mxm.RefundStatusCompleted
			refund.GatewayRefundID = res.RefundID
			refund.CompletedAt = &now
			return nil
		})
	})
	if err != nil {
		return nil, busy(err)
	}

	if gatewayErr != nil {
		slog.Error("refund execution failed", "refundNo", refund.RefundNo, "error", gatewayErr)
		s.publish(ctx, events.New(events.RefundFailed, refund.UserID, clubID, map[string]any{
			"refund_id": refund.ID,
			"reason":    gatewayErr.Error(),
		}))
		return refund, fmt.Errorf("%w: refund %s: %v", ErrGatewayFailure, refund.RefundNo, gatewayErr)
	}

	slog.Info("refund completed", "refundNo", refund.RefundNo, "amount", refund.Amount.StringFixed(2))
	s.publish(ctx, events.New(events.RefundCompleted, refund.UserID, clubID, map[string]any{
		"refund_id": refund.ID,
		"order_id":  refund.OrderID,
		"amount":    refund.Amount.StringFixed(2),
	}))
	return refund, nil
}

func (s *RefundService) rollbackToApproved(ctx context.Context, refund *mxm.Refund, cause error) error {
	changed, err := s.repo.TransitionRefund(ctx, refund.ID,
		[]mxm.RefundStatus{mxm.RefundStatusProcessing}, mxm.RefundStatusApproved,
		dao.RefundPatch{FailReason: cause.Error()})
	if err != nil {
		return fmt.Errorf("roll back refund %s after gateway failure: %w", refund.RefundNo, err)
	}
	if !changed {
		return s.currentRefundErr(ctx, refund.ID, "roll back")
	}
	refund.Status = mxm.RefundStatusApproved
	refund.FailReason = cause.Error()
	return nil
}

// RejectRefund closes a PENDING refund and gives the order back its PAID status.
func (s *RefundService) RejectRefund(ctx context.Context, reviewerID, refundID uint, reason string) (*mxm.Refund, error) {
	refund, activity, err := s.reviewable(ctx, reviewerID, refundID)
	if err != nil {
		return nil, err
	}
	err = s.repo.Exec(ctx, func(ctx context.Context) error {
		changed, err := s.repo.TransitionRefund(ctx, refundID,
			[]mxm.RefundStatus{mxm.RefundStatusPending}, mxm.RefundStatusRejected,
			dao.RefundPatch{ReviewerID: &reviewerID, RejectReason: reason})
		if err != nil {
			return err
		}
		if !changed {
			return s.currentRefundErr(ctx, refundID, "reject")
		}
		changed, err = s.repo.TransitionOrder(ctx, refund.OrderID,
			[]mxm.OrderStatus{mxm.OrderStatusRefunding}, mxm.OrderStatusPaid, s.now())
		if err != nil {
			return err
		}
		if !changed {
			return stateErr("order", refund.OrderID, "NOT_REFUNDING", "reject refund")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refund.Status = mxm.RefundStatusRejected
	refund.ReviewerID = &reviewerID
	refund.RejectReason = reason
	slog.Info("refund rejected", "refundNo", refund.RefundNo, "reviewerID", reviewerID)
	s.publish(ctx, events.New(events.RefundRejected, refund.UserID, activity.ClubID, map[string]any{
		"refund_id": refund.ID,
		"reason":    reason,
	}))
	return refund, nil
}

// GetRefund is visible to the requester and to operators of the club.
func (s *RefundService) GetRefund(ctx context.Context, userID, refundID uint) (*mxm.Refund, error) {
	refund, err := s.repo.GetRefund(ctx, refundID)
	if err != nil {
		return nil, loadErr(err, "refund", refundID)
	}
	if refund.UserID == userID {
		return refund, nil
	}
	activity, err := s.repo.GetActivity(ctx, refund.ActivityID)
	if err != nil {
		return nil, loadErr(err, "activity", refund.ActivityID)
	}
	if err := requireOperator(ctx, s.auth, userID, activity.ClubID); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *RefundService) currentRefundErr(ctx context.Context, id uint, action string) error {
	current, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return loadErr(err, "refund", id)
	}
	return stateErr("refund", id, current.Status, action)
}

func (s *RefundService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
