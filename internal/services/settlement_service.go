package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/pkg/lock"
	"github.com/shopspring/decimal"
)

func settleActivityKey(id uint) string { return fmt.Sprintf("settlement:activity:%d", id) }
func settleExecuteKey(id uint) string  { return fmt.Sprintf("settlement:execute:%d", id) }

// SettlementService pays the proceeds of completed activities into the club ledger.
type SettlementService struct {
	repo    dao.Repository
	locker  lock.Locker
	ledger  *Ledger
	events  events.Publisher
	auth    Authorizer
	feeRate decimal.Decimal
	cfg     config.SettlementConfig

	sweeping atomic.Bool
	now      func() time.Time
}

func NewSettlementService(repo dao.Repository, locker lock.Locker, ledger *Ledger, pub events.Publisher,
	auth Authorizer, feeRate float64, cfg config.SettlementConfig) *SettlementService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 50
	}
	return &SettlementService{
		repo:    repo,
		locker:  locker,
		ledger:  ledger,
		events:  pub,
		auth:    auth,
		feeRate: decimal.NewFromFloat(feeRate),
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *SettlementService) requireViewer(ctx context.Context, userID, clubID uint) error {
	err := requireOperator(ctx, s.auth, userID, clubID)
	if err == nil || !errors.Is(err, ErrForbidden) {
		return err
	}
	if admin, aerr := s.auth.IsPlatformAdmin(ctx, userID); aerr != nil || !admin {
		return err
	}
	return nil
}

// SettleActivity settles activityID on behalf of a club operator or a
// platform admin. Settling an already settled activity returns the existing
// settlement.
func (s *SettlementService) SettleActivity(ctx context.Context, userID, activityID uint) (*mxm.Settlement, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, loadErr(err, "activity", activityID)
	}
	if err := s.requireViewer(ctx, userID, activity.ClubID); err != nil {
		return nil, err
	}
	return s.settle(ctx, activityID)
}

// settle computes and executes the settlement of one activity under the
// activity lock.
func (s *SettlementService) settle(ctx context.Context, activityID uint) (*mxm.Settlement, error) {
	var st *mxm.Settlement
	settled := false
	err := s.locker.WithLock(ctx, settleActivityKey(activityID), s.cfg.LockTTL, func(ctx context.Context) error {
		activity, err := s.repo.GetActivity(ctx, activityID)
		if err != nil {
			return loadErr(err, "activity", activityID)
		}
		if activity.Status != mxm.ActivityStatusCompleted {
			return stateErr("activity", activity.ID, activity.Status, "settle")
		}

		existing, err := s.repo.GetSettlementByActivity(ctx, activityID)
		switch {
		case err == nil && existing.Status == mxm.SettlementStatusCompleted:
			st = existing
			return nil
		case err == nil:
			st = existing
		case errors.Is(err, dao.ErrNotFound):
			st = &mxm.Settlement{ActivityID: activityID, ClubID: activity.ClubID}
		default:
			return err
		}

		open, err := s.repo.CountOpenRefunds(ctx, activityID)
		if err != nil {
			return err
		}
		if open > 0 {
			return stateErr("activity", activityID, fmt.Sprintf("REFUNDS_OPEN(%d)", open), "settle")
		}

		total, count, err := s.repo.SumOrderAmounts(ctx, activityID, mxm.PaidOrderStatuses)
		if err != nil {
			return err
		}
		refunded, err := s.repo.SumCompletedRefunds(ctx, activityID)
		if err != nil {
			return err
		}
		net := total.Sub(refunded)
		if net.IsNegative() {
			return fmt.Errorf("%w: activity %d refunded %s of %s", ErrInvariantViolation, activityID, refunded, total)
		}
		fee := mxm.RoundMoney(net.Mul(s.feeRate))

		st.TotalAmount = total
		st.RefundAmount = refunded
		st.FeeRate = s.feeRate
		st.PlatformFee = fee
		st.SettleAmount = net.Sub(fee)
		st.OrderCount = count
		st.Status = mxm.SettlementStatusPending
		if err := s.repo.SaveSettlement(ctx, st); err != nil {
			return fmt.Errorf("save settlement of activity %d: %w", activityID, err)
		}

		settled, err = s.execute(ctx, st)
		return err
	})
	if err != nil {
		return nil, busy(err)
	}

	if settled {
		slog.Info("activity settled", "activityID", activityID, "settlementID", st.ID,
			"total", st.TotalAmount.StringFixed(2), "fee", st.PlatformFee.StringFixed(2), "settle", st.SettleAmount.StringFixed(2))
		s.publish(ctx, events.New(events.SettlementCompleted, 0, st.ClubID, map[string]any{
			"settlement_id": st.ID,
			"activity_id":   activityID,
			"settle_amount": st.SettleAmount.StringFixed(2),
			"platform_fee":  st.PlatformFee.StringFixed(2),
		}))
	}
	return st, nil
}

// execute marks the settlement COMPLETED, posts it to the ledger and
// completes the remaining PAID orders, all in one unit.
func (s *SettlementService) execute(ctx context.Context, st *mxm.Settlement) (bool, error) {
	executed := false
	err := s.locker.WithLock(ctx, settleExecuteKey(st.ID), s.cfg.LockTTL, func(ctx context.Context) error {
		now := s.now()
		return s.repo.Exec(ctx, func(ctx context.Context) error {
			changed, err := s.repo.TransitionSettlement(ctx, st.ID,
				mxm.SettlementStatusPending, mxm.SettlementStatusCompleted, now)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			net := st.TotalAmount.Sub(st.RefundAmount)
			if _, err := s.ledger.PostSettlement(ctx, st.ClubID, net, st.PlatformFee, LedgerRef{
				Type:   "settlement",
				ID:     st.ID,
				Remark: fmt.Sprintf("activity %d", st.ActivityID),
			}); err != nil {
				return err
			}
			if _, err := s.repo.CompletePaidOrders(ctx, st.ActivityID, now); err != nil {
				return err
			}
			st.Status = mxm.SettlementStatusCompleted
			st.SettledAt = &now
			executed = true
			return nil
		})
	})
	return executed, err
}

// GetSettlement returns the settlement of an activity.
func (s *SettlementService) GetSettlement(ctx context.Context, userID, activityID uint) (*mxm.Settlement, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, loadErr(err, "activity", activityID)
	}
	if err := s.requireViewer(ctx, userID, activity.ClubID); err != nil {
		return nil, err
	}
	st, err := s.repo.GetSettlementByActivity(ctx, activityID)
	if err != nil {
		return nil, loadErr(err, "settlement of activity", activityID)
	}
	return st, nil
}

// SweepSettlements settles completed activities that ended more than the
// configured delay before now. A failing activity is logged and skipped.
func (s *SettlementService) SweepSettlements(ctx context.Context, now time.Time) (int, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.sweeping.Store(false)

	activities, err := s.repo.ListSettleableActivities(ctx, now.Add(-s.cfg.SettleDelay), s.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list settleable activities: %w", err)
	}
	done := 0
	for _, a := range activities {
		if _, err := s.settle(ctx, a.ID); err != nil {
			slog.Error("settle activity failed", "activityID", a.ID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

func (s *SettlementService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
