package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/pkg/lock"
	"github.com/Daneel-Li/clubpay/pkg/utils"
	"github.com/shopspring/decimal"
)

const withdrawalLockTTL = 15 * time.Second

func withdrawalClubKey(clubID uint) string { return fmt.Sprintf("withdrawal:club:%d", clubID) }
func withdrawalKey(id uint) string         { return fmt.Sprintf("withdrawal:%d", id) }

// WithdrawalService moves club money out: freeze on request, pay out on completion.
type WithdrawalService struct {
	repo      dao.Repository
	locker    lock.Locker
	ledger    *Ledger
	events    events.Publisher
	auth      Authorizer
	minAmount decimal.Decimal
	feeRate   decimal.Decimal
	now       func() time.Time
}

func NewWithdrawalService(repo dao.Repository, locker lock.Locker, ledger *Ledger, pub events.Publisher,
	auth Authorizer, cfg config.LedgerConfig) *WithdrawalService {
	return &WithdrawalService{
		repo:      repo,
		locker:    locker,
		ledger:    ledger,
		events:    pub,
		auth:      auth,
		minAmount: decimal.NewFromFloat(cfg.WithdrawalMinAmount),
		feeRate:   decimal.NewFromFloat(cfg.WithdrawalFeeRate),
		now:       time.Now,
	}
}

// Create requests a payout of amount to the club's bank account. The amount
// is frozen in the same unit that creates the withdrawal.
func (s *WithdrawalService) Create(ctx context.Context, userID, clubID uint, amount decimal.Decimal) (*mxm.Withdrawal, error) {
	if err := requireOperator(ctx, s.auth, userID, clubID); err != nil {
		return nil, err
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, invalid("amount %s has more than two decimals", amount)
	}
	if !amount.IsPositive() || amount.LessThan(s.minAmount) {
		return nil, invalid("amount %s is below the minimum %s", amount, s.minAmount)
	}
	club, err := s.repo.GetClub(ctx, clubID)
	if err != nil {
		return nil, loadErr(err, "club", clubID)
	}
	if !club.HasBankDetails() {
		return nil, invalid("club %d has no bank details", clubID)
	}

	fee := mxm.RoundMoney(amount.Mul(s.feeRate))
	w := &mxm.Withdrawal{
		WithdrawalNo:  "WD" + s.now().Format("20060102150405") + utils.RandomDigits(6),
		ClubID:        clubID,
		ApplicantID:   userID,
		Amount:        amount,
		Fee:           fee,
		ActualAmount:  amount.Sub(fee),
		BankName:      club.BankName,
		BankAccount:   club.BankAccount,
		AccountHolder: club.AccountHolder,
		Status:        mxm.WithdrawalStatusPending,
	}
	err = s.locker.WithLock(ctx, withdrawalClubKey(clubID), withdrawalLockTTL, func(ctx context.Context) error {
		return s.repo.Exec(ctx, func(ctx context.Context) error {
			if _, err := s.ledger.Freeze(ctx, clubID, amount); err != nil {
				return err
			}
			return s.repo.CreateWithdrawal(ctx, w)
		})
	})
	if err != nil {
		return nil, busy(err)
	}

	slog.Info("withdrawal requested", "withdrawalNo", w.WithdrawalNo, "clubID", clubID, "amount", amount.StringFixed(2))
	s.publish(ctx, events.New(events.WithdrawalCreated, userID, clubID, map[string]any{
		"withdrawal_id": w.ID,
		"amount":        amount.StringFixed(2),
	}))
	return w, nil
}

// review runs fn for a withdrawal under its lock after checking adminID.
func (s *WithdrawalService) review(ctx context.Context, adminID, id uint, fn func(ctx context.Context, w *mxm.Withdrawal) error) (*mxm.Withdrawal, error) {
	if err := requireAdmin(ctx, s.auth, adminID); err != nil {
		return nil, err
	}
	var w *mxm.Withdrawal
	err := s.locker.WithLock(ctx, withdrawalKey(id), withdrawalLockTTL, func(ctx context.Context) error {
		var err error
		w, err = s.repo.GetWithdrawal(ctx, id)
		if err != nil {
			return loadErr(err, "withdrawal", id)
		}
		return s.repo.Exec(ctx, func(ctx context.Context) error { return fn(ctx, w) })
	})
	if err != nil {
		return nil, busy(err)
	}
	return w, nil
}

func (s *WithdrawalService) transition(ctx context.Context, w *mxm.Withdrawal, from, to mxm.WithdrawalStatus, patch dao.WithdrawalPatch, action string) error {
	changed, err := s.repo.TransitionWithdrawal(ctx, w.ID, from, to, patch)
	if err != nil {
		return err
	}
	if !changed {
		return stateErr("withdrawal", w.ID, w.Status, action)
	}
	w.Status = to
	return nil
}

// Approve only records the decision; no money moves until Complete.
func (s *WithdrawalService) Approve(ctx context.Context, adminID, id uint) (*mxm.Withdrawal, error) {
	w, err := s.review(ctx, adminID, id, func(ctx context.Context, w *mxm.Withdrawal) error {
		now := s.now()
		if err := s.transition(ctx, w, mxm.WithdrawalStatusPending, mxm.WithdrawalStatusApproved,
			dao.WithdrawalPatch{ReviewerID: &adminID, ApprovedAt: &now}, "approve"); err != nil {
			return err
		}
		w.ReviewerID = &adminID
		w.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("withdrawal approved", "withdrawalNo", w.WithdrawalNo, "adminID", adminID)
	s.publish(ctx, events.New(events.WithdrawalApproved, w.ApplicantID, w.ClubID, map[string]any{"withdrawal_id": w.ID}))
	return w, nil
}

// Reject returns the frozen amount to the available balance.
func (s *WithdrawalService) Reject(ctx context.Context, adminID, id uint, reason string) (*mxm.Withdrawal, error) {
	w, err := s.review(ctx, adminID, id, func(ctx context.Context, w *mxm.Withdrawal) error {
		if err := s.transition(ctx, w, mxm.WithdrawalStatusPending, mxm.WithdrawalStatusRejected,
			dao.WithdrawalPatch{ReviewerID: &adminID, RejectReason: reason}, "reject"); err != nil {
			return err
		}
		w.ReviewerID = &adminID
		w.RejectReason = reason
		_, err := s.ledger.Unfreeze(ctx, w.ClubID, w.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("withdrawal rejected", "withdrawalNo", w.WithdrawalNo, "adminID", adminID)
	s.publish(ctx, events.New(events.WithdrawalRejected, w.ApplicantID, w.ClubID, map[string]any{
		"withdrawal_id": w.ID,
		"reason":        reason,
	}))
	return w, nil
}

// Complete records the bank transfer: balance and frozen balance both drop
// by the amount and a WITHDRAWAL row is appended.
func (s *WithdrawalService) Complete(ctx context.Context, adminID, id uint) (*mxm.Withdrawal, error) {
	w, err := s.review(ctx, adminID, id, func(ctx context.Context, w *mxm.Withdrawal) error {
		now := s.now()
		if err := s.transition(ctx, w, mxm.WithdrawalStatusApproved, mxm.WithdrawalStatusCompleted,
			dao.WithdrawalPatch{CompletedAt: &now}, "complete"); err != nil {
			return err
		}
		w.CompletedAt = &now
		_, err := s.ledger.SettleWithdrawal(ctx, w.ClubID, w.Amount, LedgerRef{
			Type:   "withdrawal",
			ID:     w.ID,
			Remark: w.WithdrawalNo,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("withdrawal completed", "withdrawalNo", w.WithdrawalNo, "amount", w.Amount.StringFixed(2))
	s.publish(ctx, events.New(events.WithdrawalCompleted, w.ApplicantID, w.ClubID, map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount.StringFixed(2),
	}))
	return w, nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID, clubID uint) ([]*mxm.Withdrawal, error) {
	if err := requireOperator(ctx, s.auth, userID, clubID); err != nil {
		if !errors.Is(err, ErrForbidden) {
			return nil, err
		}
		if adminErr := requireAdmin(ctx, s.auth, userID); adminErr != nil {
			return nil, err
		}
	}
	return s.repo.ListWithdrawalsByClub(ctx, clubID)
}

func (s *WithdrawalService) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}
