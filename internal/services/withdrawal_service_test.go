package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fundClub(h *harness, balance string) {
	h.repo.SetAccount(mxm.ClubAccount{ClubID: clubID, Balance: dec(balance), TotalIncome: dec(balance)})
}

func TestWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fundClub(h, "190")

	w, err := h.Withdrawals.Create(ctx, userOwner, clubID, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, mxm.WithdrawalStatusPending, w.Status)
	assert.True(t, strings.HasPrefix(w.WithdrawalNo, "WD20260501100000"))
	assert.Equal(t, "6222000011112222", w.BankAccount)
	assert.True(t, w.Fee.IsZero())
	assert.True(t, w.ActualAmount.Equal(dec("100")))

	acct := h.account(t)
	assert.True(t, acct.Balance.Equal(dec("190")))
	assert.True(t, acct.FrozenBalance.Equal(dec("100")))
	assert.True(t, acct.AvailableBalance().Equal(dec("90")))
	assert.Empty(t, h.repo.Transactions(clubID))

	_, err = h.Withdrawals.Complete(ctx, userAdmin, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.Withdrawals.Approve(ctx, userOwner, w.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	approved, err := h.Withdrawals.Approve(ctx, userAdmin, w.ID)
	require.NoError(t, err)
	assert.Equal(t, mxm.WithdrawalStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, h.account(t).FrozenBalance.Equal(dec("100")))

	done, err := h.Withdrawals.Complete(ctx, userAdmin, w.ID)
	require.NoError(t, err)
	assert.Equal(t, mxm.WithdrawalStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	acct = h.account(t)
	assert.True(t, acct.Balance.Equal(dec("90")))
	assert.True(t, acct.FrozenBalance.IsZero())
	assert.True(t, acct.TotalWithdraw.Equal(dec("100")))

	rows := h.repo.Transactions(clubID)
	require.Len(t, rows, 1)
	assert.Equal(t, mxm.TransactionTypeWithdrawal, rows[0].Type)
	assert.True(t, rows[0].Amount.Equal(dec("-100")))
	assert.True(t, rows[0].BalanceBefore.Equal(dec("190")))
	assert.True(t, rows[0].BalanceAfter.Equal(dec("90")))
	assert.Equal(t, w.WithdrawalNo, rows[0].Remark)

	_, err = h.Withdrawals.Complete(ctx, userAdmin, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 1, h.pub.count(events.WithdrawalCreated))
	assert.Equal(t, 1, h.pub.count(events.WithdrawalApproved))
	assert.Equal(t, 1, h.pub.count(events.WithdrawalCompleted))
}

func TestCreateWithdrawalRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fundClub(h, "190")
	h.repo.AddClub(mxm.Club{ID: 11, Name: "No Bank", OwnerID: userOwner})
	h.repo.SetAccount(mxm.ClubAccount{ClubID: 11, Balance: dec("50")})

	tests := []struct {
		name   string
		user   uint
		club   uint
		amount string
		want   error
	}{
		{"more than available", userOwner, clubID, "190.01", ErrValidation},
		{"below the minimum", userOwner, clubID, "0.50", ErrValidation},
		{"zero", userOwner, clubID, "0", ErrValidation},
		{"negative", userOwner, clubID, "-5", ErrValidation},
		{"three decimals", userOwner, clubID, "10.005", ErrValidation},
		{"no bank details", userOwner, 11, "10", ErrValidation},
		{"not an operator", userBob, clubID, "10", ErrForbidden},
		{"platform admin is not an operator", userAdmin, clubID, "10", ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Withdrawals.Create(ctx, tt.user, tt.club, dec(tt.amount))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.True(t, h.account(t).FrozenBalance.IsZero())
	ws, err := h.Withdrawals.ListWithdrawals(ctx, userOwner, clubID)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestRejectWithdrawal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fundClub(h, "190")

	w, err := h.Withdrawals.Create(ctx, userOwner, clubID, dec("150"))
	require.NoError(t, err)
	_, err = h.Withdrawals.Create(ctx, userOwner, clubID, dec("50"))
	assert.ErrorIs(t, err, ErrValidation)

	rejected, err := h.Withdrawals.Reject(ctx, userAdmin, w.ID, "bank account closed")
	require.NoError(t, err)
	assert.Equal(t, mxm.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, "bank account closed", rejected.RejectReason)
	assert.True(t, h.account(t).FrozenBalance.IsZero())
	assert.True(t, h.account(t).Balance.Equal(dec("190")))

	_, err = h.Withdrawals.Reject(ctx, userAdmin, w.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.Withdrawals.Approve(ctx, userAdmin, w.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.Withdrawals.Create(ctx, userOwner, clubID, dec("50"))
	assert.NoError(t, err)
	assert.Equal(t, 1, h.pub.count(events.WithdrawalRejected))
}

func TestWithdrawalFee(t *testing.T) {
	h := newHarness(t)
	fundClub(h, "190")
	h.Withdrawals.feeRate = decimal.NewFromFloat(0.006)

	w, err := h.Withdrawals.Create(context.Background(), userOwner, clubID, dec("100"))
	require.NoError(t, err)
	assert.True(t, w.Fee.Equal(dec("0.60")))
	assert.True(t, w.ActualAmount.Equal(dec("99.40")))
	assert.True(t, h.account(t).FrozenBalance.Equal(dec("100")))
}

func TestConcurrentWithdrawals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fundClub(h, "190")

	var mu sync.Mutex
	created := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Withdrawals.Create(ctx, userOwner, clubID, dec("60"))
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acct := h.account(t)
	assert.LessOrEqual(t, created, 3)
	assert.GreaterOrEqual(t, created, 1)
	assert.True(t, acct.FrozenBalance.Equal(dec("60").Mul(decimal.NewFromInt(int64(created)))))
	assert.True(t, acct.FrozenBalance.LessThanOrEqual(acct.Balance))
}

func TestListWithdrawals(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	fundClub(h, "190")
	first, err := h.Withdrawals.Create(ctx, userOwner, clubID, dec("10"))
	require.NoError(t, err)
	second, err := h.Withdrawals.Create(ctx, userOwner, clubID, dec("20"))
	require.NoError(t, err)

	ws, err := h.Withdrawals.ListWithdrawals(ctx, userOwner, clubID)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, second.ID, ws[0].ID)
	assert.Equal(t, first.ID, ws[1].ID)

	ws, err = h.Withdrawals.ListWithdrawals(ctx, userAdmin, clubID)
	require.NoError(t, err)
	assert.Len(t, ws, 2)

	_, err = h.Withdrawals.ListWithdrawals(ctx, userBob, clubID)
	assert.ErrorIs(t, err, ErrForbidden)
}
