package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/vendors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRefundPercent(t *testing.T) {
	standard := mxm.RefundPolicy{
		Tiers:         []mxm.RefundTier{{HoursBeforeStart: 24, Percent: 50}, {HoursBeforeStart: 168, Percent: 100}, {HoursBeforeStart: 72, Percent: 80}},
		NoRefundHours: 24,
	}
	gapped := mxm.RefundPolicy{
		Tiers:         []mxm.RefundTier{{HoursBeforeStart: 168, Percent: 100}, {HoursBeforeStart: 72, Percent: 80}, {HoursBeforeStart: 48, Percent: 40}},
		NoRefundHours: 12,
	}

	tests := []struct {
		name   string
		policy mxm.RefundPolicy
		hours  float64
		want   int
	}{
		{"well ahead", standard, 200, 100},
		{"exactly on a tier", standard, 168, 100},
		{"middle tier", standard, 100, 80},
		{"last tier", standard, 50, 50},
		{"inside the no-refund window", standard, 10, 0},
		{"edge of the no-refund window", standard, 24, 50},
		{"already started", standard, -1, 0},
		{"below every tier falls back to the least generous", gapped, 30, 40},
		{"no tiers", mxm.RefundPolicy{}, 500, 0},
		{"percent is capped", mxm.RefundPolicy{Tiers: []mxm.RefundTier{{HoursBeforeStart: 0, Percent: 150}}}, 5, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefundPercent(tt.policy, tt.hours))
		})
	}
}

func TestPreviewRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("full refund well ahead", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.True(t, q.Refundable)
		assert.Equal(t, 100, q.Percent)
		assert.True(t, q.Amount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("half refund at fifty hours", func(t *testing.T) {
		h := newHarness(t)
		h.addActivity(101, dec("99.99"), 50*time.Hour, 0)
		o := h.paidOrder(t, userAlice, 101)
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, q.Percent)
		assert.True(t, q.Amount.Equal(dec("50")), q.Amount.String())
	})

	t.Run("not refundable at ten hours", func(t *testing.T) {
		h := newHarness(t)
		h.addActivity(101, dec("80"), 10*time.Hour, 0)
		o := h.paidOrder(t, userAlice, 101)
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.False(t, q.Refundable)
		assert.True(t, q.Amount.IsZero())

		_, err = h.Refunds.CreateRefund(ctx, userAlice, o.ID, "sick")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, mxm.OrderStatusPaid, h.order(t, o.ID).Status)
	})

	t.Run("club policy wins over the default", func(t *testing.T) {
		h := newHarness(t)
		club := clubID
		h.repo.AddRefundPolicy(mxm.RefundPolicy{ClubID: &club, Tiers: []mxm.RefundTier{{HoursBeforeStart: 0, Percent: 30}}})
		o := h.paidOrder(t, userAlice, activityID)
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 30, q.Percent)
	})

	t.Run("activity policy wins over the club", func(t *testing.T) {
		h := newHarness(t)
		club, act := clubID, activityID
		h.repo.AddRefundPolicy(mxm.RefundPolicy{ClubID: &club, Tiers: []mxm.RefundTier{{HoursBeforeStart: 0, Percent: 30}}})
		h.repo.AddRefundPolicy(mxm.RefundPolicy{ActivityID: &act, Tiers: []mxm.RefundTier{{HoursBeforeStart: 0, Percent: 90}}})
		o := h.paidOrder(t, userAlice, activityID)
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 90, q.Percent)
	})

	t.Run("unpaid order", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("add-on is not refunded", func(t *testing.T) {
		h := newHarness(t)
		start := h.clock.Now().Add(200 * time.Hour)
		h.repo.AddActivity(mxm.Activity{
			ID: 104, ClubID: clubID, Title: "Hike", Price: dec("100"), InsuranceDailyFee: dec("10"),
			StartTime: start, EndTime: start.Add(time.Hour), Status: mxm.ActivityStatusPublished,
		})
		o := h.paidOrder(t, userAlice, 104)
		require.True(t, o.TotalAmount.Equal(dec("110")))
		q, err := h.Refunds.PreviewRefund(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.True(t, q.Amount.Equal(dec("100")))
	})
}

func requestRefund(t *testing.T, h *harness) (*mxm.Order, *mxm.Refund) {
	t.Helper()
	o := h.paidOrder(t, userAlice, activityID)
	r, err := h.Refunds.CreateRefund(context.Background(), userAlice, o.ID, "cannot make it")
	require.NoError(t, err)
	return o, r
}

func TestCreateRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o, r := requestRefund(t, h)

	assert.Equal(t, mxm.RefundStatusPending, r.Status)
	assert.True(t, strings.HasPrefix(r.RefundNo, "RF"))
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, mxm.OrderStatusRefunding, h.order(t, o.ID).Status)
	assert.Equal(t, 1, h.pub.count(events.RefundRequested))

	_, err := h.Refunds.CreateRefund(ctx, userAlice, o.ID, "again")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.Refunds.CreateRefund(ctx, userBob, o.ID, "not mine")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApproveRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("completes at the gateway", func(t *testing.T) {
		h := newHarness(t)
		o, r := requestRefund(t, h)
		h.gw.On("Refund", mock.Anything, mock.MatchedBy(func(req vendors.RefundRequest) bool {
			return req.RefundNo == r.RefundNo && req.OrderNo == o.OrderNo && req.RefundCents == 10000 && req.TotalCents == 10000
		})).Return(&vendors.RefundResult{RefundID: "50300001", State: vendors.RefundStateProcessing}, nil)

		done, err := h.Refunds.ApproveRefund(ctx, userOwner, r.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.RefundStatusCompleted, done.Status)
		assert.Equal(t, "50300001", done.GatewayRefundID)

		stored, err := h.repo.GetRefund(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.RefundStatusCompleted, stored.Status)
		assert.Equal(t, userOwner, *stored.ReviewerID)
		assert.Equal(t, mxm.OrderStatusRefunded, h.order(t, o.ID).Status)
		assert.Equal(t, mxm.EnrollmentStatusRefunded, h.enrollment(t, o.EnrollmentID).Status)
		assert.Equal(t, 1, h.pub.count(events.RefundCompleted))

		_, err = h.Refunds.ApproveRefund(ctx, userOwner, r.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("gateway failure leaves it approved for a retry", func(t *testing.T) {
		h := newHarness(t)
		o, r := requestRefund(t, h)
		h.gw.On("Refund", mock.Anything, mock.Anything).Return(nil, errors.New("SYSTEMERROR")).Once()
		h.gw.On("Refund", mock.Anything, mock.Anything).
			Return(&vendors.RefundResult{RefundID: "50300002", State: vendors.RefundStateSuccess}, nil).Once()

		_, err := h.Refunds.ApproveRefund(ctx, userOwner, r.ID)
		require.ErrorIs(t, err, ErrGatewayFailure)

		stored, err := h.repo.GetRefund(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.RefundStatusApproved, stored.Status)
		assert.Contains(t, stored.FailReason, "SYSTEMERROR")
		assert.Equal(t, mxm.OrderStatusRefunding, h.order(t, o.ID).Status)
		assert.Equal(t, 1, h.pub.count(events.RefundFailed))

		done, err := h.Refunds.RetryRefund(ctx, userOwner, r.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.RefundStatusCompleted, done.Status)
		assert.Equal(t, mxm.OrderStatusRefunded, h.order(t, o.ID).Status)
	})

	t.Run("rejected by the gateway", func(t *testing.T) {
		h := newHarness(t)
		_, r := requestRefund(t, h)
		h.gw.On("Refund", mock.Anything, mock.Anything).
			Return(&vendors.RefundResult{RefundID: "50300003", State: vendors.RefundStateAbnormal}, nil)

		_, err := h.Refunds.ApproveRefund(ctx, userOwner, r.ID)
		assert.ErrorIs(t, err, ErrGatewayFailure)
		stored, err := h.repo.GetRefund(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.RefundStatusApproved, stored.Status)
	})

	t.Run("outsider", func(t *testing.T) {
		h := newHarness(t)
		_, r := requestRefund(t, h)
		_, err := h.Refunds.ApproveRefund(ctx, userBob, r.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("execution in flight", func(t *testing.T) {
		h := newHarness(t)
		_, r := requestRefund(t, h)
		require.NoError(t, h.mr.Set("lock:refund:execute:"+uintStr(r.ID), "other"))
		_, err := h.Refunds.ApproveRefund(ctx, userOwner, r.ID)
		assert.ErrorIs(t, err, ErrLockBusy)
	})

	t.Run("retry of a pending refund", func(t *testing.T) {
		h := newHarness(t)
		_, r := requestRefund(t, h)
		_, err := h.Refunds.RetryRefund(ctx, userOwner, r.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestRejectRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	o, r := requestRefund(t, h)

	rejected, err := h.Refunds.RejectRefund(ctx, userOwner, r.ID, "too late")
	require.NoError(t, err)
	assert.Equal(t, mxm.RefundStatusRejected, rejected.Status)
	assert.Equal(t, "too late", rejected.RejectReason)
	assert.Equal(t, mxm.OrderStatusPaid, h.order(t, o.ID).Status)
	assert.Equal(t, 1, h.pub.count(events.RefundRejected))

	_, err = h.Refunds.RejectRefund(ctx, userOwner, r.ID, "twice")
	assert.ErrorIs(t, err, ErrInvalidState)

	view, err := h.Refunds.GetRefund(ctx, userAlice, r.ID)
	require.NoError(t, err)
	assert.Equal(t, mxm.RefundStatusRejected, view.Status)
	_, err = h.Refunds.GetRefund(ctx, userBob, r.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRefundNeverExceedsOrderAmount(t *testing.T) {
	h := newHarness(t)
	act := activityID
	h.repo.AddRefundPolicy(mxm.RefundPolicy{ActivityID: &act, Tiers: []mxm.RefundTier{{HoursBeforeStart: 0, Percent: 250}}})
	_, r := requestRefund(t, h)
	assert.True(t, r.Amount.LessThanOrEqual(decimal.NewFromInt(100)))
	assert.True(t, r.Amount.IsPositive())
}
