package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Daneel-Li/clubpay/internal/dao"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/vendors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("new order", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)

		assert.Equal(t, mxm.OrderStatusPending, o.Status)
		assert.True(t, strings.HasPrefix(o.OrderNo, "AO20260501100000"), o.OrderNo)
		assert.Len(t, o.OrderNo, 24)
		assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, h.clock.Now().Add(15*time.Minute), o.ExpiresAt)
		assert.Equal(t, 1, h.pub.count(events.OrderCreated))
	})

	t.Run("idempotent while live", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)
		again, err := h.Orders.CreateOrder(ctx, userAlice, o.EnrollmentID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, again.ID)
		assert.Len(t, h.repo.Orders(), 1)
		assert.Equal(t, 1, h.pub.count(events.OrderCreated))
	})

	t.Run("supersedes an expired order", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)
		h.clock.Advance(16 * time.Minute)

		next, err := h.Orders.CreateOrder(ctx, userAlice, o.EnrollmentID)
		require.NoError(t, err)
		assert.NotEqual(t, o.ID, next.ID)
		assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, o.ID).Status)
	})

	t.Run("insurance add-on", func(t *testing.T) {
		h := newHarness(t)
		start := h.clock.Now().Add(72 * time.Hour)
		h.repo.AddActivity(mxm.Activity{
			ID:                104,
			ClubID:            clubID,
			Title:             "Two day hike",
			Price:             decimal.NewFromInt(300),
			InsuranceDailyFee: dec("5.50"),
			StartTime:         start,
			EndTime:           start.Add(26 * time.Hour),
			Status:            mxm.ActivityStatusPublished,
		})
		o := h.pendingOrder(t, userAlice, 104)

		assert.True(t, o.AddonFee.Equal(dec("11")), o.AddonFee.String())
		assert.True(t, o.TotalAmount.Equal(dec("311")), o.TotalAmount.String())
		assert.Equal(t, 1, h.repo.AddonsCount())

		detail, err := h.Orders.GetOrder(ctx, userAlice, o.ID)
		require.NoError(t, err)
		require.Len(t, detail.Addons, 1)
		assert.Equal(t, 2, detail.Addons[0].Days)
	})

	t.Run("same day activity is billed one day", func(t *testing.T) {
		h := newHarness(t)
		start := h.clock.Now().Add(72 * time.Hour)
		h.repo.AddActivity(mxm.Activity{
			ID:                105,
			ClubID:            clubID,
			Title:             "Evening ride",
			Price:             decimal.NewFromInt(20),
			InsuranceDailyFee: dec("3"),
			StartTime:         start,
			EndTime:           start.Add(2 * time.Hour),
			Status:            mxm.ActivityStatusPublished,
		})
		o := h.pendingOrder(t, userAlice, 105)
		assert.True(t, o.TotalAmount.Equal(dec("23")))
	})

	t.Run("other user", func(t *testing.T) {
		h := newHarness(t)
		e, err := h.Enrollments.CreateEnrollment(ctx, userAlice, activityID)
		require.NoError(t, err)
		_, err = h.Orders.CreateOrder(ctx, userBob, e.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("conflict while paying", func(t *testing.T) {
		h := newHarness(t)
		h.expectPrepay()
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Payments.Prepay(ctx, userAlice, o.ID)
		require.NoError(t, err)

		_, err = h.Orders.CreateOrder(ctx, userAlice, o.EnrollmentID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("paid enrollment", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		_, err := h.Orders.CreateOrder(ctx, userAlice, o.EnrollmentID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("order number collision is retried", func(t *testing.T) {
		h := newHarness(t)
		e, err := h.Enrollments.CreateEnrollment(ctx, userAlice, activityID)
		require.NoError(t, err)
		h.repo.FailOn("CreateOrder", dao.ErrDuplicate)
		o, err := h.Orders.CreateOrder(ctx, userAlice, e.ID)
		require.NoError(t, err)
		assert.Len(t, h.repo.Orders(), 1)
		assert.Equal(t, mxm.OrderStatusPending, o.Status)
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)

		cancelled, err := h.Orders.CancelOrder(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.OrderStatusCancelled, cancelled.Status)
		assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, o.ID).Status)
		// the user may order again
		assert.Equal(t, mxm.EnrollmentStatusPending, h.enrollment(t, o.EnrollmentID).Status)
		assert.Equal(t, 1, h.pub.count(events.OrderCancelled))

		_, err = h.Orders.CreateOrder(ctx, userAlice, o.EnrollmentID)
		assert.NoError(t, err)
	})

	t.Run("twice", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Orders.CancelOrder(ctx, userAlice, o.ID)
		require.NoError(t, err)
		_, err = h.Orders.CancelOrder(ctx, userAlice, o.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("other user", func(t *testing.T) {
		h := newHarness(t)
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Orders.CancelOrder(ctx, userBob, o.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("paying and unpaid at the gateway", func(t *testing.T) {
		h := newHarness(t)
		h.expectPrepay()
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Payments.Prepay(ctx, userAlice, o.ID)
		require.NoError(t, err)
		h.gw.On("QueryByOrderNo", mock.Anything, o.OrderNo).
			Return(&vendors.TradeResult{OrderNo: o.OrderNo, State: vendors.TradeStateNotPay}, nil)
		h.gw.On("CloseOrder", mock.Anything, o.OrderNo).Return(nil)

		_, err = h.Orders.CancelOrder(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, o.ID).Status)
		assert.Equal(t, mxm.PaymentStatusFailed, h.repo.Payments()[0].Status)
		h.gw.AssertCalled(t, "CloseOrder", mock.Anything, o.OrderNo)
	})

	t.Run("paying but paid at the gateway", func(t *testing.T) {
		h := newHarness(t)
		h.expectPrepay()
		o := h.pendingOrder(t, userAlice, activityID)
		_, err := h.Payments.Prepay(ctx, userAlice, o.ID)
		require.NoError(t, err)
		h.gw.On("QueryByOrderNo", mock.Anything, o.OrderNo).Return(successTrade(o, "txn-1"), nil)

		_, err = h.Orders.CancelOrder(ctx, userAlice, o.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, mxm.OrderStatusPaid, h.order(t, o.ID).Status)
		h.gw.AssertNotCalled(t, "CloseOrder", mock.Anything, mock.Anything)
	})

	t.Run("pending read while prepay holds the lock", func(t *testing.T) {
		h := newHarness(t)
		h.waitForLocks(t)
		entered := make(chan struct{})
		release := make(chan struct{})
		h.gw.On("CreatePrepay", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(entered)
				<-release
			}).
			Return(&vendors.PrepayResult{PrepayID: "wx-prepay-1"}, nil).Once()
		h.gw.On("ClientParams", mock.Anything, mock.Anything).
			Return(&vendors.ClientParams{AppID: "wx-app", Package: "prepay_id=wx-prepay-1", SignType: "RSA"}, nil).Maybe()
		o := h.pendingOrder(t, userAlice, activityID)

		prepayErr := make(chan error, 1)
		go func() {
			_, err := h.Payments.Prepay(ctx, userAlice, o.ID)
			prepayErr <- err
		}()
		<-entered

		cancelErr := make(chan error, 1)
		go func() {
			_, err := h.Orders.CancelOrder(ctx, userAlice, o.ID)
			cancelErr <- err
		}()
		time.Sleep(50 * time.Millisecond)
		close(release)

		require.NoError(t, <-prepayErr)
		assert.ErrorIs(t, <-cancelErr, ErrInvalidState)
		assert.Equal(t, mxm.OrderStatusPaying, h.order(t, o.ID).Status)
		h.gw.AssertNotCalled(t, "QueryByOrderNo", mock.Anything, mock.Anything)
		h.gw.AssertNotCalled(t, "CloseOrder", mock.Anything, mock.Anything)

		// a retry sees PAYING and closes the gateway transaction first
		h.gw.On("QueryByOrderNo", mock.Anything, o.OrderNo).
			Return(&vendors.TradeResult{OrderNo: o.OrderNo, State: vendors.TradeStateNotPay}, nil)
		h.gw.On("CloseOrder", mock.Anything, o.OrderNo).Return(nil)
		_, err := h.Orders.CancelOrder(ctx, userAlice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, o.ID).Status)
		h.gw.AssertCalled(t, "CloseOrder", mock.Anything, o.OrderNo)
	})
}

func TestExpireOrders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := h.clock.Now()
	past := now.Add(-time.Minute)

	put := func(status mxm.OrderStatus, expires time.Time) mxm.Order {
		return h.repo.PutOrder(mxm.Order{
			OrderNo:      "AO" + string(status) + expires.Format("150405"),
			EnrollmentID: 500,
			ActivityID:   activityID,
			UserID:       userAlice,
			Amount:       decimal.NewFromInt(100),
			TotalAmount:  decimal.NewFromInt(100),
			Status:       status,
			ExpiresAt:    expires,
		})
	}
	expired := put(mxm.OrderStatusPending, past)
	live := put(mxm.OrderStatusPending, now.Add(time.Minute))
	paid := put(mxm.OrderStatusPaid, past)
	cancelled := put(mxm.OrderStatusCancelled, past)
	paying := put(mxm.OrderStatusPaying, past)

	n, err := h.Orders.ExpireOrders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, expired.ID).Status)
	assert.Equal(t, mxm.OrderStatusPending, h.order(t, live.ID).Status)
	assert.Equal(t, mxm.OrderStatusPaid, h.order(t, paid.ID).Status)
	assert.Nil(t, h.order(t, paid.ID).CancelledAt)
	assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, cancelled.ID).Status)
	assert.Equal(t, mxm.OrderStatusPaying, h.order(t, paying.ID).Status)
	assert.Equal(t, 1, h.pub.count(events.OrderExpired))

	t.Run("second run is a no-op", func(t *testing.T) {
		n, err := h.Orders.ExpireOrders(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("overlapping run is skipped", func(t *testing.T) {
		other := put(mxm.OrderStatusPending, past.Add(-time.Second))
		h.Orders.sweeping.Store(true)
		n, err := h.Orders.ExpireOrders(ctx, now)
		h.Orders.sweeping.Store(false)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, mxm.OrderStatusPending, h.order(t, other.ID).Status)
	})

	t.Run("listing failure", func(t *testing.T) {
		h.repo.FailOn("ListOverdueOrders", errors.New("db down"))
		_, err := h.Orders.ExpireOrders(ctx, now)
		assert.Error(t, err)
	})
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("completes order and enrollment", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		require.NotEmpty(t, o.VerificationCode)

		checked, err := h.Orders.CheckIn(ctx, userOwner, o.VerificationCode)
		require.NoError(t, err)
		assert.Equal(t, mxm.OrderStatusCompleted, checked.Status)
		assert.Equal(t, mxm.OrderStatusCompleted, h.order(t, o.ID).Status)
		assert.Equal(t, mxm.EnrollmentStatusCheckedIn, h.enrollment(t, o.EnrollmentID).Status)
		assert.Equal(t, 1, h.pub.count(events.CheckinCompleted))

		_, err = h.Orders.CheckIn(ctx, userOwner, o.VerificationCode)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("club admin may check in", func(t *testing.T) {
		h := newHarness(t)
		h.repo.AddClubMember(mxm.ClubMember{ClubID: clubID, UserID: userBob, Role: mxm.ClubRoleAdmin})
		o := h.paidOrder(t, userAlice, activityID)
		_, err := h.Orders.CheckIn(ctx, userBob, o.VerificationCode)
		assert.NoError(t, err)
	})

	t.Run("outsider", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		_, err := h.Orders.CheckIn(ctx, userBob, o.VerificationCode)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("forged code", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		forged := NewVerificationCodec("other-secret", 0).Generate(o.ID, h.clock.Now())
		_, err := h.Orders.CheckIn(ctx, userOwner, forged)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("superseded code", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		older := NewVerificationCodec(h.cfg.Verification.Secret, 0).Generate(o.ID, h.clock.Now().Add(-time.Hour))
		_, err := h.Orders.CheckIn(ctx, userOwner, older)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("expired code", func(t *testing.T) {
		h := newHarness(t)
		o := h.paidOrder(t, userAlice, activityID)
		h.clock.Advance(8 * 24 * time.Hour)
		_, err := h.Orders.CheckIn(ctx, userOwner, o.VerificationCode)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestListMyOrders(t *testing.T) {
	h := newHarness(t)
	h.addActivity(101, decimal.NewFromInt(30), 48*time.Hour, 0)
	first := h.pendingOrder(t, userAlice, activityID)
	h.pendingOrder(t, userAlice, 101)
	_, err := h.Orders.CancelOrder(context.Background(), userAlice, first.ID)
	require.NoError(t, err)

	all, err := h.Orders.ListMyOrders(context.Background(), userAlice, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := h.Orders.ListMyOrders(context.Background(), userAlice, []mxm.OrderStatus{mxm.OrderStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, uint(101), pending[0].ActivityID)
}
