package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	h := newHarness(t)

	t.Run("bad spec", func(t *testing.T) {
		_, err := NewScheduler(ScheduleSpec{OrderExpiry: "every now and then"}, h.Orders, h.Payments, h.Settlements)
		assert.ErrorContains(t, err, "order expiry")
	})

	t.Run("empty specs disable jobs", func(t *testing.T) {
		s, err := NewScheduler(ScheduleSpec{SettlementScan: "@every 1h"}, h.Orders, h.Payments, h.Settlements)
		require.NoError(t, err)
		assert.Len(t, s.cron.Entries(), 1)
	})

	t.Run("configured jobs", func(t *testing.T) {
		s, err := h.Container.NewScheduler(h.cfg)
		require.NoError(t, err)
		assert.Len(t, s.cron.Entries(), 3)

		s.Start()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	})
}

func TestSchedulerRunsOrderExpiry(t *testing.T) {
	h := newHarness(t)
	o := h.pendingOrder(t, userAlice, activityID)
	h.clock.Advance(16 * time.Minute)

	s, err := NewScheduler(ScheduleSpec{OrderExpiry: "@every 1m"}, h.Orders, h.Payments, h.Settlements)
	require.NoError(t, err)
	entries := s.cron.Entries()
	require.Len(t, entries, 1)

	entries[0].WrappedJob.Run()
	assert.Equal(t, mxm.OrderStatusCancelled, h.order(t, o.ID).Status)
}

func TestSchedulerLogsRecoveredPanic(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(t)
	// a zero SettlementService has no clock, so the sweep panics
	s, err := NewScheduler(ScheduleSpec{SettlementScan: "@every 1h"}, h.Orders, h.Payments, &SettlementService{})
	require.NoError(t, err)
	entries := s.cron.Entries()
	require.Len(t, entries, 1)

	assert.NotPanics(t, entries[0].WrappedJob.Run)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "panic")
}
