package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic sweeps. A job whose previous run is still
// going is skipped, not queued.
type Scheduler struct {
	cron *cron.Cron
}

type ScheduleSpec struct {
	OrderExpiry    string
	PayingOrders   string
	SettlementScan string
	JobTimeout     time.Duration
}

func NewScheduler(spec ScheduleSpec, orders *OrderService, payments *PaymentService, settlements *SettlementService) (*Scheduler, error) {
	if spec.JobTimeout <= 0 {
		spec.JobTimeout = 5 * time.Minute
	}
	// recovered panics reach the error log; skips stay quiet
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{"order expiry", spec.OrderExpiry, func(ctx context.Context) (int, error) {
			return orders.ExpireOrders(ctx, orders.now())
		}},
		{"paying order reconcile", spec.PayingOrders, payments.ReconcilePayingOrders},
		{"settlement sweep", spec.SettlementScan, func(ctx context.Context) (int, error) {
			return settlements.SweepSettlements(ctx, settlements.now())
		}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			slog.Warn("job disabled", "job", j.name)
			continue
		}
		j := j
		_, err := c.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), spec.JobTimeout)
			defer cancel()
			n, err := j.run(ctx)
			if err != nil {
				slog.Error("job failed", "job", j.name, "error", err)
				return
			}
			if n > 0 {
				slog.Info("job done", "job", j.name, "processed", n)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
