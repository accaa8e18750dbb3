package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
)

// AsyncPublisher hands events to a goroutine pool and returns immediately.
// Delivery errors are logged, never returned.
type AsyncPublisher struct {
	pool    gopool.Pool
	next    Publisher
	timeout time.Duration
}

func NewAsyncPublisher(next Publisher, workers int32, timeout time.Duration) *AsyncPublisher {
	if workers < 1 {
		workers = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncPublisher{
		pool:    gopool.NewPool("event_pool", workers, gopool.NewConfig()),
		next:    next,
		timeout: timeout,
	}
}

func (a *AsyncPublisher) Publish(ctx context.Context, ev Event) error {
	// the caller's request context may be cancelled before delivery runs
	base := context.WithoutCancel(ctx)
	a.pool.CtxGo(base, func() {
		ctx, cancel := context.WithTimeout(base, a.timeout)
		defer cancel()
		if err := a.next.Publish(ctx, ev); err != nil {
			slog.Warn("publish event failed", "type", ev.Type, "id", ev.ID, "error", err)
		}
	})
	return nil
}
