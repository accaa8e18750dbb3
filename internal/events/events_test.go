package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew(t *testing.T) {
	ev := New(PaymentSucceeded, 7, 3, map[string]any{"order_no": "AO1"})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, PaymentSucceeded, ev.Type)
	assert.Equal(t, uint(7), ev.UserID)
	assert.Equal(t, uint(3), ev.ClubID)
	assert.WithinDuration(t, time.Now(), ev.OccurredAt, time.Second)
	assert.NotEqual(t, ev.ID, New(PaymentSucceeded, 7, 3, nil).ID)
}

func TestMulti(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("broker down")}
	m := Multi{ok, bad, Nop{}}

	err := m.Publish(context.Background(), New(OrderCreated, 1, 0, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())

	assert.NoError(t, Multi{ok}.Publish(context.Background(), New(OrderCreated, 1, 0, nil)))
}

func TestAsyncPublisherNeverFails(t *testing.T) {
	next := &recorder{err: errors.New("unreachable")}
	p := NewAsyncPublisher(next, 2, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // a finished request must not prevent delivery

	for i := 0; i < 5; i++ {
		assert.NoError(t, p.Publish(ctx, New(RefundCompleted, 1, 2, nil)))
	}
	assert.Eventually(t, func() bool { return next.count() == 5 }, 2*time.Second, 10*time.Millisecond)
}
