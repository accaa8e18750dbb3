package services

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Daneel-Li/clubpay/internal/config"
	"github.com/Daneel-Li/clubpay/internal/dao/daotest"
	"github.com/Daneel-Li/clubpay/internal/events"
	mxm "github.com/Daneel-Li/clubpay/internal/models"
	"github.com/Daneel-Li/clubpay/internal/vendors"
	"github.com/Daneel-Li/clubpay/pkg/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	userAlice uint = 1
	userOwner uint = 2
	userAdmin uint = 3
	userBob   uint = 4

	clubID     uint = 10
	activityID uint = 100
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePrepay(ctx context.Context, req vendors.PrepayRequest) (*vendors.PrepayResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*vendors.PrepayResult)
	return res, args.Error(1)
}

func (m *mockGateway) QueryByOrderNo(ctx context.Context, orderNo string) (*vendors.TradeResult, error) {
	args := m.Called(ctx, orderNo)
	res, _ := args.Get(0).(*vendors.TradeResult)
	return res, args.Error(1)
}

func (m *mockGateway) CloseOrder(ctx context.Context, orderNo string) error {
	return m.Called(ctx, orderNo).Error(0)
}

func (m *mockGateway) Refund(ctx context.Context, req vendors.RefundRequest) (*vendors.RefundResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*vendors.RefundResult)
	return res, args.Error(1)
}

func (m *mockGateway) ParseNotify(ctx context.Context, r *http.Request) (*vendors.TradeResult, error) {
	args := m.Called(ctx, r)
	res, _ := args.Get(0).(*vendors.TradeResult)
	return res, args.Error(1)
}

func (m *mockGateway) ClientParams(ctx context.Context, prepayID string) (*vendors.ClientParams, error) {
	args := m.Called(ctx, prepayID)
	res, _ := args.Get(0).(*vendors.ClientParams)
	return res, args.Error(1)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	repo  *daotest.Repo
	mr    *miniredis.Miniredis
	gw    *mockGateway
	pub   *recorder
	clock *clock
	cfg   *config.Config
	*Container
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	locker := lock.NewRedisLocker(rdb, lock.Options{Prefix: "lock:", Retries: 2, RetryDelay: 5 * time.Millisecond})

	cfg := config.Defaults()
	cfg.Verification.Secret = "test-secret"
	cfg.JwtKey = []byte("test-jwt-key")

	h := &harness{
		repo:  daotest.New(),
		mr:    mr,
		gw:    &mockGateway{},
		pub:   &recorder{},
		clock: &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		cfg:   cfg,
	}
	h.Container = NewContainer(cfg, h.repo, locker, h.gw, h.pub)
	h.Enrollments.now = h.clock.Now
	h.Orders.now = h.clock.Now
	h.Payments.now = h.clock.Now
	h.Refunds.now = h.clock.Now
	h.Settlements.now = h.clock.Now
	h.Withdrawals.now = h.clock.Now

	h.repo.AddUser(mxm.User{ID: userAlice, OpenID: "o-alice"})
	h.repo.AddUser(mxm.User{ID: userOwner, OpenID: "o-owner"})
	h.repo.AddUser(mxm.User{ID: userAdmin, OpenID: "o-admin", PlatformAdmin: true})
	h.repo.AddUser(mxm.User{ID: userBob, OpenID: "o-bob"})
	h.repo.AddClub(mxm.Club{
		ID:            clubID,
		Name:          "Trail Runners",
		OwnerID:       userOwner,
		BankName:      "ICBC",
		BankAccount:   "6222000011112222",
		AccountHolder: "Trail Runners Club",
	})
	h.addActivity(activityID, decimal.NewFromInt(100), 200*time.Hour, 0)
	return h
}

// waitForLocks gives the order and payment services a locker that keeps
// retrying long enough to queue behind a held order lock.
func (h *harness) waitForLocks(t *testing.T) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: h.mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	locker := lock.NewRedisLocker(rdb, lock.Options{Prefix: "lock:", Retries: 400, RetryDelay: 5 * time.Millisecond})
	h.Orders.locker = locker
	h.Payments.locker = locker
}

// addActivity seeds a PUBLISHED three hour activity starting startIn from now.
func (h *harness) addActivity(id uint, price decimal.Decimal, startIn time.Duration, capacity int) {
	start := h.clock.Now().Add(startIn)
	h.repo.AddActivity(mxm.Activity{
		ID:        id,
		ClubID:    clubID,
		Title:     "Night run",
		Price:     price,
		Capacity:  capacity,
		StartTime: start,
		EndTime:   start.Add(3 * time.Hour),
		Status:    mxm.ActivityStatusPublished,
	})
}

func (h *harness) expectPrepay() {
	h.gw.On("CreatePrepay", mock.Anything, mock.Anything).
		Return(&vendors.PrepayResult{PrepayID: "wx-prepay-1"}, nil).Maybe()
	h.gw.On("ClientParams", mock.Anything, mock.Anything).
		Return(&vendors.ClientParams{AppID: "wx-app", Package: "prepay_id=wx-prepay-1", SignType: "RSA"}, nil).Maybe()
}

// pendingOrder enrolls userID in the activity and opens an order.
func (h *harness) pendingOrder(t *testing.T, userID, actID uint) *mxm.Order {
	t.Helper()
	ctx := context.Background()
	e, err := h.Enrollments.CreateEnrollment(ctx, userID, actID)
	require.NoError(t, err)
	o, err := h.Orders.CreateOrder(ctx, userID, e.ID)
	require.NoError(t, err)
	return o
}

func successTrade(o *mxm.Order, txn string) *vendors.TradeResult {
	return &vendors.TradeResult{
		OrderNo:       o.OrderNo,
		TransactionID: txn,
		State:         vendors.TradeStateSuccess,
		AmountCents:   mxm.ToCents(o.TotalAmount),
	}
}

// paidOrder takes an order through prepay and a success notification.
func (h *harness) paidOrder(t *testing.T, userID, actID uint) *mxm.Order {
	t.Helper()
	ctx := context.Background()
	h.expectPrepay()
	o := h.pendingOrder(t, userID, actID)
	_, err := h.Payments.Prepay(ctx, userID, o.ID)
	require.NoError(t, err)
	outcome, err := h.Payments.applyNotification(ctx, successTrade(o, "txn-"+o.OrderNo))
	require.NoError(t, err)
	require.Equal(t, NotifyApplied, outcome)
	paid, err := h.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	return paid
}

func (h *harness) order(t *testing.T, id uint) *mxm.Order {
	t.Helper()
	o, err := h.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) enrollment(t *testing.T, id uint) *mxm.Enrollment {
	t.Helper()
	e, err := h.repo.GetEnrollment(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (h *harness) account(t *testing.T) *mxm.ClubAccount {
	t.Helper()
	a, err := h.repo.GetAccount(context.Background(), clubID)
	require.NoError(t, err)
	return a
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var _ vendors.PaymentGateway = (*mockGateway)(nil)

func uintStr(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
