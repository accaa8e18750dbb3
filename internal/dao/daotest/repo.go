// Package daotest provides an in-memory dao.Repository for service tests.
// Units of work are serialized and rolled back from a snapshot on error, so
// atomicity of multi-row writes can be asserted without a database.
package daotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Daneel-Li/clubpay/internal/dao"
	mxm "github.com/Daneel-Li/clubpay/internal/models"

	"github.com/shopspring/decimal"
)

type store struct {
	seq          uint
	users        map[uint]mxm.User
	activities   map[uint]mxm.Activity
	clubs        map[uint]mxm.Club
	members      []mxm.ClubMember
	enrollments  map[uint]mxm.Enrollment
	orders       map[uint]mxm.Order
	addons       map[uint]mxm.OrderAddon
	payments     map[uint]mxm.Payment // keyed by order id
	refunds      map[uint]mxm.Refund
	policies     []mxm.RefundPolicy
	settlements  map[uint]mxm.Settlement
	withdrawals  map[uint]mxm.Withdrawal
	accounts     map[uint]mxm.ClubAccount // keyed by club id
	transactions []mxm.Transaction
}

func newStore() *store {
	return &store{
		users:       map[uint]mxm.User{},
		activities:  map[uint]mxm.Activity{},
		clubs:       map[uint]mxm.Club{},
		enrollments: map[uint]mxm.Enrollment{},
		orders:      map[uint]mxm.Order{},
		addons:      map[uint]mxm.OrderAddon{},
		payments:    map[uint]mxm.Payment{},
		refunds:     map[uint]mxm.Refund{},
		settlements: map[uint]mxm.Settlement{},
		withdrawals: map[uint]mxm.Withdrawal{},
		accounts:    map[uint]mxm.ClubAccount{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *store) clone() *store {
	return &store{
		seq:          s.seq,
		users:        cloneMap(s.users),
		activities:   cloneMap(s.activities),
		clubs:        cloneMap(s.clubs),
		members:      append([]mxm.ClubMember(nil), s.members...),
		enrollments:  cloneMap(s.enrollments),
		orders:       cloneMap(s.orders),
		addons:       cloneMap(s.addons),
		payments:     cloneMap(s.payments),
		refunds:      cloneMap(s.refunds),
		policies:     append([]mxm.RefundPolicy(nil), s.policies...),
		settlements:  cloneMap(s.settlements),
		withdrawals:  cloneMap(s.withdrawals),
		accounts:     cloneMap(s.accounts),
		transactions: append([]mxm.Transaction(nil), s.transactions...),
	}
}

// Repo is a goroutine-safe in-memory implementation of dao.Repository.
type Repo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	s    *store

	// failures holds one-shot errors injected by FailOn.
	failMu   sync.Mutex
	failures map[string]error
}

var _ dao.Repository = (*Repo)(nil)

func New() *Repo {
	return &Repo{s: newStore(), failures: map[string]error{}}
}

type txKey struct{}

// Exec serializes units of work against each other only. Rollback restores
// the whole store from the snapshot taken at the start, so a write made
// outside any unit by another goroutine in the meantime is lost as well.
// Concurrent tests must route every write through Exec or avoid failing
// units.
func (r *Repo) Exec(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snapshot := r.s.clone()
	r.mu.Unlock()

	rollback := func() {
		r.mu.Lock()
		r.s = snapshot
		r.mu.Unlock()
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		rollback()
	}
	return err
}

// FailOn makes the next call to the named repository method return err.
func (r *Repo) FailOn(method string, err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	r.failures[method] = err
}

func (r *Repo) injected(method string) error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if err, ok := r.failures[method]; ok {
		delete(r.failures, method)
		return err
	}
	return nil
}

func (r *Repo) nextID() uint {
	r.s.seq++
	return r.s.seq
}

// ---- seeding helpers ----

func (r *Repo) AddUser(u mxm.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.users[u.ID] = u
}

func (r *Repo) AddActivity(a mxm.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.activities[a.ID] = a
}

func (r *Repo) SetActivityStatus(id uint, status mxm.ActivityStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.s.activities[id]
	a.Status = status
	r.s.activities[id] = a
}

func (r *Repo) AddClub(c mxm.Club) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.clubs[c.ID] = c
}

func (r *Repo) AddClubMember(m mxm.ClubMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.members = append(r.s.members, m)
}

func (r *Repo) AddRefundPolicy(p mxm.RefundPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.policies = append(r.s.policies, p)
}

// SetAccount overwrites the club account, creating it if needed.
func (r *Repo) SetAccount(a mxm.ClubAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == 0 {
		if old, ok := r.s.accounts[a.ClubID]; ok {
			a.ID = old.ID
		} else {
			a.ID = r.nextID()
		}
	}
	r.s.accounts[a.ClubID] = a
}

// PutOrder stores o as-is, assigning an ID if it has none.
func (r *Repo) PutOrder(o mxm.Order) mxm.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == 0 {
		o.ID = r.nextID()
	}
	r.s.orders[o.ID] = o
	return o
}

func (r *Repo) PutEnrollment(e mxm.Enrollment) mxm.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		e.ID = r.nextID()
	}
	r.s.enrollments[e.ID] = e
	return e
}

func (r *Repo) PutRefund(f mxm.Refund) mxm.Refund {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == 0 {
		f.ID = r.nextID()
	}
	r.s.refunds[f.ID] = f
	return f
}

// ---- inspection helpers ----

func (r *Repo) Orders() []mxm.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mxm.Order, 0, len(r.s.orders))
	for _, o := range r.s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repo) Payments() []mxm.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mxm.Payment, 0, len(r.s.payments))
	for _, p := range r.s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repo) Transactions(clubID uint) []mxm.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mxm.Transaction
	for _, t := range r.s.transactions {
		if t.ClubID == clubID {
			out = append(out, t)
		}
	}
	return out
}

func (r *Repo) AddonsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.s.addons)
}

// ---- ActivityRepository ----

func (r *Repo) GetActivity(ctx context.Context, id uint) (*mxm.Activity, error) {
	if err := r.injected("GetActivity"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &a, nil
}

func (r *Repo) LockActivity(ctx context.Context, id uint) (*mxm.Activity, error) {
	return r.GetActivity(ctx, id)
}

func (r *Repo) ListSettleableActivities(ctx context.Context, endedBefore time.Time, limit int) ([]*mxm.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	settled := map[uint]bool{}
	for _, s := range r.s.settlements {
		if s.Status == mxm.SettlementStatusCompleted {
			settled[s.ActivityID] = true
		}
	}
	var out []*mxm.Activity
	for _, a := range r.s.activities {
		if a.Status == mxm.ActivityStatusCompleted && a.EndTime.Before(endedBefore) && !settled[a.ID] {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) GetClub(ctx context.Context, id uint) (*mxm.Club, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.s.clubs[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &c, nil
}

func (r *Repo) GetClubMember(ctx context.Context, clubID, userID uint) (*mxm.ClubMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.s.members {
		if m.ClubID == clubID && m.UserID == userID {
			m := m
			return &m, nil
		}
	}
	return nil, dao.ErrNotFound
}

// ---- UserRepository ----

func (r *Repo) GetUserByID(ctx context.Context, id uint) (*mxm.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &u, nil
}

// ---- EnrollmentRepository ----

func (r *Repo) CreateEnrollment(ctx context.Context, e *mxm.Enrollment) error {
	if err := r.injected("CreateEnrollment"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.nextID()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	r.s.enrollments[e.ID] = *e
	return nil
}

func (r *Repo) GetEnrollment(ctx context.Context, id uint) (*mxm.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &e, nil
}

func (r *Repo) FindLiveEnrollment(ctx context.Context, activityID, userID uint) (*mxm.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.s.enrollments {
		if e.ActivityID == activityID && e.UserID == userID && e.Status.IsLive() {
			e := e
			return &e, nil
		}
	}
	return nil, dao.ErrNotFound
}

func (r *Repo) CountLiveEnrollments(ctx context.Context, activityID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.s.enrollments {
		if e.ActivityID == activityID && e.Status.IsLive() {
			n++
		}
	}
	return n, nil
}

func (r *Repo) TransitionEnrollment(ctx context.Context, id uint, from []mxm.EnrollmentStatus, to mxm.EnrollmentStatus) (bool, error) {
	if err := r.injected("TransitionEnrollment"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || !contains(from, e.Status) {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	r.s.enrollments[id] = e
	return true, nil
}

func (r *Repo) ListEnrollmentsByUser(ctx context.Context, userID uint) ([]*mxm.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Enrollment
	for _, e := range r.s.enrollments {
		if e.UserID == userID {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ---- OrderRepository ----

func (r *Repo) CreateOrder(ctx context.Context, o *mxm.Order) error {
	if err := r.injected("CreateOrder"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.s.orders {
		if existing.OrderNo == o.OrderNo {
			return dao.ErrDuplicate
		}
	}
	o.ID = r.nextID()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	r.s.orders[o.ID] = *o
	return nil
}

func (r *Repo) CreateOrderAddon(ctx context.Context, a *mxm.OrderAddon) error {
	if err := r.injected("CreateOrderAddon"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = r.nextID()
	a.CreatedAt = time.Now()
	r.s.addons[a.ID] = *a
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id uint) (*mxm.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &o, nil
}

func (r *Repo) GetOrderByNo(ctx context.Context, orderNo string) (*mxm.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.s.orders {
		if o.OrderNo == orderNo {
			o := o
			return &o, nil
		}
	}
	return nil, dao.ErrNotFound
}

func (r *Repo) ListOrderAddons(ctx context.Context, orderID uint) ([]*mxm.OrderAddon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.OrderAddon
	for _, a := range r.s.addons {
		if a.OrderID == orderID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r *Repo) FindLiveOrder(ctx context.Context, enrollmentID uint, now time.Time) (*mxm.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *mxm.Order
	for _, o := range r.s.orders {
		if o.EnrollmentID == enrollmentID && o.Status == mxm.OrderStatusPending && o.ExpiresAt.After(now) {
			if found == nil || o.ID > found.ID {
				o := o
				found = &o
			}
		}
	}
	if found == nil {
		return nil, dao.ErrNotFound
	}
	return found, nil
}

func (r *Repo) ListOrdersByEnrollment(ctx context.Context, enrollmentID uint, statuses []mxm.OrderStatus) ([]*mxm.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Order
	for _, o := range r.s.orders {
		if o.EnrollmentID == enrollmentID && contains(statuses, o.Status) {
			o := o
			out = append(out, &o)
		}
	}
	return out, nil
}

func (r *Repo) TransitionOrder(ctx context.Context, id uint, from []mxm.OrderStatus, to mxm.OrderStatus, at time.Time) (bool, error) {
	if err := r.injected("TransitionOrder"); err != nil {
		return false, err
	}
	if err := mxm.CheckOrderTransition(from, to); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || !contains(from, o.Status) {
		return false, nil
	}
	o.Status = to
	switch to {
	case mxm.OrderStatusPaid:
		o.PaidAt = &at
	case mxm.OrderStatusCancelled:
		o.CancelledAt = &at
	case mxm.OrderStatusCompleted:
		o.CompletedAt = &at
	}
	o.UpdatedAt = time.Now()
	r.s.orders[id] = o
	return true, nil
}

func (r *Repo) SetOrderVerificationCode(ctx context.Context, id uint, code string) error {
	if err := r.injected("SetOrderVerificationCode"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return dao.ErrNotFound
	}
	o.VerificationCode = code
	r.s.orders[id] = o
	return nil
}

func (r *Repo) ListOverdueOrders(ctx context.Context, status mxm.OrderStatus, now time.Time, limit int) ([]*mxm.Order, error) {
	if err := r.injected("ListOverdueOrders"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Order
	for _, o := range r.s.orders {
		if o.Status == status && o.ExpiresAt.Before(now) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) ListOrdersByUser(ctx context.Context, userID uint) ([]*mxm.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Repo) SumOrderAmounts(ctx context.Context, activityID uint, statuses []mxm.OrderStatus) (decimal.Decimal, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	n := 0
	for _, o := range r.s.orders {
		if o.ActivityID == activityID && contains(statuses, o.Status) {
			total = total.Add(o.Amount)
			n++
		}
	}
	return total, n, nil
}

func (r *Repo) CompletePaidOrders(ctx context.Context, activityID uint, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, o := range r.s.orders {
		if o.ActivityID == activityID && o.Status == mxm.OrderStatusPaid {
			o.Status = mxm.OrderStatusCompleted
			at := at
			o.CompletedAt = &at
			r.s.orders[id] = o
			n++
		}
	}
	return n, nil
}

// ---- PaymentRepository ----

func (r *Repo) GetPaymentByOrder(ctx context.Context, orderID uint) (*mxm.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.s.payments[orderID]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &p, nil
}

func (r *Repo) UpsertPendingPayment(ctx context.Context, p *mxm.Payment) error {
	if err := r.injected("UpsertPendingPayment"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Status = mxm.PaymentStatusPending
	if old, ok := r.s.payments[p.OrderID]; ok {
		old.PrepayID = p.PrepayID
		old.Amount = p.Amount
		old.Status = mxm.PaymentStatusPending
		old.FailReason = ""
		old.UpdatedAt = time.Now()
		r.s.payments[p.OrderID] = old
		*p = old
		return nil
	}
	p.ID = r.nextID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.payments[p.OrderID] = *p
	return nil
}

func (r *Repo) MarkPaymentSuccess(ctx context.Context, orderID uint, transactionID string, at time.Time) (bool, error) {
	if err := r.injected("MarkPaymentSuccess"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.s.payments[orderID]
	if !ok || p.Status == mxm.PaymentStatusSuccess {
		return false, nil
	}
	p.Status = mxm.PaymentStatusSuccess
	p.TransactionID = transactionID
	p.PaidAt = &at
	p.FailReason = ""
	r.s.payments[orderID] = p
	return true, nil
}

func (r *Repo) MarkPaymentFailed(ctx context.Context, orderID uint, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.s.payments[orderID]
	if !ok || p.Status != mxm.PaymentStatusPending {
		return false, nil
	}
	p.Status = mxm.PaymentStatusFailed
	p.FailReason = reason
	r.s.payments[orderID] = p
	return true, nil
}

// ---- RefundRepository ----

func (r *Repo) CreateRefund(ctx context.Context, f *mxm.Refund) error {
	if err := r.injected("CreateRefund"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.s.refunds {
		if existing.OrderID == f.OrderID {
			return dao.ErrDuplicate
		}
	}
	f.ID = r.nextID()
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	r.s.refunds[f.ID] = *f
	return nil
}

func (r *Repo) GetRefund(ctx context.Context, id uint) (*mxm.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.s.refunds[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &f, nil
}

func (r *Repo) GetRefundByOrder(ctx context.Context, orderID uint) (*mxm.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.s.refunds {
		if f.OrderID == orderID {
			f := f
			return &f, nil
		}
	}
	return nil, dao.ErrNotFound
}

func (r *Repo) TransitionRefund(ctx context.Context, id uint, from []mxm.RefundStatus, to mxm.RefundStatus, patch dao.RefundPatch) (bool, error) {
	if err := r.injected("TransitionRefund"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.s.refunds[id]
	if !ok || !contains(from, f.Status) {
		return false, nil
	}
	f.Status = to
	if patch.ReviewerID != nil {
		v := *patch.ReviewerID
		f.ReviewerID = &v
	}
	if patch.RejectReason != "" {
		f.RejectReason = patch.RejectReason
	}
	if patch.GatewayRefundID != "" {
		f.GatewayRefundID = patch.GatewayRefundID
	}
	if patch.FailReason != "" {
		f.FailReason = patch.FailReason
	}
	if patch.CompletedAt != nil {
		v := *patch.CompletedAt
		f.CompletedAt = &v
	}
	f.UpdatedAt = time.Now()
	r.s.refunds[id] = f
	return true, nil
}

func (r *Repo) SumCompletedRefunds(ctx context.Context, activityID uint) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, f := range r.s.refunds {
		if f.ActivityID == activityID && f.Status == mxm.RefundStatusCompleted {
			total = total.Add(f.Amount)
		}
	}
	return total, nil
}

func (r *Repo) CountOpenRefunds(ctx context.Context, activityID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, f := range r.s.refunds {
		if f.ActivityID == activityID && contains(mxm.OpenRefundStatuses, f.Status) {
			n++
		}
	}
	return n, nil
}

func (r *Repo) GetRefundPolicy(ctx context.Context, activityID, clubID uint) (*mxm.RefundPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.s.policies {
		if p.ActivityID != nil && *p.ActivityID == activityID {
			p := p
			return &p, nil
		}
	}
	for _, p := range r.s.policies {
		if p.ActivityID == nil && p.ClubID != nil && *p.ClubID == clubID {
			p := p
			return &p, nil
		}
	}
	return nil, dao.ErrNotFound
}

// ---- SettlementRepository ----

func (r *Repo) GetSettlementByActivity(ctx context.Context, activityID uint) (*mxm.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.s.settlements {
		if s.ActivityID == activityID {
			s := s
			return &s, nil
		}
	}
	return nil, dao.ErrNotFound
}

func (r *Repo) SaveSettlement(ctx context.Context, s *mxm.Settlement) error {
	if err := r.injected("SaveSettlement"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == 0 {
		for _, existing := range r.s.settlements {
			if existing.ActivityID == s.ActivityID {
				return dao.ErrDuplicate
			}
		}
		s.ID = r.nextID()
		s.CreatedAt = time.Now()
		s.UpdatedAt = s.CreatedAt
		r.s.settlements[s.ID] = *s
		return nil
	}
	old, ok := r.s.settlements[s.ID]
	if !ok || old.Status != mxm.SettlementStatusPending {
		return dao.ErrNotFound
	}
	old.TotalAmount = s.TotalAmount
	old.RefundAmount = s.RefundAmount
	old.FeeRate = s.FeeRate
	old.PlatformFee = s.PlatformFee
	old.SettleAmount = s.SettleAmount
	old.OrderCount = s.OrderCount
	old.UpdatedAt = time.Now()
	r.s.settlements[s.ID] = old
	return nil
}

func (r *Repo) TransitionSettlement(ctx context.Context, id uint, from, to mxm.SettlementStatus, at time.Time) (bool, error) {
	if err := r.injected("TransitionSettlement"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.s.settlements[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	if to == mxm.SettlementStatusCompleted {
		s.SettledAt = &at
	}
	r.s.settlements[id] = s
	return true, nil
}

// ---- WithdrawalRepository ----

func (r *Repo) CreateWithdrawal(ctx context.Context, w *mxm.Withdrawal) error {
	if err := r.injected("CreateWithdrawal"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w.ID = r.nextID()
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	r.s.withdrawals[w.ID] = *w
	return nil
}

func (r *Repo) GetWithdrawal(ctx context.Context, id uint) (*mxm.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &w, nil
}

func (r *Repo) ListWithdrawalsByClub(ctx context.Context, clubID uint) ([]*mxm.Withdrawal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Withdrawal
	for _, w := range r.s.withdrawals {
		if w.ClubID == clubID {
			w := w
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Repo) TransitionWithdrawal(ctx context.Context, id uint, from, to mxm.WithdrawalStatus, patch dao.WithdrawalPatch) (bool, error) {
	if err := r.injected("TransitionWithdrawal"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	if patch.ReviewerID != nil {
		v := *patch.ReviewerID
		w.ReviewerID = &v
	}
	if patch.RejectReason != "" {
		w.RejectReason = patch.RejectReason
	}
	if patch.ApprovedAt != nil {
		v := *patch.ApprovedAt
		w.ApprovedAt = &v
	}
	if patch.CompletedAt != nil {
		v := *patch.CompletedAt
		w.CompletedAt = &v
	}
	r.s.withdrawals[id] = w
	return true, nil
}

// ---- AccountRepository ----

func (r *Repo) LockAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error) {
	if err := r.injected("LockAccount"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.s.accounts[clubID]
	if !ok {
		a = mxm.ClubAccount{
			ID:            r.nextID(),
			ClubID:        clubID,
			Balance:       decimal.Zero,
			FrozenBalance: decimal.Zero,
			TotalIncome:   decimal.Zero,
			TotalWithdraw: decimal.Zero,
			CreatedAt:     time.Now(),
		}
		r.s.accounts[clubID] = a
	}
	return &a, nil
}

func (r *Repo) GetAccount(ctx context.Context, clubID uint) (*mxm.ClubAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.s.accounts[clubID]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return &a, nil
}

func (r *Repo) SaveAccount(ctx context.Context, a *mxm.ClubAccount) error {
	if err := r.injected("SaveAccount"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a.UpdatedAt = time.Now()
	r.s.accounts[a.ClubID] = *a
	return nil
}

func (r *Repo) AppendTransaction(ctx context.Context, t *mxm.Transaction) error {
	if err := r.injected("AppendTransaction"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.nextID()
	t.CreatedAt = time.Now()
	r.s.transactions = append(r.s.transactions, *t)
	return nil
}

func (r *Repo) ListTransactions(ctx context.Context, accountID uint, limit, offset int) ([]*mxm.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Transaction
	for i := len(r.s.transactions) - 1; i >= 0; i-- {
		t := r.s.transactions[i]
		if t.AccountID == accountID {
			out = append(out, &t)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) ListAllTransactions(ctx context.Context, accountID uint) ([]*mxm.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*mxm.Transaction
	for _, t := range r.s.transactions {
		if t.AccountID == accountID {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
