package store

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Queries implementation used by tests and the
// "memory" store driver. It emulates the schema constraints that the
// lifecycle relies on: the one-open-request index, unique reference codes
// and the non-negative balance check.
type Memory struct {
	mu     sync.Mutex
	state  *memState
	faults map[string]error
}

type memState struct {
	users         map[uuid.UUID]domain.User
	refunds       map[uuid.UUID]domain.RefundRequest
	refundOrder   []uuid.UUID
	ledger        []domain.LedgerEntry
	notifications []domain.Notification
}

func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			users:   make(map[uuid.UUID]domain.User),
			refunds: make(map[uuid.UUID]domain.RefundRequest),
		},
		faults: make(map[string]error),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:         make(map[uuid.UUID]domain.User, len(s.users)),
		refunds:       make(map[uuid.UUID]domain.RefundRequest, len(s.refunds)),
		refundOrder:   slices.Clone(s.refundOrder),
		ledger:        slices.Clone(s.ledger),
		notifications: slices.Clone(s.notifications),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	return c
}

// PutUser inserts or replaces a user row.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[u.ID] = u
}

// InjectFault makes the next call to the named Queries method fail with err.
func (m *Memory) InjectFault(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = err
}

// WithTx runs fn against a copy of the state and publishes the copy only
// when fn succeeds. Transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	draft := m.state.clone()
	if err := fn(&memQueries{m: m, st: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func view[T any](m *Memory, fn func(q *memQueries) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{m: m, st: m.state})
}

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return view(m, func(q *memQueries) (*domain.User, error) { return q.GetUser(ctx, id) })
}

func (m *Memory) LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return view(m, func(q *memQueries) (*domain.User, error) { return q.LockUser(ctx, id) })
}

func (m *Memory) ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return view(m, func(q *memQueries) ([]domain.User, error) { return q.ListUsersByRole(ctx, role) })
}

func (m *Memory) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	return view(m, func(q *memQueries) (decimal.Decimal, error) { return q.AdjustBalance(ctx, userID, delta) })
}

func (m *Memory) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := view(m, func(q *memQueries) (struct{}, error) { return struct{}{}, q.InsertLedgerEntry(ctx, e) })
	return err
}

func (m *Memory) ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]domain.LedgerEntry, error) {
	return view(m, func(q *memQueries) ([]domain.LedgerEntry, error) { return q.ListLedgerEntries(ctx, userID) })
}

func (m *Memory) ReferenceCodeExists(ctx context.Context, code string) (bool, error) {
	return view(m, func(q *memQueries) (bool, error) { return q.ReferenceCodeExists(ctx, code) })
}

func (m *Memory) HasOpenRefundRequest(ctx context.Context, taskerID uuid.UUID) (bool, error) {
	return view(m, func(q *memQueries) (bool, error) { return q.HasOpenRefundRequest(ctx, taskerID) })
}

func (m *Memory) InsertRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	_, err := view(m, func(q *memQueries) (struct{}, error) { return struct{}{}, q.InsertRefundRequest(ctx, r) })
	return err
}

func (m *Memory) GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	return view(m, func(q *memQueries) (*domain.RefundRequest, error) { return q.GetRefundRequest(ctx, id) })
}

func (m *Memory) LockRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	return view(m, func(q *memQueries) (*domain.RefundRequest, error) { return q.LockRefundRequest(ctx, id) })
}

func (m *Memory) UpdateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	_, err := view(m, func(q *memQueries) (struct{}, error) { return struct{}{}, q.UpdateRefundRequest(ctx, r) })
	return err
}

func (m *Memory) ListRefundRequests(ctx context.Context, f domain.RefundFilter) ([]domain.RefundRequest, error) {
	return view(m, func(q *memQueries) ([]domain.RefundRequest, error) { return q.ListRefundRequests(ctx, f) })
}

func (m *Memory) CountRefundRequestsByStatus(ctx context.Context) (map[domain.RefundStatus]int64, error) {
	return view(m, func(q *memQueries) (map[domain.RefundStatus]int64, error) { return q.CountRefundRequestsByStatus(ctx) })
}

func (m *Memory) InsertNotification(ctx context.Context, n *domain.Notification) error {
	_, err := view(m, func(q *memQueries) (struct{}, error) { return struct{}{}, q.InsertNotification(ctx, n) })
	return err
}

func (m *Memory) ListNotifications(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	return view(m, func(q *memQueries) ([]domain.Notification, error) { return q.ListNotifications(ctx, userID) })
}

// memQueries operates on one state snapshot; the caller holds Memory.mu.
type memQueries struct {
	m  *Memory
	st *memState
}

func (q *memQueries) fault(method string) error {
	if err, ok := q.m.faults[method]; ok {
		delete(q.m.faults, method)
		return err
	}
	return nil
}

func (q *memQueries) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if err := q.fault("GetUser"); err != nil {
		return nil, err
	}
	u, ok := q.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (q *memQueries) LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := q.fault("LockUser"); err != nil {
		return nil, err
	}
	return q.GetUser(ctx, id)
}

func (q *memQueries) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	if err := q.fault("ListUsersByRole"); err != nil {
		return nil, err
	}
	var out []domain.User
	for _, u := range q.st.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b domain.User) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (q *memQueries) AdjustBalance(_ context.Context, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := q.fault("AdjustBalance"); err != nil {
		return decimal.Zero, err
	}
	u, ok := q.st.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := u.WalletBalance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, ErrNegativeBalance
	}
	u.WalletBalance = next
	q.st.users[userID] = u
	return next, nil
}

func (q *memQueries) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	if err := q.fault("InsertLedgerEntry"); err != nil {
		return err
	}
	q.st.ledger = append(q.st.ledger, *e)
	return nil
}

func (q *memQueries) ListLedgerEntries(_ context.Context, userID uuid.UUID) ([]domain.LedgerEntry, error) {
	if err := q.fault("ListLedgerEntries"); err != nil {
		return nil, err
	}
	var out []domain.LedgerEntry
	for i := len(q.st.ledger) - 1; i >= 0; i-- {
		if q.st.ledger[i].UserID == userID {
			out = append(out, q.st.ledger[i])
		}
	}
	slices.SortStableFunc(out, func(a, b domain.LedgerEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (q *memQueries) ReferenceCodeExists(_ context.Context, code string) (bool, error) {
	if err := q.fault("ReferenceCodeExists"); err != nil {
		return false, err
	}
	for _, r := range q.st.refunds {
		if r.ReferenceCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) HasOpenRefundRequest(_ context.Context, taskerID uuid.UUID) (bool, error) {
	if err := q.fault("HasOpenRefundRequest"); err != nil {
		return false, err
	}
	for _, r := range q.st.refunds {
		if r.TaskerID == taskerID && r.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) InsertRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	if err := q.fault("InsertRefundRequest"); err != nil {
		return err
	}
	if r.Status.Open() {
		if open, _ := q.HasOpenRefundRequest(ctx, r.TaskerID); open {
			return ErrOpenRequestExists
		}
	}
	if dup, _ := q.ReferenceCodeExists(ctx, r.ReferenceCode); dup {
		return ErrDuplicateCode
	}
	q.st.refunds[r.ID] = *r
	q.st.refundOrder = append(q.st.refundOrder, r.ID)
	return nil
}

func (q *memQueries) GetRefundRequest(_ context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	if err := q.fault("GetRefundRequest"); err != nil {
		return nil, err
	}
	r, ok := q.st.refunds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (q *memQueries) LockRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	if err := q.fault("LockRefundRequest"); err != nil {
		return nil, err
	}
	return q.GetRefundRequest(ctx, id)
}

func (q *memQueries) UpdateRefundRequest(_ context.Context, r *domain.RefundRequest) error {
	if err := q.fault("UpdateRefundRequest"); err != nil {
		return err
	}
	cur, ok := q.st.refunds[r.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = r.Status
	cur.ReceiptURL = r.ReceiptURL
	cur.AdminID = r.AdminID
	cur.AdminNotes = r.AdminNotes
	cur.ConfirmedAt = r.ConfirmedAt
	cur.ApprovedAt = r.ApprovedAt
	cur.UpdatedAt = r.UpdatedAt
	q.st.refunds[r.ID] = cur
	return nil
}

func (q *memQueries) ListRefundRequests(_ context.Context, f domain.RefundFilter) ([]domain.RefundRequest, error) {
	if err := q.fault("ListRefundRequests"); err != nil {
		return nil, err
	}
	var out []domain.RefundRequest
	for i := len(q.st.refundOrder) - 1; i >= 0; i-- {
		r := q.st.refunds[q.st.refundOrder[i]]
		if f.TaskerID != nil && r.TaskerID != *f.TaskerID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b domain.RefundRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (q *memQueries) CountRefundRequestsByStatus(_ context.Context) (map[domain.RefundStatus]int64, error) {
	if err := q.fault("CountRefundRequestsByStatus"); err != nil {
		return nil, err
	}
	counts := make(map[domain.RefundStatus]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for _, r := range q.st.refunds {
		counts[r.Status]++
	}
	return counts, nil
}

func (q *memQueries) InsertNotification(_ context.Context, n *domain.Notification) error {
	if err := q.fault("InsertNotification"); err != nil {
		return err
	}
	q.st.notifications = append(q.st.notifications, *n)
	return nil
}

func (q *memQueries) ListNotifications(_ context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	if err := q.fault("ListNotifications"); err != nil {
		return nil, err
	}
	var out []domain.Notification
	for i := len(q.st.notifications) - 1; i >= 0; i-- {
		if q.st.notifications[i].UserID == userID {
			out = append(out, q.st.notifications[i])
		}
	}
	return out, nil
}
