package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rental-service/internal/models"
)

// MemoryStore is an in-process Repository. Transactions run one at a time
// against a copy of the state that replaces the committed state on success,
// which gives the same all-or-nothing and serialization guarantees the
// Postgres store gets from row locks.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memState
	faults *faults
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	f := &faults{ops: make(map[string]int)}
	return &MemoryStore{
		state: &memState{
			products:      make(map[int64]models.Product),
			units:         make(map[int64]models.Unit),
			reservations:  make(map[int64]models.Reservation),
			orders:        make(map[int64]models.Order),
			lines:         make(map[int64]models.OrderLine),
			notifications: make(map[int64]models.OrderNotification),
			faults:        f,
		},
		faults: f,
	}
}

// FailAfter makes the named write operation (e.g. "InsertReservation") fail
// with ErrUnavailable once it has succeeded n more times.
func (s *MemoryStore) FailAfter(op string, n int) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.ops[op] = n + 1
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// Migrate is a no-op
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// InTx runs fn against a private copy of the state and publishes it on success
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) read() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Committed states are never mutated after publication, so readers may use
// a snapshot without holding the lock.

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.read().GetProduct(ctx, id)
}

func (s *MemoryStore) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	return s.read().ListProducts(ctx, activeOnly)
}

func (s *MemoryStore) ListUnits(ctx context.Context, productID int64) ([]models.Unit, error) {
	return s.read().ListUnits(ctx, productID)
}

func (s *MemoryStore) ListReservations(ctx context.Context, productID int64) ([]models.Reservation, error) {
	return s.read().ListReservations(ctx, productID)
}

func (s *MemoryStore) ListOverlappingReservations(ctx context.Context, productID int64, start, end time.Time) ([]models.Reservation, error) {
	return s.read().ListOverlappingReservations(ctx, productID, start, end)
}

func (s *MemoryStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.read().GetOrder(ctx, id)
}

func (s *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return s.read().GetOrderByIdempotencyKey(ctx, key)
}

func (s *MemoryStore) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	return s.read().ListOrders(ctx, status)
}

func (s *MemoryStore) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	return s.read().ListOrderLines(ctx, orderID)
}

func (s *MemoryStore) GetNotification(ctx context.Context, orderID int64) (*models.OrderNotification, error) {
	return s.read().GetNotification(ctx, orderID)
}

type faults struct {
	mu  sync.Mutex
	ops map[string]int
}

func (f *faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.ops[op]
	if !ok {
		return nil
	}
	n--
	if n == 0 {
		delete(f.ops, op)
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	f.ops[op] = n
	return nil
}

// memState is one version of the data. It implements Tx directly.
type memState struct {
	products      map[int64]models.Product
	units         map[int64]models.Unit
	reservations  map[int64]models.Reservation
	orders        map[int64]models.Order
	lines         map[int64]models.OrderLine
	notifications map[int64]models.OrderNotification
	seq           int64
	faults        *faults
}

func (m *memState) clone() *memState {
	c := &memState{
		products:      make(map[int64]models.Product, len(m.products)),
		units:         make(map[int64]models.Unit, len(m.units)),
		reservations:  make(map[int64]models.Reservation, len(m.reservations)),
		orders:        make(map[int64]models.Order, len(m.orders)),
		lines:         make(map[int64]models.OrderLine, len(m.lines)),
		notifications: make(map[int64]models.OrderNotification, len(m.notifications)),
		seq:           m.seq,
		faults:        m.faults,
	}
	for k, v := range m.products {
		c.products[k] = v
	}
	for k, v := range m.units {
		c.units[k] = v
	}
	for k, v := range m.reservations {
		c.reservations[k] = v
	}
	for k, v := range m.orders {
		c.orders[k] = v
	}
	for k, v := range m.lines {
		c.lines[k] = v
	}
	for k, v := range m.notifications {
		c.notifications[k] = v
	}
	return c
}

func (m *memState) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *memState) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *memState) ListProducts(_ context.Context, activeOnly bool) ([]models.Product, error) {
	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		if activeOnly && !p.Active {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *memState) ListUnits(_ context.Context, productID int64) ([]models.Unit, error) {
	return m.unitsOf(productID, false), nil
}

func (m *memState) unitsOf(productID int64, activeOnly bool) []models.Unit {
	units := make([]models.Unit, 0)
	for _, u := range m.units {
		if u.ProductID != productID || (activeOnly && !u.Active) {
			continue
		}
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitNo < units[j].UnitNo })
	return units
}

func (m *memState) withUnitNo(r models.Reservation) models.Reservation {
	r.UnitNo = m.units[r.UnitID].UnitNo
	return r
}

func (m *memState) ListReservations(_ context.Context, productID int64) ([]models.Reservation, error) {
	out := make([]models.Reservation, 0)
	for _, r := range m.reservations {
		if r.ProductID == productID {
			out = append(out, m.withUnitNo(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].UnitNo < out[j].UnitNo
	})
	return out, nil
}

func (m *memState) ListOverlappingReservations(_ context.Context, productID int64, start, end time.Time) ([]models.Reservation, error) {
	out := make([]models.Reservation, 0)
	for _, r := range m.reservations {
		if r.ProductID == productID && r.Overlaps(start, end) {
			out = append(out, m.withUnitNo(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitNo != out[j].UnitNo {
			return out[i].UnitNo < out[j].UnitNo
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out, nil
}

func (m *memState) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return &o, nil
}

func (m *memState) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (m *memState) ListOrders(_ context.Context, status string) ([]models.Order, error) {
	orders := make([]models.Order, 0)
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (m *memState) ListOrderLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	lines := make([]models.OrderLine, 0)
	for _, l := range m.lines {
		if l.OrderID == orderID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (m *memState) GetNotification(_ context.Context, orderID int64) (*models.OrderNotification, error) {
	n, ok := m.notifications[orderID]
	if !ok {
		return nil, fmt.Errorf("notification for order %d: %w", orderID, ErrNotFound)
	}
	return &n, nil
}

func (m *memState) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	return m.GetProduct(ctx, id)
}

func (m *memState) LockActiveUnits(_ context.Context, productID int64) ([]models.Unit, error) {
	return m.unitsOf(productID, true), nil
}

func (m *memState) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *memState) CreateProduct(_ context.Context, p *models.Product) error {
	if err := m.faults.check("CreateProduct"); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.ID = m.nextID()
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = *p
	return nil
}

func (m *memState) UpdateProduct(_ context.Context, p *models.Product) error {
	if err := m.faults.check("UpdateProduct"); err != nil {
		return err
	}
	existing, ok := m.products[p.ID]
	if !ok {
		return fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = *p
	return nil
}

func (m *memState) InsertUnit(_ context.Context, u *models.Unit) error {
	if err := m.faults.check("InsertUnit"); err != nil {
		return err
	}
	for id, existing := range m.units {
		if existing.ProductID == u.ProductID && existing.UnitNo == u.UnitNo {
			existing.Active = u.Active
			m.units[id] = existing
			*u = existing
			return nil
		}
	}
	u.ID = m.nextID()
	u.CreatedAt = time.Now().UTC()
	m.units[u.ID] = *u
	return nil
}

func (m *memState) SetUnitActive(_ context.Context, unitID int64, active bool) error {
	if err := m.faults.check("SetUnitActive"); err != nil {
		return err
	}
	u, ok := m.units[unitID]
	if !ok {
		return fmt.Errorf("unit %d: %w", unitID, ErrNotFound)
	}
	u.Active = active
	m.units[unitID] = u
	return nil
}

// InsertReservation enforces the same no-overlap rule as the Postgres exclusion constraint
func (m *memState) InsertReservation(_ context.Context, r *models.Reservation) error {
	if err := m.faults.check("InsertReservation"); err != nil {
		return err
	}
	for _, existing := range m.reservations {
		if existing.UnitID == r.UnitID && existing.Overlaps(r.StartAt, r.EndAt) {
			return fmt.Errorf("unit %d already reserved by reservation %d: %w", r.UnitID, existing.ID, ErrConflict)
		}
	}
	r.ID = m.nextID()
	r.CreatedAt = time.Now().UTC()
	r.UnitNo = m.units[r.UnitID].UnitNo
	m.reservations[r.ID] = *r
	return nil
}

func (m *memState) DeleteReservation(_ context.Context, id int64) (*models.Reservation, error) {
	if err := m.faults.check("DeleteReservation"); err != nil {
		return nil, err
	}
	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	delete(m.reservations, id)
	r = m.withUnitNo(r)
	return &r, nil
}

func (m *memState) CreateOrder(_ context.Context, o *models.Order) error {
	if err := m.faults.check("CreateOrder"); err != nil {
		return err
	}
	if o.IdempotencyKey != "" {
		for _, existing := range m.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return fmt.Errorf("duplicate idempotency key %q: %w", o.IdempotencyKey, ErrConflict)
			}
		}
	}
	now := time.Now().UTC()
	o.ID = m.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	m.orders[o.ID] = *o
	return nil
}

func (m *memState) CreateOrderLine(_ context.Context, l *models.OrderLine) error {
	if err := m.faults.check("CreateOrderLine"); err != nil {
		return err
	}
	l.ID = m.nextID()
	m.lines[l.ID] = *l
	return nil
}

func (m *memState) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	if err := m.faults.check("UpdateOrderStatus"); err != nil {
		return err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	m.orders[orderID] = o
	return nil
}

func (m *memState) SaveNotification(_ context.Context, n *models.OrderNotification) error {
	if err := m.faults.check("SaveNotification"); err != nil {
		return err
	}
	n.CreatedAt = time.Now().UTC()
	m.notifications[n.OrderID] = *n
	return nil
}
