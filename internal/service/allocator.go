package service

import (
	"context"
	"fmt"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// Allocator reserves concrete units for a window, all or nothing
type Allocator struct {
	repo   store.Repository
	pool   *UnitPool
	cache  OccupancyCache
	logger *zap.Logger
}

// Allocation is the outcome of a reservation attempt. OK=false is a normal
// result carrying the observed Available and Total, not an error.
type Allocation struct {
	OK           bool                 `json:"ok"`
	UnitIDs      []int64              `json:"unit_ids,omitempty"`
	Reservations []models.Reservation `json:"reservations,omitempty"`
	Available    int                  `json:"available"`
	Total        int                  `json:"total"`
}

// NewAllocator creates a new allocator
func NewAllocator(repo store.Repository, pool *UnitPool, cache OccupancyCache) *Allocator {
	if cache == nil {
		cache = nopCache{}
	}
	return &Allocator{
		repo:   repo,
		pool:   pool,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Allocate reserves quantity units of a product for [start, end) in its own
// transaction. Units are picked by ascending ordinal.
func (a *Allocator) Allocate(ctx context.Context, productID int64, start, end time.Time, quantity int) (*Allocation, error) {
	ctx, span := util.StartSpan(ctx, "Allocator.Allocate")
	defer span.End()

	if err := validateWindow(start, end); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var (
		alloc *Allocation
		syncs syncLog
	)
	err := a.repo.InTx(ctx, func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return translateNotFound(err, ErrProductNotFound)
		}
		alloc, err = a.allocateTx(ctx, tx, product, start, end, quantity, nil, &syncs)
		if err != nil {
			return err
		}
		if !alloc.OK {
			return errShortage
		}
		return nil
	})
	if err == errShortage {
		return alloc, nil
	}
	if err != nil {
		util.AllocationsFailedTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	syncs.flush(ctx, a.pool)
	a.invalidate(ctx, productID)
	return alloc, nil
}

// allocateTx performs the selection and persist step inside tx. The caller
// must roll back tx when the returned allocation is not OK.
func (a *Allocator) allocateTx(ctx context.Context, tx store.Tx, product *models.Product, start, end time.Time, quantity int, orderID *int64, syncs *syncLog) (*Allocation, error) {
	startedAt := time.Now()
	defer func() {
		util.AllocationLatency.Observe(time.Since(startedAt).Seconds())
	}()

	synced, err := a.pool.ensureTx(ctx, tx, product)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure unit pool: %w", err)
	}
	syncs.add(synced)

	// Locks every active unit before looking at reservations, so a concurrent
	// allocator blocks here and then sees our committed rows.
	units, err := tx.LockActiveUnits(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock units: %w", err)
	}

	total := len(units)
	if total == 0 {
		util.AllocationsFailedTotal.WithLabelValues("out_of_stock").Inc()
		return &Allocation{OK: false, Available: 0, Total: 0}, nil
	}

	free, err := freeUnits(ctx, tx, product.ID, units, start, end)
	if err != nil {
		return nil, err
	}
	if len(free) < quantity {
		util.AllocationsFailedTotal.WithLabelValues("insufficient_capacity").Inc()
		a.logger.Info("Insufficient capacity for allocation",
			zap.Int64("product_id", product.ID),
			zap.Int("requested", quantity),
			zap.Int("available", len(free)),
			zap.Int("total", total))
		return &Allocation{OK: false, Available: len(free), Total: total}, nil
	}

	alloc := &Allocation{
		OK:           true,
		UnitIDs:      make([]int64, 0, quantity),
		Reservations: make([]models.Reservation, 0, quantity),
		Available:    len(free),
		Total:        total,
	}
	for _, unit := range free[:quantity] {
		r := &models.Reservation{
			ProductID: product.ID,
			UnitID:    unit.ID,
			UnitNo:    unit.UnitNo,
			OrderID:   orderID,
			StartAt:   start,
			EndAt:     end,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to reserve unit #%d: %w", unit.UnitNo, err)
		}
		alloc.UnitIDs = append(alloc.UnitIDs, unit.ID)
		alloc.Reservations = append(alloc.Reservations, *r)
	}

	util.ReservationsCreatedTotal.Add(float64(quantity))
	return alloc, nil
}

// capacityTx counts free and total units for a window without reserving
// anything. Units held by earlier demands of the same request are treated as
// busy, and when enough remain the lowest ordinals are held for this demand,
// mirroring what allocateTx would pick at acceptance.
func (a *Allocator) capacityTx(ctx context.Context, tx store.Tx, product *models.Product, start, end time.Time, quantity int, held holds, syncs *syncLog) (int, int, error) {
	synced, err := a.pool.ensureTx(ctx, tx, product)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to ensure unit pool: %w", err)
	}
	syncs.add(synced)

	units, err := tx.ListUnits(ctx, product.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list units: %w", err)
	}
	active := activeUnits(units)
	free, err := freeUnits(ctx, tx, product.ID, active, start, end)
	if err != nil {
		return 0, 0, err
	}
	free = held.filter(free, start, end)
	if len(free) >= quantity {
		held.hold(free[:quantity], start, end)
	}
	return len(free), len(active), nil
}

// holds records units promised to demands checked earlier in one request
type holds map[int64][]models.Reservation

func (h holds) filter(units []models.Unit, start, end time.Time) []models.Unit {
	out := make([]models.Unit, 0, len(units))
	for _, u := range units {
		busy := false
		for _, r := range h[u.ID] {
			if r.Overlaps(start, end) {
				busy = true
				break
			}
		}
		if !busy {
			out = append(out, u)
		}
	}
	return out
}

func (h holds) hold(units []models.Unit, start, end time.Time) {
	for _, u := range units {
		h[u.ID] = append(h[u.ID], models.Reservation{UnitID: u.ID, StartAt: start, EndAt: end})
	}
}

func (a *Allocator) invalidate(ctx context.Context, productID int64) {
	if err := a.cache.InvalidateProduct(ctx, productID); err != nil {
		a.logger.Warn("Failed to invalidate occupancy cache", zap.Int64("product_id", productID), zap.Error(err))
	}
}

// syncLog collects pool repairs made inside a transaction so their events
// are emitted only after it ends.
type syncLog []*SyncResult

func (l *syncLog) add(r *SyncResult) {
	if r.Changed() {
		*l = append(*l, r)
	}
}

// flush reports the collected repairs. Call it only after a commit.
func (l *syncLog) flush(ctx context.Context, pool *UnitPool) {
	for _, r := range *l {
		pool.afterSync(ctx, r)
	}
	*l = nil
}
