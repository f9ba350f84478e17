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

// Availability answers which units of a product are free over a window
type Availability struct {
	repo   store.Repository
	cache  OccupancyCache
	logger *zap.Logger
	now    func() time.Time
}

// AvailabilityView is the storefront answer for one product and window
type AvailabilityView struct {
	ProductID int64     `json:"product_id"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Available int       `json:"available"`
	Total     int       `json:"total"`
}

// UnitStatus is the admin view of a single unit at the current instant
type UnitStatus struct {
	UnitID    int64      `json:"unit_id"`
	UnitNo    int        `json:"unit_no"`
	Active    bool       `json:"active"`
	BusyUntil *time.Time `json:"busy_until,omitempty"`
}

// NewAvailability creates a new availability index
func NewAvailability(repo store.Repository, cache OccupancyCache) *Availability {
	if cache == nil {
		cache = nopCache{}
	}
	return &Availability{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// FreeUnits returns the active units of a product with no reservation
// overlapping [start, end), ordered by ascending ordinal.
func (a *Availability) FreeUnits(ctx context.Context, productID int64, start, end time.Time) ([]models.Unit, error) {
	ctx, span := util.StartSpan(ctx, "Availability.FreeUnits")
	defer span.End()

	if err := validateWindow(start, end); err != nil {
		return nil, err
	}
	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return nil, translateNotFound(err, ErrProductNotFound)
	}

	units, err := a.repo.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return freeUnits(ctx, a.repo, productID, activeUnits(units), start, end)
}

// GetAvailability returns how many units are free for the window out of the active pool
func (a *Availability) GetAvailability(ctx context.Context, productID int64, start, end time.Time) (*AvailabilityView, error) {
	free, err := a.FreeUnits(ctx, productID, start, end)
	if err != nil {
		return nil, err
	}
	units, err := a.repo.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return &AvailabilityView{
		ProductID: productID,
		StartAt:   start,
		EndAt:     end,
		Available: len(free),
		Total:     len(activeUnits(units)),
	}, nil
}

// Occupancy reports how many active units are reserved right now and the
// earliest end among those reservations. Served from the cache when fresh.
func (a *Availability) Occupancy(ctx context.Context, productID int64) (*models.Occupancy, error) {
	ctx, span := util.StartSpan(ctx, "Availability.Occupancy")
	defer span.End()

	now := a.now().UTC()

	cached, err := a.cache.GetOccupancy(ctx, productID)
	if err != nil {
		a.logger.Warn("Occupancy cache read failed", zap.Int64("product_id", productID), zap.Error(err))
	}
	if cached != nil && (cached.NextFreeAt == nil || cached.NextFreeAt.After(now)) {
		util.OccupancyCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	util.OccupancyCacheTotal.WithLabelValues("miss").Inc()

	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return nil, translateNotFound(err, ErrProductNotFound)
	}
	occ, err := a.computeOccupancy(ctx, productID, now)
	if err != nil {
		return nil, err
	}

	if err := a.cache.SetOccupancy(ctx, occ); err != nil {
		a.logger.Warn("Occupancy cache write failed", zap.Int64("product_id", productID), zap.Error(err))
	}
	return occ, nil
}

func (a *Availability) computeOccupancy(ctx context.Context, productID int64, now time.Time) (*models.Occupancy, error) {
	units, err := a.repo.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	active := activeUnits(units)

	occ := &models.Occupancy{
		ProductID:  productID,
		Total:      len(active),
		OutOfStock: len(active) == 0,
		ComputedAt: now,
	}
	if occ.OutOfStock {
		return occ, nil
	}

	current, err := a.repo.ListOverlappingReservations(ctx, productID, now, now.Add(time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	activeIDs := make(map[int64]bool, len(active))
	for _, u := range active {
		activeIDs[u.ID] = true
	}
	busy := make(map[int64]bool)
	for _, r := range current {
		if !activeIDs[r.UnitID] {
			continue
		}
		busy[r.UnitID] = true
		if occ.NextFreeAt == nil || r.EndAt.Before(*occ.NextFreeAt) {
			end := r.EndAt.UTC()
			occ.NextFreeAt = &end
		}
	}

	occ.BusyNow = len(busy)
	occ.AvailableNow = occ.Total - occ.BusyNow
	return occ, nil
}

// UnitStatuses lists every unit of a product with the instant it becomes free.
// Back-to-back reservations are chained into a single busy stretch.
func (a *Availability) UnitStatuses(ctx context.Context, productID int64) ([]UnitStatus, error) {
	ctx, span := util.StartSpan(ctx, "Availability.UnitStatuses")
	defer span.End()

	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return nil, translateNotFound(err, ErrProductNotFound)
	}
	units, err := a.repo.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	reservations, err := a.repo.ListReservations(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	byUnit := make(map[int64][]models.Reservation)
	for _, r := range reservations {
		byUnit[r.UnitID] = append(byUnit[r.UnitID], r)
	}

	now := a.now().UTC()
	statuses := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		status := UnitStatus{UnitID: u.ID, UnitNo: u.UnitNo, Active: u.Active}
		if until, ok := busyUntil(byUnit[u.ID], now); ok {
			status.BusyUntil = &until
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// busyUntil walks reservations sorted by start and follows any chain that
// begins exactly where the current one ends.
func busyUntil(reservations []models.Reservation, now time.Time) (time.Time, bool) {
	var until time.Time
	found := false
	for _, r := range reservations {
		if !found {
			if r.Overlaps(now, now.Add(time.Nanosecond)) {
				until, found = r.EndAt.UTC(), true
			}
			continue
		}
		if !r.StartAt.After(until) && r.EndAt.After(until) {
			until = r.EndAt.UTC()
		}
	}
	return until, found
}

// freeUnits filters candidates down to those with no overlapping reservation.
// Candidates must be ordered by ordinal; the order is preserved.
func freeUnits(ctx context.Context, r store.Reader, productID int64, candidates []models.Unit, start, end time.Time) ([]models.Unit, error) {
	if len(candidates) == 0 {
		return []models.Unit{}, nil
	}

	overlapping, err := r.ListOverlappingReservations(ctx, productID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlapping reservations: %w", err)
	}

	busy := make(map[int64]bool, len(overlapping))
	for _, res := range overlapping {
		busy[res.UnitID] = true
	}

	free := make([]models.Unit, 0, len(candidates))
	for _, u := range candidates {
		if !busy[u.ID] {
			free = append(free, u)
		}
	}
	return free, nil
}
