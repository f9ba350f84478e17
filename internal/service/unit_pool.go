package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitPool keeps each product's numbered units in line with its declared quantity
type UnitPool struct {
	repo      store.Repository
	publisher Publisher
	cache     OccupancyCache
	logger    *zap.Logger
}

// SyncResult reports what a pool synchronization changed
type SyncResult struct {
	ProductID   int64 `json:"product_id"`
	Quantity    int   `json:"quantity"`
	Inserted    int   `json:"inserted"`
	Activated   int   `json:"activated"`
	Deactivated int   `json:"deactivated"`
}

// Changed reports whether any unit was inserted or had its active flag flipped
func (r *SyncResult) Changed() bool {
	return r != nil && r.Inserted+r.Activated+r.Deactivated > 0
}

// NewUnitPool creates a new unit pool manager
func NewUnitPool(repo store.Repository, publisher Publisher, cache OccupancyCache) *UnitPool {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cache == nil {
		cache = nopCache{}
	}
	return &UnitPool{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		logger:    util.GetLogger(),
	}
}

// SyncUnits makes units 1..quantity active and every higher ordinal inactive.
// Units are never removed, so reservations on deactivated units stay intact.
func (p *UnitPool) SyncUnits(ctx context.Context, productID int64, quantity int) (*SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "UnitPool.SyncUnits")
	defer span.End()

	if quantity < 0 {
		p.logger.Warn("Negative unit quantity clamped to zero",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity))
		quantity = 0
	}

	var result *SyncResult
	err := p.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockProduct(ctx, productID); err != nil {
			return translateNotFound(err, ErrProductNotFound)
		}
		var err error
		result, err = p.syncTx(ctx, tx, productID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.afterSync(ctx, result)
	return result, nil
}

// EnsureUnits rebuilds the pool from the product's declared quantity when the
// two have drifted apart, e.g. for products created before units existed.
func (p *UnitPool) EnsureUnits(ctx context.Context, productID int64) (*SyncResult, error) {
	ctx, span := util.StartSpan(ctx, "UnitPool.EnsureUnits")
	defer span.End()

	var result *SyncResult
	err := p.repo.InTx(ctx, func(tx store.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return translateNotFound(err, ErrProductNotFound)
		}
		result, err = p.ensureTx(ctx, tx, product)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.afterSync(ctx, result)
	return result, nil
}

// ReconcileAll runs EnsureUnits for every product and returns how many pools changed
func (p *UnitPool) ReconcileAll(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "UnitPool.ReconcileAll")
	defer span.End()

	products, err := p.repo.ListProducts(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list products: %w", err)
	}

	changed := 0
	for _, product := range products {
		result, err := p.EnsureUnits(ctx, product.ID)
		if err != nil {
			p.logger.Error("Failed to reconcile unit pool",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			continue
		}
		if result.Changed() {
			changed++
		}
	}

	p.logger.Info("Unit pool reconciliation completed",
		zap.Int("products", len(products)),
		zap.Int("changed", changed))
	return changed, nil
}

// ensureTx syncs the pool to product.Quantity unless it already matches
func (p *UnitPool) ensureTx(ctx context.Context, tx store.Tx, product *models.Product) (*SyncResult, error) {
	units, err := tx.ListUnits(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}

	quantity := product.Quantity
	if quantity < 0 {
		quantity = 0
	}
	if poolMatches(units, quantity) {
		return &SyncResult{ProductID: product.ID, Quantity: quantity}, nil
	}

	p.logger.Info("Unit pool drifted from declared quantity, resyncing",
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", quantity),
		zap.Int("units", len(units)))

	if _, err := tx.LockProduct(ctx, product.ID); err != nil {
		return nil, err
	}
	return p.syncTx(ctx, tx, product.ID, quantity)
}

func (p *UnitPool) syncTx(ctx context.Context, tx store.Tx, productID int64, quantity int) (*SyncResult, error) {
	units, err := tx.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}

	result := &SyncResult{ProductID: productID, Quantity: quantity}
	byNo := make(map[int]models.Unit, len(units))
	for _, u := range units {
		byNo[u.UnitNo] = u
	}

	for no := 1; no <= quantity; no++ {
		u, ok := byNo[no]
		switch {
		case !ok:
			unit := &models.Unit{ProductID: productID, UnitNo: no, Active: true}
			if err := tx.InsertUnit(ctx, unit); err != nil {
				return nil, fmt.Errorf("failed to insert unit #%d: %w", no, err)
			}
			result.Inserted++
		case !u.Active:
			if err := tx.SetUnitActive(ctx, u.ID, true); err != nil {
				return nil, fmt.Errorf("failed to activate unit #%d: %w", no, err)
			}
			result.Activated++
		}
	}

	for _, u := range units {
		if u.UnitNo > quantity && u.Active {
			if err := tx.SetUnitActive(ctx, u.ID, false); err != nil {
				return nil, fmt.Errorf("failed to deactivate unit #%d: %w", u.UnitNo, err)
			}
			result.Deactivated++
		}
	}

	return result, nil
}

func (p *UnitPool) afterSync(ctx context.Context, result *SyncResult) {
	if !result.Changed() {
		return
	}

	util.UnitPoolSyncsTotal.Inc()
	p.logger.Info("Unit pool synchronized",
		zap.Int64("product_id", result.ProductID),
		zap.Int("quantity", result.Quantity),
		zap.Int("inserted", result.Inserted),
		zap.Int("activated", result.Activated),
		zap.Int("deactivated", result.Deactivated))

	if err := p.cache.InvalidateProduct(ctx, result.ProductID); err != nil {
		p.logger.Warn("Failed to invalidate occupancy cache", zap.Int64("product_id", result.ProductID), zap.Error(err))
	}

	event := &models.ProductUnitsSyncedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeProductUnitsSynced),
		ProductID:   result.ProductID,
		Quantity:    result.Quantity,
		Inserted:    result.Inserted,
		Activated:   result.Activated,
		Deactivated: result.Deactivated,
	}
	if err := p.publisher.PublishProductUnitsSynced(ctx, event); err != nil {
		p.logger.Error("Failed to publish ProductUnitsSynced event", zap.Error(err))
	}
}

// poolMatches reports whether exactly ordinals 1..quantity are active
func poolMatches(units []models.Unit, quantity int) bool {
	active := 0
	for _, u := range units {
		if !u.Active {
			continue
		}
		if u.UnitNo > quantity {
			return false
		}
		active++
	}
	return active == quantity
}

func activeUnits(units []models.Unit) []models.Unit {
	out := make([]models.Unit, 0, len(units))
	for _, u := range units {
		if u.Active {
			out = append(out, u)
		}
	}
	return out
}

func translateNotFound(err, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", target, err)
	}
	return err
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
