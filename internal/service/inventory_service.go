package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryService handles catalog management and the read views used by
// the storefront and the admin UI
type InventoryService struct {
	repo         store.Repository
	pool         *UnitPool
	availability *Availability
	allocator    *Allocator
	publisher    Publisher
	cache        OccupancyCache
	logger       *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	repo store.Repository,
	pool *UnitPool,
	availability *Availability,
	allocator *Allocator,
) *InventoryService {
	return &InventoryService{
		repo:         repo,
		pool:         pool,
		availability: availability,
		allocator:    allocator,
		publisher:    pool.publisher,
		cache:        pool.cache,
		logger:       util.GetLogger(),
	}
}

// ProductInput carries the operator-editable attributes of a product
type ProductInput struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	ImageURL    string          `json:"image_url"`
	Quantity    int             `json:"quantity"`
	DailyPrice  decimal.Decimal `json:"daily_price"`
	Active      *bool           `json:"active,omitempty"`
}

// ProductView is a product with its current occupancy
type ProductView struct {
	models.Product
	AvailableNow int        `json:"available_now"`
	BusyNow      int        `json:"busy_units_now"`
	TotalUnits   int        `json:"total_units"`
	OutOfStock   bool       `json:"out_of_stock"`
	NextFreeAt   *time.Time `json:"next_available_at,omitempty"`
}

// BookingRequest is a manual reservation made by an operator
type BookingRequest struct {
	ProductID int64     `json:"product_id" binding:"required"`
	StartAt   time.Time `json:"start_at" binding:"required"`
	EndAt     time.Time `json:"end_at" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

// CatalogResult counts what ApplyCatalog changed
type CatalogResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// CreateProduct inserts a product and builds its unit pool in the same transaction
func (s *InventoryService) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	return s.upsert(ctx, 0, in)
}

// UpdateProduct rewrites a product's attributes; a quantity change resyncs its units
func (s *InventoryService) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*models.Product, error) {
	return s.upsert(ctx, id, in)
}

func (s *InventoryService) upsert(ctx context.Context, id int64, in ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpsertProduct")
	defer span.End()

	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if in.DailyPrice.IsNegative() {
		return nil, fmt.Errorf("%w: daily price must not be negative", ErrInvalidProduct)
	}
	if in.Quantity < 0 {
		s.logger.Warn("Negative product quantity clamped to zero",
			zap.String("name", in.Name),
			zap.Int("quantity", in.Quantity))
		in.Quantity = 0
	}

	var (
		product *models.Product
		synced  *SyncResult
	)
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if id == 0 {
			product = &models.Product{Active: true}
		} else {
			existing, err := tx.LockProduct(ctx, id)
			if err != nil {
				return translateNotFound(err, ErrProductNotFound)
			}
			product = existing
		}

		applyInput(product, in)

		var err error
		if product.ID == 0 {
			err = tx.CreateProduct(ctx, product)
		} else {
			err = tx.UpdateProduct(ctx, product)
		}
		if err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}

		synced, err = s.pool.syncTx(ctx, tx, product.ID, product.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.pool.afterSync(ctx, synced)
	s.logger.Info("Product saved",
		zap.Int64("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Int("quantity", product.Quantity))
	return product, nil
}

func applyInput(p *models.Product, in ProductInput) {
	p.Name = in.Name
	p.Description = in.Description
	p.Category = in.Category
	p.Brand = in.Brand
	p.ImageURL = in.ImageURL
	p.Quantity = in.Quantity
	p.DailyPrice = in.DailyPrice
	if in.Active != nil {
		p.Active = *in.Active
	}
}

// DeactivateProduct hides a product from the storefront. Its units and
// reservations stay untouched.
func (s *InventoryService) DeactivateProduct(ctx context.Context, id int64) error {
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		product, err := tx.LockProduct(ctx, id)
		if err != nil {
			return translateNotFound(err, ErrProductNotFound)
		}
		if !product.Active {
			return nil
		}
		product.Active = false
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Product deactivated", zap.Int64("product_id", id))
	if err := s.cache.InvalidateProduct(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate occupancy cache", zap.Int64("product_id", id), zap.Error(err))
	}
	return nil
}

// ApplyCatalog upserts catalog entries, matching existing products by
// case- and space-insensitive name
func (s *InventoryService) ApplyCatalog(ctx context.Context, entries []ProductInput) (*CatalogResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ApplyCatalog")
	defer span.End()

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	byName := make(map[string]int64, len(products))
	for _, p := range products {
		byName[normalizeName(p.Name)] = p.ID
	}

	result := &CatalogResult{}
	for _, entry := range entries {
		id := byName[normalizeName(entry.Name)]
		product, err := s.upsert(ctx, id, entry)
		if err != nil {
			return result, fmt.Errorf("catalog entry %q: %w", entry.Name, err)
		}
		if id == 0 {
			result.Created++
			byName[normalizeName(product.Name)] = product.ID
		} else {
			result.Updated++
		}
	}

	s.logger.Info("Catalog applied",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated))
	return result, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// GetProduct retrieves a single product
func (s *InventoryService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, translateNotFound(err, ErrProductNotFound)
	}
	return product, nil
}

// ListProducts returns products with their occupancy at the current instant
func (s *InventoryService) ListProducts(ctx context.Context, activeOnly bool) ([]ProductView, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ListProducts")
	defer span.End()

	products, err := s.repo.ListProducts(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		occ, err := s.availability.Occupancy(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, ProductView{
			Product:      p,
			AvailableNow: occ.AvailableNow,
			BusyNow:      occ.BusyNow,
			TotalUnits:   occ.Total,
			OutOfStock:   occ.OutOfStock,
			NextFreeAt:   occ.NextFreeAt,
		})
	}
	return views, nil
}

// ListReservations returns every reservation of a product, including those on
// deactivated units
func (s *InventoryService) ListReservations(ctx context.Context, productID int64) ([]models.Reservation, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, translateNotFound(err, ErrProductNotFound)
	}
	return s.repo.ListReservations(ctx, productID)
}

// CreateBooking reserves units directly, bypassing the order workflow
func (s *InventoryService) CreateBooking(ctx context.Context, req *BookingRequest) (*Allocation, error) {
	return s.allocator.Allocate(ctx, req.ProductID, req.StartAt.UTC(), req.EndAt.UTC(), req.Quantity)
}

// DeleteReservation removes a reservation, freeing its unit for that window immediately
func (s *InventoryService) DeleteReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.DeleteReservation")
	defer span.End()

	var deleted *models.Reservation
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.DeleteReservation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrReservationNotFound, id)
		}
		deleted = r
		return err
	})
	if err != nil {
		return nil, err
	}

	util.ReservationsDeletedTotal.Inc()
	s.logger.Info("Reservation deleted",
		zap.Int64("reservation_id", id),
		zap.Int64("product_id", deleted.ProductID),
		zap.Int("unit_no", deleted.UnitNo))

	if err := s.cache.InvalidateProduct(ctx, deleted.ProductID); err != nil {
		s.logger.Warn("Failed to invalidate occupancy cache", zap.Int64("product_id", deleted.ProductID), zap.Error(err))
	}

	event := &models.ReservationDeletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationDeleted),
		ReservationID: deleted.ID,
		ProductID:     deleted.ProductID,
		UnitID:        deleted.UnitID,
		StartAt:       deleted.StartAt,
		EndAt:         deleted.EndAt,
	}
	if err := s.publisher.PublishReservationDeleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationDeleted event", zap.Error(err))
	}
	return deleted, nil
}
