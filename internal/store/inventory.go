package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// queries implements Reader over either *sqlx.DB or *sqlx.Tx
type queries struct {
	q sqlx.ExtContext
}

// pgTx is the Postgres Tx
type pgTx struct {
	queries
}

const reservationColumns = `
	r.id, r.product_id, r.unit_id, r.order_id, r.start_at, r.end_at, r.created_at, u.unit_no`

// GetProduct retrieves a product by ID
func (s queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, s.q, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves products ordered by id
func (s queries) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT * FROM products ORDER BY id"
	if activeOnly {
		query = "SELECT * FROM products WHERE active ORDER BY id"
	}
	var products []models.Product
	err := sqlx.SelectContext(ctx, s.q, &products, query)
	return products, err
}

// ListUnits retrieves all units of a product, active or not, by ordinal
func (s queries) ListUnits(ctx context.Context, productID int64) ([]models.Unit, error) {
	var units []models.Unit
	err := sqlx.SelectContext(ctx, s.q, &units,
		"SELECT * FROM product_units WHERE product_id = $1 ORDER BY unit_no", productID)
	return units, err
}

// ListReservations retrieves every reservation of a product, including those on inactive units
func (s queries) ListReservations(ctx context.Context, productID int64) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := sqlx.SelectContext(ctx, s.q, &reservations, `
		SELECT`+reservationColumns+`
		FROM reservations r
		JOIN product_units u ON u.id = r.unit_id
		WHERE r.product_id = $1
		ORDER BY r.start_at, u.unit_no`, productID)
	return reservations, err
}

// ListOverlappingReservations retrieves reservations of a product intersecting [start, end)
func (s queries) ListOverlappingReservations(ctx context.Context, productID int64, start, end time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := sqlx.SelectContext(ctx, s.q, &reservations, `
		SELECT`+reservationColumns+`
		FROM reservations r
		JOIN product_units u ON u.id = r.unit_id
		WHERE r.product_id = $1
		  AND NOT (r.end_at <= $2 OR r.start_at >= $3)
		ORDER BY u.unit_no, r.start_at`, productID, start, end)
	return reservations, err
}

// LockProduct retrieves a product holding a row lock (FOR UPDATE)
func (t *pgTx) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, t.q, &product, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return &product, nil
}

// LockActiveUnits locks every active unit of a product in ordinal order.
// Concurrent allocators on the same product queue here, and the caller's
// next statement sees reservations committed while it waited.
func (t *pgTx) LockActiveUnits(ctx context.Context, productID int64) ([]models.Unit, error) {
	var units []models.Unit
	err := sqlx.SelectContext(ctx, t.q, &units,
		"SELECT * FROM product_units WHERE product_id = $1 AND active ORDER BY unit_no FOR UPDATE", productID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock units: %w", err)
	}
	return units, nil
}

// CreateProduct inserts a product
func (t *pgTx) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, category, brand, image_url, quantity, daily_price, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, t.q, p, query,
		p.Name, p.Description, p.Category, p.Brand, p.ImageURL, p.Quantity, p.DailyPrice, p.Active)
}

// UpdateProduct updates every mutable product attribute
func (t *pgTx) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET name = $1, description = $2, category = $3, brand = $4, image_url = $5,
		    quantity = $6, daily_price = $7, active = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at`

	err := sqlx.GetContext(ctx, t.q, &p.UpdatedAt, query,
		p.Name, p.Description, p.Category, p.Brand, p.ImageURL, p.Quantity, p.DailyPrice, p.Active, p.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	return err
}

// InsertUnit inserts a unit ordinal, re-activating it if it already exists
func (t *pgTx) InsertUnit(ctx context.Context, u *models.Unit) error {
	query := `
		INSERT INTO product_units (product_id, unit_no, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, unit_no) DO UPDATE SET active = EXCLUDED.active
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, t.q, u, query, u.ProductID, u.UnitNo, u.Active)
}

// SetUnitActive flips a unit's active flag
func (t *pgTx) SetUnitActive(ctx context.Context, unitID int64, active bool) error {
	_, err := t.q.ExecContext(ctx, "UPDATE product_units SET active = $1 WHERE id = $2", active, unitID)
	return err
}

// InsertReservation persists a committed reservation
func (t *pgTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (product_id, unit_id, order_id, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, t.q, r, query, r.ProductID, r.UnitID, r.OrderID, r.StartAt, r.EndAt)
}

// DeleteReservation removes a reservation and returns the removed row
func (t *pgTx) DeleteReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := sqlx.GetContext(ctx, t.q, &r, `
		WITH removed AS (
			DELETE FROM reservations WHERE id = $1
			RETURNING id, product_id, unit_id, order_id, start_at, end_at, created_at
		)
		SELECT r.id, r.product_id, r.unit_id, u.unit_no, r.order_id, r.start_at, r.end_at, r.created_at
		FROM removed r
		JOIN product_units u ON u.id = r.unit_id`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
