package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrder retrieves an order by ID
func (s queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves orders newest first, optionally filtered by status
func (s queries) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	var orders []models.Order
	if status == "" {
		err := sqlx.SelectContext(ctx, s.q, &orders, "SELECT * FROM orders ORDER BY created_at DESC, id DESC")
		return orders, err
	}
	err := sqlx.SelectContext(ctx, s.q, &orders,
		"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC", status)
	return orders, err
}

// ListOrderLines retrieves all lines of an order
func (s queries) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := sqlx.SelectContext(ctx, s.q, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetNotification retrieves the confirmation delivery handle of an order
func (s queries) GetNotification(ctx context.Context, orderID int64) (*models.OrderNotification, error) {
	var n models.OrderNotification
	err := sqlx.GetContext(ctx, s.q, &n, "SELECT * FROM order_notifications WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// LockOrder retrieves an order holding a row lock (FOR UPDATE)
func (t *pgTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, t.q, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_name, customer_phone, customer_email, address, comment, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, t.q, order, query,
		order.CustomerName, order.CustomerPhone, order.CustomerEmail, order.Address, order.Comment,
		order.Status, order.IdempotencyKey)
}

// CreateOrderLine creates a new order line
func (t *pgTx) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_id, start_at, end_at, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, t.q, &line.ID, query,
		line.OrderID, line.ProductID, line.StartAt, line.EndAt, line.Quantity)
}

// UpdateOrderStatus updates order status
func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := t.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// SaveNotification stores the delivery handle of an order's confirmation message
func (t *pgTx) SaveNotification(ctx context.Context, n *models.OrderNotification) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO order_notifications (order_id, channel, handle)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO UPDATE SET channel = EXCLUDED.channel, handle = EXCLUDED.handle`,
		n.OrderID, n.Channel, n.Handle)
	return err
}
