package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a rentable item type in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Category    string          `db:"category" json:"category"`
	Brand       string          `db:"brand" json:"brand"`
	ImageURL    string          `db:"image_url" json:"image_url"`
	Quantity    int             `db:"quantity" json:"quantity"`
	DailyPrice  decimal.Decimal `db:"daily_price" json:"daily_price"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Unit is one physical, interchangeable instance of a product.
// Units are never deleted, only deactivated.
type Unit struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	UnitNo    int       `db:"unit_no" json:"unit_no"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Reservation is a committed claim on one unit for the half-open window [StartAt, EndAt)
type Reservation struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	UnitID    int64     `db:"unit_id" json:"unit_id"`
	UnitNo    int       `db:"unit_no" json:"unit_no"`
	OrderID   *int64    `db:"order_id" json:"order_id,omitempty"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Overlaps reports whether r intersects the half-open window [start, end)
func (r Reservation) Overlaps(start, end time.Time) bool {
	return r.StartAt.Before(end) && r.EndAt.After(start)
}

// Order represents a customer rental request awaiting operator confirmation
type Order struct {
	ID             int64     `db:"id" json:"id"`
	CustomerName   string    `db:"customer_name" json:"customer_name"`
	CustomerPhone  string    `db:"customer_phone" json:"customer_phone"`
	CustomerEmail  string    `db:"customer_email" json:"customer_email,omitempty"`
	Address        string    `db:"address" json:"address,omitempty"`
	Comment        string    `db:"comment" json:"comment,omitempty"`
	Status         string    `db:"status" json:"status"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderLine is one (product, window, quantity) request inside an order
type OrderLine struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	Quantity  int       `db:"quantity" json:"quantity"`
}

// OrderNotification stores the confirmation channel delivery handle for an order
type OrderNotification struct {
	OrderID   int64     `db:"order_id" json:"order_id"`
	Channel   string    `db:"channel" json:"channel"`
	Handle    string    `db:"handle" json:"handle"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending  = "PENDING"
	OrderStatusAccepted = "ACCEPTED"
	OrderStatusDeclined = "DECLINED"
)

// Order actions delivered by the confirmation channel
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// Occupancy is the state of a product's unit pool at a given instant
type Occupancy struct {
	ProductID    int64      `json:"product_id"`
	Total        int        `json:"total"`
	BusyNow      int        `json:"busy_now"`
	AvailableNow int        `json:"available_now"`
	OutOfStock   bool       `json:"out_of_stock"`
	NextFreeAt   *time.Time `json:"next_free_at,omitempty"`
	ComputedAt   time.Time  `json:"computed_at"`
}
