package models

import "time"

// Event types
const (
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderAccepted        = "ORDER_ACCEPTED"
	EventTypeOrderDeclined        = "ORDER_DECLINED"
	EventTypeOrderAcceptFailed    = "ORDER_ACCEPT_FAILED"
	EventTypeReservationDeleted   = "RESERVATION_DELETED"
	EventTypeProductUnitsSynced   = "PRODUCT_UNITS_SYNCED"
	EventTypeOrderActionRequested = "ORDER_ACTION_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a pending order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	Lines   []OrderLineData `json:"lines"`
}

// OrderAcceptedEvent published when an order's units are committed
type OrderAcceptedEvent struct {
	BaseEvent
	OrderID        int64   `json:"order_id"`
	ReservationIDs []int64 `json:"reservation_ids"`
}

// OrderDeclinedEvent published when an operator declines an order
type OrderDeclinedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// OrderAcceptFailedEvent published when accept could not allocate every line
type OrderAcceptFailedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
	Total     int   `json:"total"`
}

// ReservationDeletedEvent published on manual reservation removal
type ReservationDeletedEvent struct {
	BaseEvent
	ReservationID int64     `json:"reservation_id"`
	ProductID     int64     `json:"product_id"`
	UnitID        int64     `json:"unit_id"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
}

// ProductUnitsSyncedEvent published when a product's unit pool changed
type ProductUnitsSyncedEvent struct {
	BaseEvent
	ProductID   int64 `json:"product_id"`
	Quantity    int   `json:"quantity"`
	Inserted    int   `json:"inserted"`
	Activated   int   `json:"activated"`
	Deactivated int   `json:"deactivated"`
}

// OrderActionRequestedEvent carries an operator response from the confirmation channel
type OrderActionRequestedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Action  string `json:"action"`
	Source  string `json:"source"`
}

// OrderLineData represents line data in events
type OrderLineData struct {
	ProductID int64     `json:"product_id"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Quantity  int       `json:"quantity"`
}
