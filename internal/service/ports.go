package service

import (
	"context"

	"rental-service/internal/models"
)

// Publisher receives domain events after the corresponding transaction commits
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderAccepted(ctx context.Context, event *models.OrderAcceptedEvent) error
	PublishOrderDeclined(ctx context.Context, event *models.OrderDeclinedEvent) error
	PublishOrderAcceptFailed(ctx context.Context, event *models.OrderAcceptFailedEvent) error
	PublishReservationDeleted(ctx context.Context, event *models.ReservationDeletedEvent) error
	PublishProductUnitsSynced(ctx context.Context, event *models.ProductUnitsSyncedEvent) error
}

// OccupancyCache holds storefront occupancy views. Allocation never reads it.
type OccupancyCache interface {
	GetOccupancy(ctx context.Context, productID int64) (*models.Occupancy, error)
	SetOccupancy(ctx context.Context, occ *models.Occupancy) error
	InvalidateProduct(ctx context.Context, productID int64) error
}

// ConfirmationChannel asks a human operator to accept or decline an order.
// Notify returns an opaque delivery handle used to edit the message later.
type ConfirmationChannel interface {
	Name() string
	Notify(ctx context.Context, orderID int64, summary string, actions []string) (string, error)
	UpdateNotification(ctx context.Context, handle, text string, actions []string) error
}

type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (nopPublisher) PublishOrderAccepted(context.Context, *models.OrderAcceptedEvent) error {
	return nil
}
func (nopPublisher) PublishOrderDeclined(context.Context, *models.OrderDeclinedEvent) error {
	return nil
}
func (nopPublisher) PublishOrderAcceptFailed(context.Context, *models.OrderAcceptFailedEvent) error {
	return nil
}
func (nopPublisher) PublishReservationDeleted(context.Context, *models.ReservationDeletedEvent) error {
	return nil
}
func (nopPublisher) PublishProductUnitsSynced(context.Context, *models.ProductUnitsSyncedEvent) error {
	return nil
}

type nopCache struct{}

func (nopCache) GetOccupancy(context.Context, int64) (*models.Occupancy, error) { return nil, nil }
func (nopCache) SetOccupancy(context.Context, *models.Occupancy) error         { return nil }
func (nopCache) InvalidateProduct(context.Context, int64) error                { return nil }
