package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events to the order events topic
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func productKey(productID int64) string {
	return fmt.Sprintf("product-%d", productID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderAccepted publishes OrderAccepted event
func (ep *EventPublisher) PublishOrderAccepted(ctx context.Context, event *models.OrderAcceptedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderDeclined publishes OrderDeclined event
func (ep *EventPublisher) PublishOrderDeclined(ctx context.Context, event *models.OrderDeclinedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderAcceptFailed publishes OrderAcceptFailed event
func (ep *EventPublisher) PublishOrderAcceptFailed(ctx context.Context, event *models.OrderAcceptFailedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishReservationDeleted publishes ReservationDeleted event
func (ep *EventPublisher) PublishReservationDeleted(ctx context.Context, event *models.ReservationDeletedEvent) error {
	return ep.producer.PublishEvent(ctx, productKey(event.ProductID), event.EventType, event)
}

// PublishProductUnitsSynced publishes ProductUnitsSynced event
func (ep *EventPublisher) PublishProductUnitsSynced(ctx context.Context, event *models.ProductUnitsSyncedEvent) error {
	return ep.producer.PublishEvent(ctx, productKey(event.ProductID), event.EventType, event)
}

// ActionPublisher puts operator decisions on the order actions topic
type ActionPublisher struct {
	producer *Producer
}

// NewActionPublisher creates a new action publisher
func NewActionPublisher(producer *Producer) *ActionPublisher {
	return &ActionPublisher{producer: producer}
}

// PublishActionRequested publishes OrderActionRequested command
func (ap *ActionPublisher) PublishActionRequested(ctx context.Context, event *models.OrderActionRequestedEvent) error {
	return ap.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler routes incoming messages by event type
type EventHandler struct {
	onActionRequested func(context.Context, *models.OrderActionRequestedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnActionRequested registers a handler for OrderActionRequested commands
func (eh *EventHandler) OnActionRequested(handler func(context.Context, *models.OrderActionRequestedEvent) error) {
	eh.onActionRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderActionRequested:
		if eh.onActionRequested != nil {
			var event models.OrderActionRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal OrderActionRequested event: %w", err))
			}
			return eh.onActionRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
