package worker

import (
	"context"

	"rental-service/internal/broker"
	"rental-service/internal/models"
	"rental-service/internal/service"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// Resolver applies operator decisions to orders
type Resolver interface {
	ResolveOrder(ctx context.Context, orderID int64, action string) (*service.ResolveResult, error)
}

// OrderWorker consumes operator decisions from the order actions topic
type OrderWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	resolver     Resolver
	logger       *zap.Logger
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(consumer *broker.Consumer, resolver Resolver) *OrderWorker {
	w := &OrderWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		resolver:     resolver,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnActionRequested(w.HandleActionRequested)
	return w
}

// HandleActionRequested resolves the order named by the command. Commands
// that can never succeed are dropped; store failures are returned so the
// message is redelivered.
func (w *OrderWorker) HandleActionRequested(ctx context.Context, event *models.OrderActionRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderWorker.HandleActionRequested")
	defer span.End()

	result, err := w.resolver.ResolveOrder(ctx, event.OrderID, event.Action)
	if err != nil {
		if service.IsValidation(err) || service.IsNotFound(err) {
			w.logger.Warn("Dropping order action",
				zap.String("event_id", event.EventID),
				zap.Int64("order_id", event.OrderID),
				zap.String("action", event.Action),
				zap.Error(err))
			return nil
		}
		return err
	}

	w.logger.Info("Order action applied",
		zap.String("event_id", event.EventID),
		zap.Int64("order_id", event.OrderID),
		zap.String("source", event.Source),
		zap.String("outcome", string(result.Outcome)))
	return nil
}

// Start starts the worker
func (w *OrderWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderWorker) Stop() error {
	w.logger.Info("Stopping order worker")
	return w.consumer.Close()
}
