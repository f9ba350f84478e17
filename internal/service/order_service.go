package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService coordinates the two-phase order lifecycle: a pending request
// checked for capacity, then an operator decision that allocates or discards.
type OrderService struct {
	repo      store.Repository
	allocator *Allocator
	pool      *UnitPool
	publisher Publisher
	channel   ConfirmationChannel
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	allocator *Allocator,
	publisher Publisher,
	channel ConfirmationChannel,
) *OrderService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &OrderService{
		repo:      repo,
		allocator: allocator,
		pool:      allocator.pool,
		publisher: publisher,
		channel:   channel,
		logger:    util.GetLogger(),
	}
}

// CustomerRequest holds the contact fields of an order
type CustomerRequest struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// OrderLineRequest represents one requested product, window and quantity
type OrderLineRequest struct {
	ProductID int64     `json:"product_id" binding:"required"`
	StartAt   time.Time `json:"start_at" binding:"required"`
	EndAt     time.Time `json:"end_at" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Customer       CustomerRequest    `json:"customer" binding:"required"`
	Lines          []OrderLineRequest `json:"lines" binding:"required,min=1,dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// CreateOrderResponse represents the response after creating an order.
// A non-nil Shortage means nothing was persisted.
type CreateOrderResponse struct {
	OrderID   int64     `json:"order_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Shortage  *Shortage `json:"shortage,omitempty"`
}

// ResolveOutcome is the result of an operator decision
type ResolveOutcome string

const (
	OutcomeAccepted             ResolveOutcome = "accepted"
	OutcomeDeclined             ResolveOutcome = "declined"
	OutcomeAlreadyProcessed     ResolveOutcome = "already_processed"
	OutcomeInsufficientCapacity ResolveOutcome = "insufficient_capacity"
)

// ResolveResult reports what ResolveOrder did
type ResolveResult struct {
	OrderID        int64          `json:"order_id"`
	Outcome        ResolveOutcome `json:"outcome"`
	Status         string         `json:"status"`
	Shortage       *Shortage      `json:"shortage,omitempty"`
	ReservationIDs []int64        `json:"reservation_ids,omitempty"`
}

// OrderDetails is an order with its lines and billed total
type OrderDetails struct {
	Order *models.Order      `json:"order"`
	Lines []models.OrderLine `json:"lines"`
	Total decimal.Decimal    `json:"total"`
}

// demand is the summed quantity of every line sharing a product and window
type demand struct {
	ProductID int64
	StartAt   time.Time
	EndAt     time.Time
	Quantity  int
}

// CreateOrder validates and capacity-checks the request, persists a pending
// order and hands it to the confirmation channel.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	lines, err := validateCreateOrder(req)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return &CreateOrderResponse{OrderID: existing.ID, Status: existing.Status, Duplicate: true}, nil
	}

	var (
		order    *models.Order
		products map[int64]*models.Product
		shortage *Shortage
		syncs    syncLog
	)
	err = inTxRetry(ctx, s.repo, "CreateOrder", func(tx store.Tx) error {
		order, shortage, syncs = nil, nil, nil
		products = make(map[int64]*models.Product)

		for i, line := range lines {
			if _, ok := products[line.ProductID]; ok {
				continue
			}
			product, err := tx.GetProduct(ctx, line.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return &ValidationError{Line: i, ProductID: line.ProductID, Err: ErrProductNotFound}
			}
			if err != nil {
				return fmt.Errorf("failed to get product %d: %w", line.ProductID, err)
			}
			if !product.Active {
				return &ValidationError{Line: i, ProductID: line.ProductID, Err: ErrProductInactive}
			}
			products[line.ProductID] = product
		}

		held := make(holds)
		for _, d := range coalesce(lines) {
			available, total, err := s.allocator.capacityTx(ctx, tx, products[d.ProductID], d.StartAt, d.EndAt, d.Quantity, held, &syncs)
			if err != nil {
				return err
			}
			if available < d.Quantity {
				shortage = &Shortage{
					ProductID: d.ProductID,
					StartAt:   d.StartAt,
					EndAt:     d.EndAt,
					Requested: d.Quantity,
					Available: available,
					Total:     total,
				}
				return errShortage
			}
		}

		order = &models.Order{
			CustomerName:   strings.TrimSpace(req.Customer.Name),
			CustomerPhone:  strings.TrimSpace(req.Customer.Phone),
			CustomerEmail:  strings.TrimSpace(req.Customer.Email),
			Address:        strings.TrimSpace(req.Customer.Address),
			Comment:        strings.TrimSpace(req.Customer.Comment),
			Status:         models.OrderStatusPending,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		for i := range lines {
			lines[i].OrderID = order.ID
			if err := tx.CreateOrderLine(ctx, &lines[i]); err != nil {
				return fmt.Errorf("failed to create order line: %w", err)
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, errShortage):
		util.OrdersRejectedTotal.WithLabelValues("insufficient_capacity").Inc()
		s.logger.Info("Order rejected on capacity check", zap.String("shortage", shortage.String()))
		return &CreateOrderResponse{Shortage: shortage}, nil
	case store.IsConflict(err):
		// lost a race with a concurrent request carrying the same key
		existing, lookupErr := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return &CreateOrderResponse{OrderID: existing.ID, Status: existing.Status, Duplicate: true}, nil
		}
		return nil, err
	case err != nil:
		if IsValidation(err) {
			util.OrdersRejectedTotal.WithLabelValues("invalid_request").Inc()
		}
		return nil, err
	}

	syncs.flush(ctx, s.pool)
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int("lines", len(lines)))

	event := &models.OrderCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCreated),
		OrderID:   order.ID,
		Lines:     lineData(lines),
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	s.notify(ctx, order, lines, products)

	return &CreateOrderResponse{OrderID: order.ID, Status: order.Status}, nil
}

// notify delivers the summary and stores the delivery handle. Delivery
// failures leave the order pending; an operator can still resolve it via the admin API.
func (s *OrderService) notify(ctx context.Context, order *models.Order, lines []models.OrderLine, products map[int64]*models.Product) {
	if s.channel == nil {
		return
	}

	summary := buildSummary(order, lines, products)
	handle, err := s.channel.Notify(ctx, order.ID, summary, []string{models.ActionAccept, models.ActionDecline})
	if err != nil {
		util.NotificationsFailedTotal.WithLabelValues("notify").Inc()
		s.logger.Error("Failed to notify confirmation channel",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	if handle == "" {
		return
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.SaveNotification(ctx, &models.OrderNotification{
			OrderID: order.ID,
			Channel: s.channel.Name(),
			Handle:  handle,
		})
	})
	if err != nil {
		s.logger.Error("Failed to save notification handle",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// ResolveOrder applies an operator decision exactly once. Accept allocates
// every coalesced line in one transaction; if any line is short nothing is
// reserved and the order stays pending.
func (s *OrderService) ResolveOrder(ctx context.Context, orderID int64, action string) (*ResolveResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ResolveOrder")
	defer span.End()

	action = strings.ToLower(strings.TrimSpace(action))
	if action != models.ActionAccept && action != models.ActionDecline {
		return nil, ErrInvalidAction
	}

	var (
		result   *ResolveResult
		touched  []int64
		syncs    syncLog
		oid      = orderID
		resolved = time.Now()
	)
	err := inTxRetry(ctx, s.repo, "ResolveOrder", func(tx store.Tx) error {
		result = &ResolveResult{OrderID: orderID}
		touched, syncs = nil, nil

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return translateNotFound(err, ErrOrderNotFound)
		}
		if order.Status != models.OrderStatusPending {
			result.Outcome = OutcomeAlreadyProcessed
			result.Status = order.Status
			return nil
		}

		if action == models.ActionDecline {
			if err := tx.UpdateOrderStatus(ctx, orderID, models.OrderStatusDeclined); err != nil {
				return fmt.Errorf("failed to decline order: %w", err)
			}
			result.Outcome = OutcomeDeclined
			result.Status = models.OrderStatusDeclined
			return nil
		}

		lines, err := tx.ListOrderLines(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to list order lines: %w", err)
		}

		for _, d := range coalesce(lines) {
			product, err := tx.GetProduct(ctx, d.ProductID)
			if err != nil {
				return translateNotFound(err, ErrProductNotFound)
			}
			alloc, err := s.allocator.allocateTx(ctx, tx, product, d.StartAt, d.EndAt, d.Quantity, &oid, &syncs)
			if err != nil {
				return err
			}
			if !alloc.OK {
				result.Outcome = OutcomeInsufficientCapacity
				result.Status = models.OrderStatusPending
				result.Shortage = &Shortage{
					ProductID: d.ProductID,
					StartAt:   d.StartAt,
					EndAt:     d.EndAt,
					Requested: d.Quantity,
					Available: alloc.Available,
					Total:     alloc.Total,
				}
				result.ReservationIDs = nil
				return errShortage
			}
			for _, r := range alloc.Reservations {
				result.ReservationIDs = append(result.ReservationIDs, r.ID)
			}
			touched = append(touched, d.ProductID)
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, models.OrderStatusAccepted); err != nil {
			return fmt.Errorf("failed to accept order: %w", err)
		}
		result.Outcome = OutcomeAccepted
		result.Status = models.OrderStatusAccepted
		return nil
	})
	if err != nil && !errors.Is(err, errShortage) {
		util.OrderResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err == nil {
		syncs.flush(ctx, s.pool)
		for _, productID := range touched {
			s.allocator.invalidate(ctx, productID)
		}
	}

	util.OrderResolutionsTotal.WithLabelValues(string(result.Outcome)).Inc()
	s.logger.Info("Order resolution processed",
		zap.Int64("order_id", orderID),
		zap.String("action", action),
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("took", time.Since(resolved)))

	s.publishResolution(ctx, result)
	if result.Outcome != OutcomeAlreadyProcessed {
		s.updateNotification(ctx, result)
	}
	return result, nil
}

func (s *OrderService) publishResolution(ctx context.Context, result *ResolveResult) {
	var err error
	switch result.Outcome {
	case OutcomeAccepted:
		err = s.publisher.PublishOrderAccepted(ctx, &models.OrderAcceptedEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderAccepted),
			OrderID:        result.OrderID,
			ReservationIDs: result.ReservationIDs,
		})
	case OutcomeDeclined:
		err = s.publisher.PublishOrderDeclined(ctx, &models.OrderDeclinedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderDeclined),
			OrderID:   result.OrderID,
		})
	case OutcomeInsufficientCapacity:
		err = s.publisher.PublishOrderAcceptFailed(ctx, &models.OrderAcceptFailedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderAcceptFailed),
			OrderID:   result.OrderID,
			ProductID: result.Shortage.ProductID,
			Requested: result.Shortage.Requested,
			Available: result.Shortage.Available,
			Total:     result.Shortage.Total,
		})
	}
	if err != nil {
		s.logger.Error("Failed to publish resolution event",
			zap.Int64("order_id", result.OrderID),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
	}
}

// updateNotification rewrites the operator message with the outcome. Both
// actions stay available while the order is still pending.
func (s *OrderService) updateNotification(ctx context.Context, result *ResolveResult) {
	if s.channel == nil {
		return
	}

	n, err := s.repo.GetNotification(ctx, result.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("Failed to load notification handle", zap.Int64("order_id", result.OrderID), zap.Error(err))
		return
	}

	details, err := s.GetOrder(ctx, result.OrderID)
	if err != nil {
		s.logger.Warn("Failed to load order for notification", zap.Int64("order_id", result.OrderID), zap.Error(err))
		return
	}

	var actions []string
	if result.Outcome == OutcomeInsufficientCapacity {
		actions = []string{models.ActionAccept, models.ActionDecline}
	}

	summary := buildSummary(details.Order, details.Lines, s.productsOf(ctx, details.Lines))
	if err := s.channel.UpdateNotification(ctx, n.Handle, resolutionText(summary, result), actions); err != nil {
		util.NotificationsFailedTotal.WithLabelValues("update").Inc()
		s.logger.Error("Failed to update confirmation message",
			zap.Int64("order_id", result.OrderID),
			zap.Error(err))
	}
}

// GetOrder retrieves an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, translateNotFound(err, ErrOrderNotFound)
	}

	lines, err := s.repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order lines: %w", err)
	}

	return &OrderDetails{
		Order: order,
		Lines: lines,
		Total: orderTotal(lines, s.productsOf(ctx, lines)),
	}, nil
}

// ListOrders lists orders, newest first, optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", models.OrderStatusPending, models.OrderStatusAccepted, models.OrderStatusDeclined:
	default:
		return nil, ErrInvalidStatus
	}
	return s.repo.ListOrders(ctx, status)
}

func (s *OrderService) productsOf(ctx context.Context, lines []models.OrderLine) map[int64]*models.Product {
	products := make(map[int64]*models.Product)
	for _, line := range lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			s.logger.Warn("Failed to load product for order", zap.Int64("product_id", line.ProductID), zap.Error(err))
			continue
		}
		products[line.ProductID] = product
	}
	return products
}

// validateCreateOrder checks the request shape and normalizes lines to UTC
func validateCreateOrder(req *CreateOrderRequest) ([]models.OrderLine, error) {
	if req == nil || len(req.Lines) == 0 {
		return nil, ErrNoLines
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Phone) == "" {
		return nil, ErrMissingContact
	}

	lines := make([]models.OrderLine, 0, len(req.Lines))
	for i, l := range req.Lines {
		if l.Quantity < 1 {
			return nil, &ValidationError{Line: i, ProductID: l.ProductID, Err: ErrInvalidQuantity}
		}
		if err := validateWindow(l.StartAt, l.EndAt); err != nil {
			return nil, &ValidationError{Line: i, ProductID: l.ProductID, Err: err}
		}
		lines = append(lines, models.OrderLine{
			ProductID: l.ProductID,
			StartAt:   l.StartAt.UTC(),
			EndAt:     l.EndAt.UTC(),
			Quantity:  l.Quantity,
		})
	}
	return lines, nil
}

// coalesce sums quantities of lines with the same product and window. The
// result is ordered by product then window so concurrent transactions lock
// products in the same order.
func coalesce(lines []models.OrderLine) []demand {
	type key struct {
		productID  int64
		start, end int64
	}

	byKey := make(map[key]*demand)
	out := make([]*demand, 0, len(lines))
	for _, l := range lines {
		k := key{l.ProductID, l.StartAt.UnixNano(), l.EndAt.UnixNano()}
		if d, ok := byKey[k]; ok {
			d.Quantity += l.Quantity
			continue
		}
		d := &demand{ProductID: l.ProductID, StartAt: l.StartAt, EndAt: l.EndAt, Quantity: l.Quantity}
		byKey[k] = d
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].EndAt.Before(out[j].EndAt)
	})

	demands := make([]demand, len(out))
	for i, d := range out {
		demands[i] = *d
	}
	return demands
}

func lineData(lines []models.OrderLine) []models.OrderLineData {
	data := make([]models.OrderLineData, 0, len(lines))
	for _, l := range lines {
		data = append(data, models.OrderLineData{
			ProductID: l.ProductID,
			StartAt:   l.StartAt,
			EndAt:     l.EndAt,
			Quantity:  l.Quantity,
		})
	}
	return data
}
