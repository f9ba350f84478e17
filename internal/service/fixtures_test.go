package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = util.InitLogger("test")
}

type fixture struct {
	repo         *store.MemoryStore
	pool         *UnitPool
	availability *Availability
	allocator    *Allocator
	orders       *OrderService
	inventory    *InventoryService
	channel      *fakeChannel
	publisher    *recordingPublisher
	cache        *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      store.NewMemoryStore(),
		channel:   &fakeChannel{},
		publisher: &recordingPublisher{},
		cache:     newMapCache(),
	}
	f.pool = NewUnitPool(f.repo, f.publisher, f.cache)
	f.availability = NewAvailability(f.repo, f.cache)
	f.allocator = NewAllocator(f.repo, f.pool, f.cache)
	f.orders = NewOrderService(f.repo, f.allocator, f.publisher, f.channel)
	f.inventory = NewInventoryService(f.repo, f.pool, f.availability, f.allocator)
	return f
}

func (f *fixture) product(t *testing.T, name string, quantity int) *models.Product {
	t.Helper()
	p, err := f.inventory.CreateProduct(context.Background(), ProductInput{
		Name:       name,
		Quantity:   quantity,
		DailyPrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) reservationCount(t *testing.T, productID int64) int {
	t.Helper()
	rs, err := f.repo.ListReservations(context.Background(), productID)
	require.NoError(t, err)
	return len(rs)
}

func (f *fixture) activeOrdinals(t *testing.T, productID int64) []int {
	t.Helper()
	units, err := f.repo.ListUnits(context.Background(), productID)
	require.NoError(t, err)
	out := []int{}
	for _, u := range units {
		if u.Active {
			out = append(out, u.UnitNo)
		}
	}
	return out
}

// jan returns an instant in January 2025, UTC
func jan(day, hour int) time.Time {
	return time.Date(2025, time.January, day, hour, 0, 0, 0, time.UTC)
}

func orderRequest(lines ...OrderLineRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		Customer: CustomerRequest{Name: "Ivan Petrov", Phone: "+70000000000", Address: "Main st. 1"},
		Lines:    lines,
	}
}

func line(productID int64, start, end time.Time, qty int) OrderLineRequest {
	return OrderLineRequest{ProductID: productID, StartAt: start, EndAt: end, Quantity: qty}
}

type notification struct {
	OrderID int64
	Text    string
	Actions []string
}

type fakeChannel struct {
	mu       sync.Mutex
	sent     []notification
	updates  map[string]notification
	failNext bool
}

func (c *fakeChannel) Name() string { return "fake" }

func (c *fakeChannel) Notify(_ context.Context, orderID int64, summary string, actions []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return "", fmt.Errorf("channel down")
	}
	c.sent = append(c.sent, notification{OrderID: orderID, Text: summary, Actions: actions})
	return fmt.Sprintf("msg-%d", orderID), nil
}

func (c *fakeChannel) UpdateNotification(_ context.Context, handle, text string, actions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updates == nil {
		c.updates = make(map[string]notification)
	}
	c.updates[handle] = notification{Text: text, Actions: actions}
	return nil
}

func (c *fakeChannel) update(handle string) (notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.updates[handle]
	return n, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderAccepted(_ context.Context, e *models.OrderAcceptedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderDeclined(_ context.Context, e *models.OrderDeclinedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderAcceptFailed(_ context.Context, e *models.OrderAcceptFailedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishReservationDeleted(_ context.Context, e *models.ReservationDeletedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishProductUnitsSynced(_ context.Context, e *models.ProductUnitsSyncedEvent) error {
	return p.record(e.EventType)
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[int64]models.Occupancy
	invalidated map[int64]int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[int64]models.Occupancy), invalidated: make(map[int64]int)}
}

func (c *mapCache) GetOccupancy(_ context.Context, productID int64) (*models.Occupancy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	occ, ok := c.entries[productID]
	if !ok {
		return nil, nil
	}
	return &occ, nil
}

func (c *mapCache) SetOccupancy(_ context.Context, occ *models.Occupancy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[occ.ProductID] = *occ
	return nil
}

func (c *mapCache) InvalidateProduct(_ context.Context, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	c.invalidated[productID]++
	return nil
}
