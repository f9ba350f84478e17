package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"rental-service/internal/models"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
)

const featureTimeLayout = "2006-01-02 15:04"

type reservationTestContext struct {
	f        *fixture
	products map[string]*models.Product
	orders   map[string]int64
	alloc    *Allocation
	created  *CreateOrderResponse
	resolved *ResolveResult
	t        *testing.T
}

func (c *reservationTestContext) reset(t *testing.T) {
	c.f = newFixture(t)
	c.products = make(map[string]*models.Product)
	c.orders = make(map[string]int64)
	c.alloc = nil
	c.created = nil
	c.resolved = nil
}

func parseFeatureTime(s string) (time.Time, error) {
	return time.ParseInLocation(featureTimeLayout, s, time.UTC)
}

func (c *reservationTestContext) productNamed(name string) (*models.Product, error) {
	p, ok := c.products[name]
	if !ok {
		return nil, fmt.Errorf("unknown product %q", name)
	}
	return p, nil
}

func (c *reservationTestContext) aProductWithUnits(name string, qty int) error {
	p, err := c.f.inventory.CreateProduct(context.Background(), ProductInput{
		Name:       name,
		Quantity:   qty,
		DailyPrice: decimal.NewFromInt(10),
	})
	if err != nil {
		return err
	}
	c.products[name] = p
	return nil
}

func (c *reservationTestContext) theQuantityIsChangedTo(name string, qty int) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	_, err = c.f.inventory.UpdateProduct(context.Background(), p.ID, ProductInput{Name: p.Name, Quantity: qty})
	return err
}

func (c *reservationTestContext) iAllocateUnits(qty int, name, from, to string) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	start, err := parseFeatureTime(from)
	if err != nil {
		return err
	}
	end, err := parseFeatureTime(to)
	if err != nil {
		return err
	}
	c.alloc, err = c.f.allocator.Allocate(context.Background(), p.ID, start, end, qty)
	return err
}

func (c *reservationTestContext) theAllocationSucceedsWithUnits(list string) error {
	if c.alloc == nil || !c.alloc.OK {
		return fmt.Errorf("expected a successful allocation, got %+v", c.alloc)
	}
	got := make([]string, 0, len(c.alloc.Reservations))
	for _, r := range c.alloc.Reservations {
		got = append(got, strconv.Itoa(r.UnitNo))
	}
	if strings.Join(got, ",") != list {
		return fmt.Errorf("expected units %s, got %s", list, strings.Join(got, ","))
	}
	return nil
}

func (c *reservationTestContext) theAllocationFailsWith(available, total int) error {
	if c.alloc == nil || c.alloc.OK {
		return fmt.Errorf("expected a failed allocation, got %+v", c.alloc)
	}
	if c.alloc.Available != available || c.alloc.Total != total {
		return fmt.Errorf("expected %d of %d available, got %d of %d", available, total, c.alloc.Available, c.alloc.Total)
	}
	return nil
}

func (c *reservationTestContext) theFreeUnitsAre(name, from, to, list string) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	start, err := parseFeatureTime(from)
	if err != nil {
		return err
	}
	end, err := parseFeatureTime(to)
	if err != nil {
		return err
	}
	free, err := c.f.availability.FreeUnits(context.Background(), p.ID, start, end)
	if err != nil {
		return err
	}
	got := make([]string, 0, len(free))
	for _, u := range free {
		got = append(got, strconv.Itoa(u.UnitNo))
	}
	if strings.Join(got, ",") != list {
		return fmt.Errorf("expected free units %q, got %q", list, strings.Join(got, ","))
	}
	return nil
}

func (c *reservationTestContext) theActiveUnitsAre(name, list string) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	got := make([]string, 0)
	for _, no := range c.f.activeOrdinals(c.t, p.ID) {
		got = append(got, strconv.Itoa(no))
	}
	if strings.Join(got, ",") != list {
		return fmt.Errorf("expected active units %q, got %q", list, strings.Join(got, ","))
	}
	return nil
}

func (c *reservationTestContext) orderIsPlaced(label, from, to string, table *godog.Table) error {
	start, err := parseFeatureTime(from)
	if err != nil {
		return err
	}
	end, err := parseFeatureTime(to)
	if err != nil {
		return err
	}

	req := orderRequest()
	for _, row := range table.Rows[1:] {
		p, err := c.productNamed(row.Cells[0].Value)
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(row.Cells[1].Value)
		if err != nil {
			return err
		}
		req.Lines = append(req.Lines, line(p.ID, start, end, qty))
	}

	c.created, err = c.f.orders.CreateOrder(context.Background(), req)
	if err != nil {
		return err
	}
	if c.created.Shortage == nil {
		c.orders[label] = c.created.OrderID
	}
	return nil
}

func (c *reservationTestContext) theOrderIsRejectedWith(available, total int, name string) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	s := c.created.Shortage
	if s == nil {
		return fmt.Errorf("expected the order to be rejected")
	}
	if s.ProductID != p.ID || s.Available != available || s.Total != total {
		return fmt.Errorf("unexpected shortage %s", s.String())
	}
	return nil
}

func (c *reservationTestContext) theOperatorResolves(action, label string) error {
	id, ok := c.orders[label]
	if !ok {
		return fmt.Errorf("unknown order %q", label)
	}
	var err error
	c.resolved, err = c.f.orders.ResolveOrder(context.Background(), id, strings.TrimSuffix(action, "s"))
	return err
}

func (c *reservationTestContext) theOutcomeIs(outcome string) error {
	if c.resolved == nil || string(c.resolved.Outcome) != outcome {
		return fmt.Errorf("expected outcome %s, got %+v", outcome, c.resolved)
	}
	return nil
}

func (c *reservationTestContext) orderHasStatus(label, status string) error {
	details, err := c.f.orders.GetOrder(context.Background(), c.orders[label])
	if err != nil {
		return err
	}
	if details.Order.Status != status {
		return fmt.Errorf("expected status %s, got %s", status, details.Order.Status)
	}
	return nil
}

func (c *reservationTestContext) productHasReservations(name string, n int) error {
	p, err := c.productNamed(name)
	if err != nil {
		return err
	}
	if got := c.f.reservationCount(c.t, p.ID); got != n {
		return fmt.Errorf("expected %d reservations, got %d", n, got)
	}
	return nil
}

func initializeReservationScenario(t *testing.T) func(ctx *godog.ScenarioContext) {
	return func(ctx *godog.ScenarioContext) {
		tc := &reservationTestContext{t: t}

		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			tc.reset(t)
			return ctx, nil
		})

		ctx.Step(`^a product "([^"]*)" with (\d+) units?$`, tc.aProductWithUnits)
		ctx.Step(`^the quantity of "([^"]*)" is changed to (\d+)$`, tc.theQuantityIsChangedTo)
		ctx.Step(`^I allocate (\d+) units? of "([^"]*)" from "([^"]*)" to "([^"]*)"$`, tc.iAllocateUnits)
		ctx.Step(`^order "([^"]*)" is placed from "([^"]*)" to "([^"]*)":$`, tc.orderIsPlaced)
		ctx.Step(`^the operator (accepts|declines) order "([^"]*)"$`, tc.theOperatorResolves)

		ctx.Step(`^the allocation succeeds with units "([^"]*)"$`, tc.theAllocationSucceedsWithUnits)
		ctx.Step(`^the allocation fails with (\d+) of (\d+) available$`, tc.theAllocationFailsWith)
		ctx.Step(`^the free units of "([^"]*)" from "([^"]*)" to "([^"]*)" are "([^"]*)"$`, tc.theFreeUnitsAre)
		ctx.Step(`^the active units of "([^"]*)" are "([^"]*)"$`, tc.theActiveUnitsAre)
		ctx.Step(`^the order is rejected with (\d+) of (\d+) "([^"]*)" available$`, tc.theOrderIsRejectedWith)
		ctx.Step(`^the outcome is "([^"]*)"$`, tc.theOutcomeIs)
		ctx.Step(`^order "([^"]*)" has status "([^"]*)"$`, tc.orderHasStatus)
		ctx.Step(`^"([^"]*)" has (\d+) reservations?$`, tc.productHasReservations)
	}
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeReservationScenario(t),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/reservation.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
