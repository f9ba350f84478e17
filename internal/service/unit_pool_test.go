package service

import (
	"context"
	"testing"

	"rental-service/internal/models"
	"rental-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncUnits_ActiveSetMatchesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Drill", 3)

	assert.Equal(t, []int{1, 2, 3}, f.activeOrdinals(t, p.ID))

	res, err := f.pool.SyncUnits(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deactivated)
	assert.Equal(t, []int{1}, f.activeOrdinals(t, p.ID))

	res, err = f.pool.SyncUnits(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Activated)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, []int{1, 2, 3, 4}, f.activeOrdinals(t, p.ID))

	units, err := f.repo.ListUnits(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, units, 4, "units are never removed")
}

func TestSyncUnits_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Ladder", 2)

	before := f.publisher.count(models.EventTypeProductUnitsSynced)
	res, err := f.pool.SyncUnits(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, before, f.publisher.count(models.EventTypeProductUnitsSynced))
}

func TestSyncUnits_NegativeQuantityClamped(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Saw", 2)

	res, err := f.pool.SyncUnits(context.Background(), p.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Quantity)
	assert.Empty(t, f.activeOrdinals(t, p.ID))
}

func TestSyncUnits_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.pool.SyncUnits(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestEnsureUnits_RepairsProductWithoutUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy := &models.Product{Name: "Legacy mixer", Quantity: 2, Active: true}
	require.NoError(t, f.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, legacy)
	}))
	assert.Empty(t, f.activeOrdinals(t, legacy.ID))

	res, err := f.pool.EnsureUnits(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, []int{1, 2}, f.activeOrdinals(t, legacy.ID))

	res, err = f.pool.EnsureUnits(ctx, legacy.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(t, "In sync", 1)

	drifted := &models.Product{Name: "Drifted", Quantity: 3, Active: true}
	require.NoError(t, f.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, drifted)
	}))

	changed, err := f.pool.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, []int{1, 2, 3}, f.activeOrdinals(t, drifted.ID))
}

func TestShrinkingPoolKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Generator", 2)

	alloc, err := f.allocator.Allocate(ctx, p.ID, jan(1, 10), jan(3, 10), 2)
	require.NoError(t, err)
	require.True(t, alloc.OK)

	_, err = f.inventory.UpdateProduct(ctx, p.ID, ProductInput{Name: "Generator", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, f.activeOrdinals(t, p.ID))

	rs, err := f.inventory.ListReservations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, 2, rs[1].UnitNo)

	free, err := f.availability.FreeUnits(ctx, p.ID, jan(20, 0), jan(21, 0))
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, 1, free[0].UnitNo)
}
