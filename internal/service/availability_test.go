package service

import (
	"context"
	"testing"
	"time"

	"rental-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeUnits_RejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Boat", 1)

	_, err := f.availability.FreeUnits(context.Background(), p.ID, jan(2, 0), jan(1, 0))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Trailer", 3)

	_, err := f.allocator.Allocate(ctx, p.ID, jan(3, 0), jan(5, 0), 2)
	require.NoError(t, err)

	view, err := f.availability.GetAvailability(ctx, p.ID, jan(4, 0), jan(6, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, view.Available)
	assert.Equal(t, 3, view.Total)

	view, err = f.availability.GetAvailability(ctx, p.ID, jan(5, 0), jan(6, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, view.Available)
}

func TestOccupancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Speaker", 3)

	_, err := f.allocator.Allocate(ctx, p.ID, jan(10, 0), jan(12, 0), 1)
	require.NoError(t, err)
	_, err = f.allocator.Allocate(ctx, p.ID, jan(9, 0), jan(11, 0), 1)
	require.NoError(t, err)

	f.availability.now = func() time.Time { return jan(10, 12) }

	occ, err := f.availability.Occupancy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, occ.Total)
	assert.Equal(t, 2, occ.BusyNow)
	assert.Equal(t, 1, occ.AvailableNow)
	assert.False(t, occ.OutOfStock)
	require.NotNil(t, occ.NextFreeAt)
	assert.True(t, occ.NextFreeAt.Equal(jan(11, 0)))
}

func TestOccupancy_OutOfStockDiffersFromFullyBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	empty := f.product(t, "Nothing left", 0)
	booked := f.product(t, "All out", 1)

	_, err := f.allocator.Allocate(ctx, booked.ID, jan(1, 0), jan(2, 0), 1)
	require.NoError(t, err)
	f.availability.now = func() time.Time { return jan(1, 6) }

	occ, err := f.availability.Occupancy(ctx, empty.ID)
	require.NoError(t, err)
	assert.True(t, occ.OutOfStock)
	assert.Equal(t, 0, occ.BusyNow)
	assert.Nil(t, occ.NextFreeAt)

	occ, err = f.availability.Occupancy(ctx, booked.ID)
	require.NoError(t, err)
	assert.False(t, occ.OutOfStock)
	assert.Equal(t, 0, occ.AvailableNow)
}

func TestOccupancy_CachedUntilNextFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Heater", 1)

	_, err := f.allocator.Allocate(ctx, p.ID, jan(1, 0), jan(2, 0), 1)
	require.NoError(t, err)

	f.availability.now = func() time.Time { return jan(1, 6) }
	occ, err := f.availability.Occupancy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, occ.BusyNow)

	cached, err := f.cache.GetOccupancy(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// the cached view expires once its next free instant passes
	f.availability.now = func() time.Time { return jan(2, 1) }
	occ, err = f.availability.Occupancy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, occ.BusyNow)
	assert.Nil(t, occ.NextFreeAt)
}

func TestUnitStatuses_ChainsBackToBackReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Crane", 2)

	for _, w := range [][2]time.Time{
		{jan(1, 0), jan(2, 0)},
		{jan(2, 0), jan(3, 0)},
		{jan(4, 0), jan(5, 0)},
	} {
		alloc, err := f.allocator.Allocate(ctx, p.ID, w[0], w[1], 1)
		require.NoError(t, err)
		require.True(t, alloc.OK)
	}

	f.availability.now = func() time.Time { return jan(1, 12) }
	statuses, err := f.availability.UnitStatuses(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	require.NotNil(t, statuses[0].BusyUntil)
	assert.True(t, statuses[0].BusyUntil.Equal(jan(3, 0)))
	assert.Nil(t, statuses[1].BusyUntil)
}

func TestBusyUntil(t *testing.T) {
	rs := []models.Reservation{
		{StartAt: jan(1, 0), EndAt: jan(2, 0)},
		{StartAt: jan(2, 0), EndAt: jan(2, 12)},
		{StartAt: jan(3, 0), EndAt: jan(4, 0)},
	}

	until, ok := busyUntil(rs, jan(1, 1))
	require.True(t, ok)
	assert.True(t, until.Equal(jan(2, 12)))

	_, ok = busyUntil(rs, jan(2, 13))
	assert.False(t, ok)
}
