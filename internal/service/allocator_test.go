package service

import (
	"context"
	"sync"
	"testing"

	"rental-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_LowestOrdinalsFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Tent", 4)

	first, err := f.allocator.Allocate(ctx, p.ID, jan(10, 10), jan(12, 10), 1)
	require.NoError(t, err)
	require.True(t, first.OK)
	assert.Equal(t, 1, first.Reservations[0].UnitNo)

	second, err := f.allocator.Allocate(ctx, p.ID, jan(11, 0), jan(11, 12), 2)
	require.NoError(t, err)
	require.True(t, second.OK)
	assert.Equal(t, 2, second.Reservations[0].UnitNo)
	assert.Equal(t, 3, second.Reservations[1].UnitNo)
}

func TestAllocate_OverlapAndBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Projector", 2)

	w1, err := f.allocator.Allocate(ctx, p.ID, jan(10, 10), jan(12, 10), 2)
	require.NoError(t, err)
	require.True(t, w1.OK)
	assert.Len(t, w1.UnitIDs, 2)

	free, err := f.availability.FreeUnits(ctx, p.ID, jan(11, 0), jan(11, 12))
	require.NoError(t, err)
	assert.Empty(t, free)

	w2, err := f.allocator.Allocate(ctx, p.ID, jan(11, 0), jan(11, 12), 1)
	require.NoError(t, err)
	assert.False(t, w2.OK)
	assert.Equal(t, 0, w2.Available)
	assert.Equal(t, 2, w2.Total)

	// starts exactly when W1 ends
	w3, err := f.allocator.Allocate(ctx, p.ID, jan(12, 10), jan(13, 10), 2)
	require.NoError(t, err)
	assert.True(t, w3.OK)
}

func TestAllocate_ShortageReservesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Kayak", 3)

	_, err := f.allocator.Allocate(ctx, p.ID, jan(5, 0), jan(6, 0), 2)
	require.NoError(t, err)
	before := f.reservationCount(t, p.ID)

	alloc, err := f.allocator.Allocate(ctx, p.ID, jan(5, 12), jan(7, 0), 2)
	require.NoError(t, err)
	assert.False(t, alloc.OK)
	assert.Equal(t, 1, alloc.Available)
	assert.Equal(t, 3, alloc.Total)
	assert.Equal(t, before, f.reservationCount(t, p.ID))
}

func TestAllocate_ZeroUnitsFailsFast(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Sold off", 0)

	alloc, err := f.allocator.Allocate(context.Background(), p.ID, jan(5, 0), jan(6, 0), 1)
	require.NoError(t, err)
	assert.False(t, alloc.OK)
	assert.Equal(t, 0, alloc.Available)
	assert.Equal(t, 0, alloc.Total)
}

func TestAllocate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Bike", 1)

	_, err := f.allocator.Allocate(ctx, p.ID, jan(5, 0), jan(5, 0), 1)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = f.allocator.Allocate(ctx, p.ID, jan(5, 0), jan(6, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = f.allocator.Allocate(ctx, 404, jan(5, 0), jan(6, 0), 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestAllocate_StoreFailureLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Scaffold", 3)

	f.repo.FailAfter("InsertReservation", 1)

	alloc, err := f.allocator.Allocate(ctx, p.ID, jan(1, 0), jan(2, 0), 2)
	assert.Nil(t, alloc)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.True(t, store.IsRetryable(err))
	assert.Equal(t, 0, f.reservationCount(t, p.ID))
}

func TestAllocate_InvalidatesOccupancyCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Van", 1)

	before := f.cache.invalidated[p.ID]
	_, err := f.allocator.Allocate(ctx, p.ID, jan(1, 0), jan(2, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.cache.invalidated[p.ID])
}

func TestAllocate_ConcurrentRequestsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Camera", 3)

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every window overlaps jan 10 12:00
			alloc, err := f.allocator.Allocate(ctx, p.ID, jan(10, i%6), jan(11, i%6), 1)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			if alloc.OK {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, granted)

	rs, err := f.repo.ListReservations(ctx, p.ID)
	require.NoError(t, err)
	for i := range rs {
		for j := i + 1; j < len(rs); j++ {
			if rs[i].UnitID != rs[j].UnitID {
				continue
			}
			overlap := !(rs[i].EndAt.Compare(rs[j].StartAt) <= 0 || rs[j].EndAt.Compare(rs[i].StartAt) <= 0)
			assert.False(t, overlap, "reservations %d and %d overlap on unit %d", rs[i].ID, rs[j].ID, rs[i].UnitID)
		}
	}
}
