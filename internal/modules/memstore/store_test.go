package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

func seed() *Store {
	s := New()
	s.PutRider(rider.Rider{ID: "r2", Status: rider.StatusAvailable, VehicleType: rider.VehicleCar, MaxCapacity: 2})
	s.PutRider(rider.Rider{ID: "r1", Status: rider.StatusAvailable, VehicleType: rider.VehicleBike, MaxCapacity: 1})
	s.PutRider(rider.Rider{ID: "r3", Status: rider.StatusOffline, VehicleType: rider.VehicleBike, MaxCapacity: 3})
	s.PutRider(rider.Rider{ID: "r4", Status: rider.StatusAvailable, VehicleType: rider.VehicleBike, CurrentDeliveries: 2, MaxCapacity: 2})
	s.PutDelivery(delivery.Delivery{ID: "d1", Pickup: types.Point{Lat: 25.03, Lng: 121.56}})
	s.PutDelivery(delivery.Delivery{ID: "d2", Pickup: types.Point{Lat: 25.04, Lng: 121.55}})
	return s
}

func commitReq(s *Store, t *testing.T, deliveryID, riderID types.ID) delivery.CommitRequest {
	t.Helper()
	ctx := context.Background()
	d, err := s.GetDelivery(ctx, deliveryID)
	require.NoError(t, err)
	r, err := s.GetRider(ctx, riderID)
	require.NoError(t, err)
	return delivery.CommitRequest{
		Assignment: delivery.Assignment{
			ID: string(deliveryID) + "-" + string(riderID), DeliveryID: deliveryID, RiderID: riderID,
			AssignedAt: time.Now(), SelectionMode: delivery.SelectionAuto,
		},
		RiderVersion:    r.Version,
		DeliveryVersion: d.Version,
	}
}

func TestListRidersSkipsOfflineAndSorts(t *testing.T) {
	s := seed()
	got, err := s.ListRiders(context.Background(), rider.Criteria{})
	require.NoError(t, err)
	ids := []types.ID{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	// r4 is full but on shift; the dispatch filter decides eligibility.
	assert.Equal(t, []types.ID{"r1", "r2", "r4"}, ids)

	cars, err := s.ListRiders(context.Background(), rider.Criteria{VehicleTypes: []rider.VehicleType{rider.VehicleCar}})
	require.NoError(t, err)
	require.Len(t, cars, 1)
	assert.Equal(t, types.ID("r2"), cars[0].ID)
}

func TestGetReturnsCopies(t *testing.T) {
	s := seed()
	ctx := context.Background()
	require.NoError(t, s.PersistLocation(ctx, location.Position{RiderID: "r1", Point: types.Point{Lat: 1, Lng: 1}, RecordedAt: time.Now()}))

	r, err := s.GetRider(ctx, "r1")
	require.NoError(t, err)
	r.Location.Point.Lat = 50
	r.CurrentDeliveries = 9

	again, err := s.GetRider(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Location.Point.Lat)
	assert.Equal(t, 0, again.CurrentDeliveries)
}

func TestNotFound(t *testing.T) {
	s := seed()
	ctx := context.Background()
	_, err := s.GetRider(ctx, "nope")
	assert.ErrorIs(t, err, rider.ErrNotFound)
	_, err = s.GetDelivery(ctx, "nope")
	assert.ErrorIs(t, err, delivery.ErrNotFound)
	a, err := s.ActiveAssignment(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCommitAppliesAllOrNothing(t *testing.T) {
	s := seed()
	ctx := context.Background()
	req := commitReq(s, t, "d1", "r2")
	require.NoError(t, s.Commit(ctx, req))

	r, _ := s.GetRider(ctx, "r2")
	d, _ := s.GetDelivery(ctx, "d1")
	a, _ := s.ActiveAssignment(ctx, "d1")
	assert.Equal(t, 1, r.CurrentDeliveries)
	assert.Equal(t, 1, r.Version)
	require.NotNil(t, d.AssignedRiderID)
	assert.Equal(t, types.ID("r2"), *d.AssignedRiderID)
	require.NotNil(t, a)
	assert.Equal(t, types.ID("r2"), a.RiderID)

	// Stale versions: nothing changes.
	err := s.Commit(ctx, req)
	assert.ErrorIs(t, err, delivery.ErrVersionConflict)
	r, _ = s.GetRider(ctx, "r2")
	assert.Equal(t, 1, r.CurrentDeliveries)
}

func TestCommitRejectsFullRider(t *testing.T) {
	s := seed()
	req := commitReq(s, t, "d1", "r4")
	err := s.Commit(context.Background(), req)
	assert.True(t, errors.Is(err, delivery.ErrVersionConflict))
	d, _ := s.GetDelivery(context.Background(), "d1")
	assert.False(t, d.Assigned())
}

func TestConcurrentCommitsForLastSlot(t *testing.T) {
	s := seed()
	reqs := []delivery.CommitRequest{commitReq(s, t, "d1", "r1"), commitReq(s, t, "d2", "r1")}

	start := make(chan struct{})
	errs := make(chan error, len(reqs))
	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req delivery.CommitRequest) {
			defer wg.Done()
			<-start
			errs <- s.Commit(context.Background(), req)
		}(req)
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, delivery.ErrVersionConflict)
	}
	assert.Equal(t, 1, success)
	r, _ := s.GetRider(context.Background(), "r1")
	assert.Equal(t, 1, r.CurrentDeliveries)
}

func TestPersistLocationIgnoresOlderFix(t *testing.T) {
	s := seed()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PersistLocation(ctx, location.Position{RiderID: "r1", Point: types.Point{Lat: 2, Lng: 2}, RecordedAt: now}))
	require.NoError(t, s.PersistLocation(ctx, location.Position{RiderID: "r1", Point: types.Point{Lat: 3, Lng: 3}, RecordedAt: now.Add(-time.Minute)}))
	r, _ := s.GetRider(ctx, "r1")
	assert.Equal(t, 2.0, r.Location.Point.Lat)

	err := s.PersistLocation(ctx, location.Position{RiderID: "ghost", RecordedAt: now})
	assert.ErrorIs(t, err, rider.ErrNotFound)
	assert.ErrorIs(t, err, location.ErrUnknownRider)
}
