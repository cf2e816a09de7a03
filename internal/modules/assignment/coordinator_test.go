package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/memstore"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
	"riderdispatch/internal/types"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []delivery.Assignment
	err    error
}

func (p *recordingPublisher) AssignmentCommitted(_ context.Context, a delivery.Assignment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, a)
	return p.err
}

type conflictCounter struct {
	mu sync.Mutex
	n  int
}

func (c *conflictCounter) CommitConflict() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// flakyLedger reports a version conflict for the first `fail` commits.
type flakyLedger struct {
	next  Ledger
	mu    sync.Mutex
	fail  int
	calls int
	hook  func()
}

func (l *flakyLedger) Commit(ctx context.Context, req delivery.CommitRequest) error {
	l.mu.Lock()
	l.calls++
	failing := l.calls <= l.fail
	l.mu.Unlock()
	if l.hook != nil {
		l.hook()
	}
	if failing {
		return delivery.ErrVersionConflict
	}
	return l.next.Commit(ctx, req)
}

func testAssignmentCfg() config.AssignmentConfig {
	return config.AssignmentConfig{
		MaxAttempts: 3,
		Backoff:     config.BackoffConfig{Initial: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond},
	}
}

func seedStore() *memstore.Store {
	s := memstore.New()
	s.PutRider(rider.Rider{ID: "r1", Name: "Ann", Status: rider.StatusAvailable, VehicleType: rider.VehicleBike, MaxCapacity: 2, Rating: 4.8})
	s.PutRider(rider.Rider{ID: "r_full", Status: rider.StatusAvailable, VehicleType: rider.VehicleBike, CurrentDeliveries: 3, MaxCapacity: 3})
	s.PutRider(rider.Rider{ID: "r_off", Status: rider.StatusOffline, VehicleType: rider.VehicleBike, MaxCapacity: 3})
	s.PutRider(rider.Rider{ID: "r_last", Status: rider.StatusAvailable, VehicleType: rider.VehicleCar, CurrentDeliveries: 1, MaxCapacity: 2})
	s.PutDelivery(delivery.Delivery{ID: "d1", Pickup: types.Point{Lat: 25.03, Lng: 121.56}})
	s.PutDelivery(delivery.Delivery{ID: "d_car", Pickup: types.Point{Lat: 25.03, Lng: 121.56}, RequiredVehicleTypes: []rider.VehicleType{rider.VehicleCar}})
	return s
}

func newTestCoordinator(s *memstore.Store, ledger Ledger, opts ...Option) *Coordinator {
	if ledger == nil {
		ledger = s
	}
	return NewCoordinator(s, s, ledger, testAssignmentCfg(), zerolog.Nop(), opts...)
}

func TestCommitSuccess(t *testing.T) {
	s := seedStore()
	pub := &recordingPublisher{}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestCoordinator(s, nil, WithPublisher(pub), WithClock(func() time.Time { return at }))

	res, err := c.Commit(context.Background(), CommitCommand{
		DeliveryID: "d1",
		RiderID:    "r1",
		Route:      routing.Route{DistanceKm: 1.2, DurationMinutes: 4, Estimated: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, delivery.SelectionAuto, res.Assignment.SelectionMode)
	assert.Equal(t, at, res.Assignment.AssignedAt)
	assert.True(t, res.Assignment.Estimated)
	assert.NotEmpty(t, res.Assignment.ID)
	assert.Equal(t, 1, res.Rider.CurrentDeliveries)

	stored, err := s.GetRider(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentDeliveries)

	active, err := s.ActiveAssignment(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.Assignment.ID, active.ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, res.Assignment.ID, pub.events[0].ID)
}

func TestCommitBusinessRuleErrors(t *testing.T) {
	cases := []struct {
		name       string
		deliveryID types.ID
		riderID    types.ID
		want       error
	}{
		{"capacity", "d1", "r_full", ErrCapacityExceeded},
		{"offline", "d1", "r_off", ErrRiderUnavailable},
		{"vehicle", "d_car", "r1", ErrRiderUnavailable},
		{"missing delivery", "ghost", "r1", ErrNotFound},
		{"missing rider", "d1", "ghost", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := seedStore()
			c := newTestCoordinator(s, nil)
			_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: tc.deliveryID, RiderID: tc.riderID})
			assert.ErrorIs(t, err, tc.want)

			d, getErr := s.GetDelivery(context.Background(), "d1")
			require.NoError(t, getErr)
			assert.False(t, d.Assigned())
		})
	}
}

func TestCommitAlreadyAssigned(t *testing.T) {
	s := seedStore()
	c := newTestCoordinator(s, nil)
	_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	require.NoError(t, err)

	_, err = c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r_last"})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	r, _ := s.GetRider(context.Background(), "r_last")
	assert.Equal(t, 1, r.CurrentDeliveries)
}

func TestCommitRetriesOnVersionConflict(t *testing.T) {
	s := seedStore()
	ledger := &flakyLedger{next: s, fail: 2}
	counter := &conflictCounter{}
	c := newTestCoordinator(s, ledger, WithConflictRecorder(counter))

	res, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, counter.n)
}

func TestCommitConflictExhausted(t *testing.T) {
	s := seedStore()
	ledger := &flakyLedger{next: s, fail: 10}
	counter := &conflictCounter{}
	c := newTestCoordinator(s, ledger, WithConflictRecorder(counter))

	_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, ledger.calls)
	assert.Equal(t, 3, counter.n)

	d, _ := s.GetDelivery(context.Background(), "d1")
	assert.False(t, d.Assigned())
}

func TestCommitCancelledDuringBackoff(t *testing.T) {
	s := seedStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := &flakyLedger{next: s, fail: 10, hook: cancel}
	c := newTestCoordinator(s, ledger)

	_, err := c.Commit(ctx, CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, ledger.calls)
}

func TestCommitPublisherFailureIsNotFatal(t *testing.T) {
	s := seedStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	c := newTestCoordinator(s, nil, WithPublisher(pub))

	_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func TestCommitLedgerErrorIsWrapped(t *testing.T) {
	s := seedStore()
	boom := errors.New("disk full")
	c := newTestCoordinator(s, ledgerFunc(func(context.Context, delivery.CommitRequest) error { return boom }))

	_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: "r1"})
	assert.ErrorIs(t, err, boom)
}

type ledgerFunc func(context.Context, delivery.CommitRequest) error

func (f ledgerFunc) Commit(ctx context.Context, req delivery.CommitRequest) error { return f(ctx, req) }

func TestConcurrentCommitsSameDelivery(t *testing.T) {
	s := seedStore()
	for i := 0; i < 8; i++ {
		s.PutRider(rider.Rider{ID: types.ID(fmt.Sprintf("rc%d", i)), Status: rider.StatusAvailable, VehicleType: rider.VehicleBike, MaxCapacity: 1})
	}
	c := newTestCoordinator(s, nil)

	start := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: "d1", RiderID: id})
			errs <- err
		}(types.ID(fmt.Sprintf("rc%d", i)))
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
		if !errors.Is(err, ErrAlreadyAssigned) && !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)

	total := 0
	for i := 0; i < 8; i++ {
		r, _ := s.GetRider(context.Background(), types.ID(fmt.Sprintf("rc%d", i)))
		total += r.CurrentDeliveries
	}
	assert.Equal(t, 1, total)
}

func TestConcurrentCommitsLastSlot(t *testing.T) {
	s := seedStore()
	const n = 6
	for i := 0; i < n; i++ {
		s.PutDelivery(delivery.Delivery{ID: types.ID(fmt.Sprintf("dl%d", i))})
	}
	c := newTestCoordinator(s, nil)

	start := make(chan struct{})
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			_, err := c.Commit(context.Background(), CommitCommand{DeliveryID: id, RiderID: "r_last"})
			errs <- err
		}(types.ID(fmt.Sprintf("dl%d", i)))
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
		if !errors.Is(err, ErrCapacityExceeded) && !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	r, _ := s.GetRider(context.Background(), "r_last")
	assert.Equal(t, 2, r.CurrentDeliveries)
	assert.LessOrEqual(t, r.CurrentDeliveries, r.MaxCapacity)
}

func TestValidate(t *testing.T) {
	s := seedStore()
	c := newTestCoordinator(s, nil)

	r, err := c.Validate(context.Background(), "d1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", r.Name)

	_, err = c.Validate(context.Background(), "d1", "r_full")
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	stored, _ := s.GetRider(context.Background(), "r1")
	assert.Equal(t, 0, stored.CurrentDeliveries)
}

func TestBackoff(t *testing.T) {
	c := NewCoordinator(nil, nil, nil, config.AssignmentConfig{
		MaxAttempts: 5,
		Backoff:     config.BackoffConfig{Initial: 10 * time.Millisecond, Multiplier: 2, Max: 30 * time.Millisecond},
	}, zerolog.Nop())
	assert.Equal(t, 10*time.Millisecond, c.backoff(1))
	assert.Equal(t, 20*time.Millisecond, c.backoff(2))
	assert.Equal(t, 30*time.Millisecond, c.backoff(3))
	assert.Equal(t, 30*time.Millisecond, c.backoff(4))
}
