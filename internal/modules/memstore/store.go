// README: In-memory rider/delivery store and ledger for local runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

// Store keeps riders, deliveries and assignments behind one mutex so a
// commit observes and updates both rows atomically.
type Store struct {
	mu          sync.Mutex
	riders      map[types.ID]rider.Rider
	deliveries  map[types.ID]delivery.Delivery
	assignments map[types.ID]delivery.Assignment
}

func New() *Store {
	return &Store{
		riders:      make(map[types.ID]rider.Rider),
		deliveries:  make(map[types.ID]delivery.Delivery),
		assignments: make(map[types.ID]delivery.Assignment),
	}
}

func (s *Store) PutRider(r rider.Rider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riders[r.ID] = copyRider(r)
}

func (s *Store) PutDelivery(d delivery.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Priority == "" {
		d.Priority = delivery.PriorityNormal
	}
	s.deliveries[d.ID] = copyDelivery(d)
}

func (s *Store) ListRiders(ctx context.Context, c rider.Criteria) ([]rider.Rider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rider.Rider, 0, len(s.riders))
	for _, r := range s.riders {
		if r.Status == rider.StatusOffline {
			continue
		}
		if len(c.VehicleTypes) > 0 && !containsVehicle(c.VehicleTypes, r.VehicleType) {
			continue
		}
		out = append(out, copyRider(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRider(ctx context.Context, id types.ID) (*rider.Rider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.riders[id]
	if !ok {
		return nil, rider.ErrNotFound
	}
	cp := copyRider(r)
	return &cp, nil
}

func (s *Store) GetDelivery(ctx context.Context, id types.ID) (*delivery.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	cp := copyDelivery(d)
	return &cp, nil
}

func (s *Store) ActiveAssignment(ctx context.Context, deliveryID types.ID) (*delivery.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[deliveryID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// Commit applies the capacity reservation, slot claim and assignment record
// together, or nothing when either version moved.
func (s *Store) Commit(ctx context.Context, req delivery.CommitRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := req.Assignment
	r, ok := s.riders[a.RiderID]
	if !ok {
		return rider.ErrNotFound
	}
	d, ok := s.deliveries[a.DeliveryID]
	if !ok {
		return delivery.ErrNotFound
	}
	if r.Version != req.RiderVersion || r.Status != rider.StatusAvailable || !r.HasSpareCapacity() {
		return delivery.ErrVersionConflict
	}
	if d.Version != req.DeliveryVersion || d.Assigned() {
		return delivery.ErrVersionConflict
	}
	if _, exists := s.assignments[d.ID]; exists {
		return delivery.ErrVersionConflict
	}

	r.CurrentDeliveries++
	r.Version++
	s.riders[r.ID] = r

	riderID := r.ID
	d.AssignedRiderID = &riderID
	d.Version++
	s.deliveries[d.ID] = d

	s.assignments[d.ID] = a
	return nil
}

// PersistLocation records the fix on the rider snapshot, ignoring older fixes.
func (s *Store) PersistLocation(_ context.Context, p location.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.riders[p.RiderID]
	if !ok {
		return fmt.Errorf("%w: %w", location.ErrUnknownRider, rider.ErrNotFound)
	}
	if r.Location != nil && r.Location.RecordedAt.After(p.RecordedAt) {
		return nil
	}
	r.Location = &rider.Location{Point: p.Point, RecordedAt: p.RecordedAt}
	s.riders[r.ID] = r
	return nil
}

func containsVehicle(set []rider.VehicleType, vt rider.VehicleType) bool {
	for _, v := range set {
		if v == vt {
			return true
		}
	}
	return false
}

func copyRider(r rider.Rider) rider.Rider {
	if r.Location != nil {
		loc := *r.Location
		r.Location = &loc
	}
	return r
}

func copyDelivery(d delivery.Delivery) delivery.Delivery {
	if d.AssignedRiderID != nil {
		id := *d.AssignedRiderID
		d.AssignedRiderID = &id
	}
	if d.RequiredVehicleTypes != nil {
		d.RequiredVehicleTypes = append([]rider.VehicleType(nil), d.RequiredVehicleTypes...)
	}
	return d
}
