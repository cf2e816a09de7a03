// README: Delivery store backed by PostgreSQL (assignment slot + assignments table).
package delivery

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetDelivery(ctx context.Context, id types.ID) (*Delivery, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
               priority, required_vehicle_types, assigned_rider_id, version
        FROM deliveries
        WHERE id = $1`, string(id),
	)

	var d Delivery
	var vehicles []string
	var assigned *string
	err := row.Scan(
		&d.ID, &d.Pickup.Lat, &d.Pickup.Lng, &d.Dropoff.Lat, &d.Dropoff.Lng,
		&d.Priority, &vehicles, &assigned, &d.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, v := range vehicles {
		d.RequiredVehicleTypes = append(d.RequiredVehicleTypes, rider.VehicleType(v))
	}
	if assigned != nil {
		a := types.ID(*assigned)
		d.AssignedRiderID = &a
	}
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	return &d, nil
}

// ActiveAssignment returns the active assignment for a delivery or nil.
func (s *Store) ActiveAssignment(ctx context.Context, deliveryID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, delivery_id, rider_id, assigned_at, distance_km, duration_minutes, selection_mode, estimated
        FROM assignments
        WHERE delivery_id = $1 AND active`, string(deliveryID),
	)
	var a Assignment
	err := row.Scan(&a.ID, &a.DeliveryID, &a.RiderID, &a.AssignedAt, &a.DistanceKm, &a.DurationMinutes, &a.SelectionMode, &a.Estimated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ClaimSlot fills the assignment slot if it is still empty at version.
func (s *Store) ClaimSlot(ctx context.Context, q Execer, deliveryID, riderID types.ID, version int) (bool, error) {
	if q == nil {
		q = s.db
	}
	tag, err := q.Exec(ctx, `
        UPDATE deliveries
        SET assigned_rider_id = $2,
            version = version + 1
        WHERE id = $1 AND version = $3 AND assigned_rider_id IS NULL`,
		string(deliveryID), string(riderID), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAssignment inserts the assignment row; the partial unique index
// rejects a second active assignment for the same delivery.
func (s *Store) RecordAssignment(ctx context.Context, q Execer, a Assignment) error {
	if q == nil {
		q = s.db
	}
	_, err := q.Exec(ctx, `
        INSERT INTO assignments (
            id, delivery_id, rider_id, assigned_at, distance_km, duration_minutes, selection_mode, estimated, active
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		a.ID, string(a.DeliveryID), string(a.RiderID), a.AssignedAt,
		a.DistanceKm, a.DurationMinutes, string(a.SelectionMode), a.Estimated,
	)
	return err
}

func (s *Store) Upsert(ctx context.Context, d Delivery) error {
	vehicles := make([]string, len(d.RequiredVehicleTypes))
	for i, v := range d.RequiredVehicleTypes {
		vehicles[i] = string(v)
	}
	priority := d.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO deliveries (id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, priority, required_vehicle_types)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE
        SET pickup_lat = EXCLUDED.pickup_lat,
            pickup_lng = EXCLUDED.pickup_lng,
            dropoff_lat = EXCLUDED.dropoff_lat,
            dropoff_lng = EXCLUDED.dropoff_lng,
            priority = EXCLUDED.priority,
            required_vehicle_types = EXCLUDED.required_vehicle_types`,
		string(d.ID), d.Pickup.Lat, d.Pickup.Lng, d.Dropoff.Lat, d.Dropoff.Lng, string(priority), vehicles,
	)
	return err
}
