// README: Rider directory store backed by PostgreSQL.
package rider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/types"
)

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const riderColumns = `id, name, status, vehicle_type, current_deliveries, max_capacity, rating,
       last_lat, last_lng, last_seen_at, version`

func (s *Store) ListRiders(ctx context.Context, c Criteria) ([]Rider, error) {
	query := `SELECT ` + riderColumns + `
        FROM riders
        WHERE status <> 'offline'`
	args := []any{}
	if len(c.VehicleTypes) > 0 {
		vt := make([]string, len(c.VehicleTypes))
		for i, v := range c.VehicleTypes {
			vt[i] = string(v)
		}
		query += ` AND vehicle_type = ANY($1)`
		args = append(args, vt)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rider
	for rows.Next() {
		r, err := scanRider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	row := s.db.QueryRow(ctx, `SELECT `+riderColumns+` FROM riders WHERE id = $1`, string(id))
	r, err := scanRider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ReserveCapacity increments current_deliveries if the row still carries
// version and has a free slot. It reports false when the guard did not match.
func (s *Store) ReserveCapacity(ctx context.Context, q Execer, id types.ID, version int) (bool, error) {
	if q == nil {
		q = s.db
	}
	tag, err := q.Exec(ctx, `
        UPDATE riders
        SET current_deliveries = current_deliveries + 1,
            version = version + 1
        WHERE id = $1
          AND version = $2
          AND status = 'available'
          AND current_deliveries < max_capacity`,
		string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SaveLocation persists the last fix so the directory has a fallback when the cache is cold.
func (s *Store) SaveLocation(ctx context.Context, id types.ID, loc Location) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE riders
        SET last_lat = $2, last_lng = $3, last_seen_at = $4
        WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at <= $4)`,
		string(id), loc.Point.Lat, loc.Point.Lng, loc.RecordedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM riders WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// Upsert writes the full snapshot; used for seeding and directory sync.
func (s *Store) Upsert(ctx context.Context, r Rider) error {
	var lat, lng *float64
	var seen *time.Time
	if r.Location != nil {
		lat, lng, seen = &r.Location.Point.Lat, &r.Location.Point.Lng, &r.Location.RecordedAt
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO riders (id, name, status, vehicle_type, current_deliveries, max_capacity, rating,
                            last_lat, last_lng, last_seen_at, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name,
            status = EXCLUDED.status,
            vehicle_type = EXCLUDED.vehicle_type,
            current_deliveries = EXCLUDED.current_deliveries,
            max_capacity = EXCLUDED.max_capacity,
            rating = EXCLUDED.rating,
            last_lat = EXCLUDED.last_lat,
            last_lng = EXCLUDED.last_lng,
            last_seen_at = EXCLUDED.last_seen_at,
            version = riders.version + 1`,
		string(r.ID), r.Name, string(r.Status), string(r.VehicleType),
		r.CurrentDeliveries, r.MaxCapacity, r.Rating, lat, lng, seen,
	)
	return err
}

func scanRider(row pgx.Row) (*Rider, error) {
	var r Rider
	var lat, lng *float64
	var seen *time.Time
	err := row.Scan(
		&r.ID, &r.Name, &r.Status, &r.VehicleType, &r.CurrentDeliveries, &r.MaxCapacity, &r.Rating,
		&lat, &lng, &seen, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil && seen != nil {
		r.Location = &Location{Point: types.Point{Lat: *lat, Lng: *lng}, RecordedAt: *seen}
	}
	return &r, nil
}

// PersistLocation lets the location service mirror cache writes into Postgres.
func (s *Store) PersistLocation(ctx context.Context, p location.Position) error {
	err := s.SaveLocation(ctx, p.RiderID, Location{Point: p.Point, RecordedAt: p.RecordedAt})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", location.ErrUnknownRider, err)
	}
	return err
}
