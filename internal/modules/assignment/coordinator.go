// README: AssignmentCoordinator; validates and commits a rider to a delivery with CAS retries.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
	"riderdispatch/internal/types"
)

var (
	ErrAlreadyAssigned  = errors.New("delivery already assigned")
	ErrCapacityExceeded = errors.New("rider capacity exceeded")
	ErrRiderUnavailable = errors.New("rider unavailable")
	ErrNotFound         = errors.New("not found")
	// ErrConflict means every attempt lost a version race.
	ErrConflict = errors.New("assignment conflict")
)

// Ledger applies a CommitRequest atomically: reserve rider capacity, claim
// the delivery slot and record the assignment, or nothing. It returns
// delivery.ErrVersionConflict when either version moved.
type Ledger interface {
	Commit(ctx context.Context, req delivery.CommitRequest) error
}

type Deliveries interface {
	GetDelivery(ctx context.Context, id types.ID) (*delivery.Delivery, error)
	ActiveAssignment(ctx context.Context, deliveryID types.ID) (*delivery.Assignment, error)
}

type Riders interface {
	GetRider(ctx context.Context, id types.ID) (*rider.Rider, error)
}

// Publisher receives committed assignments. Failures are logged, never returned.
type Publisher interface {
	AssignmentCommitted(ctx context.Context, a delivery.Assignment) error
}

type ConflictRecorder interface {
	CommitConflict()
}

type CommitCommand struct {
	DeliveryID types.ID
	RiderID    types.ID
	Route      routing.Route
	Mode       delivery.SelectionMode
}

type Result struct {
	Assignment delivery.Assignment
	Rider      rider.Rider
	Attempts   int
}

type Coordinator struct {
	deliveries Deliveries
	riders     Riders
	ledger     Ledger
	cfg        config.AssignmentConfig
	log        zerolog.Logger

	publisher Publisher
	recorder  ConflictRecorder
	now       func() time.Time
	newID     func() string
	sleep     func(ctx context.Context, d time.Duration) error
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option { return func(c *Coordinator) { c.publisher = p } }

func WithConflictRecorder(r ConflictRecorder) Option { return func(c *Coordinator) { c.recorder = r } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(deliveries Deliveries, riders Riders, ledger Ledger, cfg config.AssignmentConfig, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		deliveries: deliveries,
		riders:     riders,
		ledger:     ledger,
		cfg:        cfg,
		log:        log.With().Str("component", "assignment").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxAttempts < 1 {
		c.cfg.MaxAttempts = 1
	}
	return c
}

// Validate runs the pre-commit checks without writing anything.
func (c *Coordinator) Validate(ctx context.Context, deliveryID, riderID types.ID) (*rider.Rider, error) {
	d, r, err := c.load(ctx, deliveryID, riderID)
	if err != nil {
		return nil, err
	}
	if err := check(d, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Commit assigns cmd.RiderID to cmd.DeliveryID. A lost version race re-reads
// both rows and retries up to MaxAttempts; a business rule failure on the
// re-read is returned as is.
func (c *Coordinator) Commit(ctx context.Context, cmd CommitCommand) (*Result, error) {
	if cmd.DeliveryID == "" || cmd.RiderID == "" {
		return nil, fmt.Errorf("%w: delivery and rider id required", ErrNotFound)
	}
	if cmd.Mode == "" {
		cmd.Mode = delivery.SelectionAuto
	}

	for attempt := 1; ; attempt++ {
		d, r, err := c.load(ctx, cmd.DeliveryID, cmd.RiderID)
		if err != nil {
			return nil, err
		}
		if err := check(d, r); err != nil {
			return nil, err
		}

		a := delivery.Assignment{
			ID:              c.newID(),
			DeliveryID:      d.ID,
			RiderID:         r.ID,
			AssignedAt:      c.now(),
			DistanceKm:      cmd.Route.DistanceKm,
			DurationMinutes: cmd.Route.DurationMinutes,
			SelectionMode:   cmd.Mode,
			Estimated:       cmd.Route.Estimated,
		}
		err = c.ledger.Commit(ctx, delivery.CommitRequest{
			Assignment:      a,
			RiderVersion:    r.Version,
			DeliveryVersion: d.Version,
		})
		if err == nil {
			r.CurrentDeliveries++
			r.Version++
			c.committed(ctx, a, attempt)
			return &Result{Assignment: a, Rider: *r, Attempts: attempt}, nil
		}
		if !errors.Is(err, delivery.ErrVersionConflict) {
			return nil, fmt.Errorf("commit assignment: %w", err)
		}

		if c.recorder != nil {
			c.recorder.CommitConflict()
		}
		c.log.Debug().
			Str("delivery_id", string(d.ID)).
			Str("rider_id", string(r.ID)).
			Int("attempt", attempt).
			Msg("version conflict")
		if attempt >= c.cfg.MaxAttempts {
			return nil, ErrConflict
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

func (c *Coordinator) load(ctx context.Context, deliveryID, riderID types.ID) (*delivery.Delivery, *rider.Rider, error) {
	d, err := c.deliveries.GetDelivery(ctx, deliveryID)
	if errors.Is(err, delivery.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: delivery %s", ErrNotFound, deliveryID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !d.Assigned() {
		active, err := c.deliveries.ActiveAssignment(ctx, deliveryID)
		if err != nil {
			return nil, nil, err
		}
		if active != nil {
			id := active.RiderID
			d.AssignedRiderID = &id
		}
	}

	r, err := c.riders.GetRider(ctx, riderID)
	if errors.Is(err, rider.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: rider %s", ErrNotFound, riderID)
	}
	if err != nil {
		return nil, nil, err
	}
	return d, r, nil
}

func check(d *delivery.Delivery, r *rider.Rider) error {
	if d.Assigned() {
		return ErrAlreadyAssigned
	}
	if r.Status != rider.StatusAvailable {
		return fmt.Errorf("%w: status %s", ErrRiderUnavailable, r.Status)
	}
	if !d.AllowsVehicle(r.VehicleType) {
		return fmt.Errorf("%w: vehicle %s not allowed", ErrRiderUnavailable, r.VehicleType)
	}
	if !r.HasSpareCapacity() {
		return ErrCapacityExceeded
	}
	return nil
}

func (c *Coordinator) committed(ctx context.Context, a delivery.Assignment, attempt int) {
	c.log.Info().
		Str("assignment_id", a.ID).
		Str("delivery_id", string(a.DeliveryID)).
		Str("rider_id", string(a.RiderID)).
		Str("mode", string(a.SelectionMode)).
		Bool("estimated", a.Estimated).
		Int("attempt", attempt).
		Msg("assignment committed")
	if c.publisher == nil {
		return
	}
	if err := c.publisher.AssignmentCommitted(ctx, a); err != nil {
		c.log.Warn().Err(err).Str("assignment_id", a.ID).Msg("publish assignment event")
	}
}

// backoff returns the wait after the given failed attempt.
func (c *Coordinator) backoff(attempt int) time.Duration {
	b := c.cfg.Backoff
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(b.Initial) * math.Pow(mult, float64(attempt-1)))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
