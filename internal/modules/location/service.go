// README: Location service validates rider fixes and writes them to the cache and the directory.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"riderdispatch/internal/types"
)

var (
	ErrBadRequest   = errors.New("invalid location update")
	ErrUnknownRider = errors.New("unknown rider")
)

// maxClockSkew bounds how far in the future a device timestamp may be.
const maxClockSkew = 30 * time.Second

type cache interface {
	Save(ctx context.Context, p Position) error
}

// Persister mirrors the fix into the durable rider record. Optional.
// Implementations return ErrUnknownRider when the rider does not exist.
type Persister interface {
	PersistLocation(ctx context.Context, p Position) error
}

type Service struct {
	cache     cache
	persister Persister
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(cache cache, persister Persister, log zerolog.Logger) *Service {
	return &Service{
		cache:     cache,
		persister: persister,
		log:       log.With().Str("component", "location").Logger(),
		now:       time.Now,
	}
}

type Update struct {
	RiderID    types.ID
	Point      types.Point
	RecordedAt time.Time
}

func (s *Service) Update(ctx context.Context, u Update) (Position, error) {
	if u.RiderID == "" || !u.Point.Valid() {
		return Position{}, ErrBadRequest
	}
	now := s.now().UTC()
	at := u.RecordedAt.UTC()
	if at.IsZero() {
		at = now
	}
	if at.After(now.Add(maxClockSkew)) {
		return Position{}, fmt.Errorf("%w: timestamp in the future", ErrBadRequest)
	}
	p := Position{RiderID: u.RiderID, Point: u.Point, RecordedAt: at}

	// The durable record goes first so unknown riders never reach the cache.
	persisted := false
	if s.persister != nil {
		err := s.persister.PersistLocation(ctx, p)
		switch {
		case err == nil:
			persisted = true
		case errors.Is(err, ErrUnknownRider), s.cache == nil:
			return Position{}, err
		default:
			s.log.Warn().Err(err).Str("rider_id", string(p.RiderID)).Msg("persist location failed")
		}
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, p); err != nil {
			if !persisted {
				return Position{}, err
			}
			s.log.Warn().Err(err).Str("rider_id", string(p.RiderID)).Msg("cache location failed, kept in rider record")
		}
	}
	return p, nil
}
