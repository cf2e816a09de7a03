// README: Rider Directory; durable snapshot rows overlaid with cached GPS fixes.
package rider

import (
	"context"

	"github.com/rs/zerolog"

	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/types"
)

// Source is the durable rider record (Postgres or in-memory).
type Source interface {
	ListRiders(ctx context.Context, c Criteria) ([]Rider, error)
	GetRider(ctx context.Context, id types.ID) (*Rider, error)
}

type PositionCache interface {
	Positions(ctx context.Context, ids []types.ID) (map[types.ID]location.Position, error)
}

type Directory struct {
	source    Source
	positions PositionCache
	log       zerolog.Logger
}

// NewDirectory wraps source. positions may be nil when no cache is configured.
func NewDirectory(source Source, positions PositionCache, log zerolog.Logger) *Directory {
	return &Directory{
		source:    source,
		positions: positions,
		log:       log.With().Str("component", "rider_directory").Logger(),
	}
}

func (d *Directory) ListAvailableRiders(ctx context.Context, c Criteria) ([]Rider, error) {
	riders, err := d.source.ListRiders(ctx, c)
	if err != nil {
		return nil, err
	}
	d.attachPositions(ctx, riders)
	return riders, nil
}

func (d *Directory) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	r, err := d.source.GetRider(ctx, id)
	if err != nil {
		return nil, err
	}
	one := []Rider{*r}
	d.attachPositions(ctx, one)
	return &one[0], nil
}

// attachPositions replaces stored locations with newer cached fixes. A cache
// failure leaves the stored locations in place; dispatch then sees older or
// missing fixes and scores them as GPS-less.
func (d *Directory) attachPositions(ctx context.Context, riders []Rider) {
	if d.positions == nil || len(riders) == 0 {
		return
	}
	ids := make([]types.ID, len(riders))
	for i, r := range riders {
		ids[i] = r.ID
	}
	cached, err := d.positions.Positions(ctx, ids)
	if err != nil {
		d.log.Warn().Err(err).Int("riders", len(riders)).Msg("position cache unavailable")
		return
	}
	for i := range riders {
		p, ok := cached[riders[i].ID]
		if !ok {
			continue
		}
		if riders[i].Location != nil && riders[i].Location.RecordedAt.After(p.RecordedAt) {
			continue
		}
		riders[i].Location = &Location{Point: p.Point, RecordedAt: p.RecordedAt}
	}
}
