// README: Location cache backed by a Redis GEO set plus a fix-timestamp hash.
package location

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"riderdispatch/internal/types"
)

const (
	riderGeoKey  = "dispatch:riders:geo"
	riderSeenKey = "dispatch:riders:seen"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Save(ctx context.Context, p Position) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, riderGeoKey, &redis.GeoLocation{
		Name:      string(p.RiderID),
		Longitude: p.Point.Lng,
		Latitude:  p.Point.Lat,
	})
	pipe.HSet(ctx, riderSeenKey, string(p.RiderID), p.RecordedAt.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// Positions returns cached fixes for ids; riders without a fix are absent from the map.
func (s *Store) Positions(ctx context.Context, ids []types.ID) (map[types.ID]Position, error) {
	out := make(map[types.ID]Position, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}

	pipe := s.redis.Pipeline()
	posCmd := pipe.GeoPos(ctx, riderGeoKey, members...)
	seenCmd := pipe.HMGet(ctx, riderSeenKey, members...)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	positions, err := posCmd.Result()
	if err != nil {
		return nil, err
	}
	seen, err := seenCmd.Result()
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if i >= len(positions) || positions[i] == nil || i >= len(seen) {
			continue
		}
		raw, ok := seen[i].(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[id] = Position{
			RiderID:    id,
			Point:      types.Point{Lat: positions[i].Latitude, Lng: positions[i].Longitude},
			RecordedAt: time.UnixMilli(ms).UTC(),
		}
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, riderGeoKey, string(id))
	pipe.HDel(ctx, riderSeenKey, string(id))
	_, err := pipe.Exec(ctx)
	return err
}
