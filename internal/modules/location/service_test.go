package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"riderdispatch/internal/types"
)

type memCache struct {
	mu    sync.Mutex
	saved []Position
	err   error
}

func (m *memCache) Save(_ context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, p)
	return nil
}

type failingPersister struct {
	calls int
	err   error
}

func (f *failingPersister) PersistLocation(_ context.Context, _ Position) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return errors.New("db down")
}

type okPersister struct{ saved []Position }

func (o *okPersister) PersistLocation(_ context.Context, p Position) error {
	o.saved = append(o.saved, p)
	return nil
}

func TestUpdateValidates(t *testing.T) {
	svc := NewService(&memCache{}, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Update(ctx, Update{Point: types.Point{Lat: 25, Lng: 121}}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing rider id: expected ErrBadRequest, got %v", err)
	}
	if _, err := svc.Update(ctx, Update{RiderID: "r1", Point: types.Point{Lat: 95, Lng: 121}}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("bad latitude: expected ErrBadRequest, got %v", err)
	}
	future := time.Now().Add(time.Hour)
	if _, err := svc.Update(ctx, Update{RiderID: "r1", Point: types.Point{Lat: 25, Lng: 121}, RecordedAt: future}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("future timestamp: expected ErrBadRequest, got %v", err)
	}
}

func TestUpdateDefaultsTimestampAndSaves(t *testing.T) {
	cache := &memCache{}
	svc := NewService(cache, nil, zerolog.Nop())
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	p, err := svc.Update(context.Background(), Update{RiderID: "r1", Point: types.Point{Lat: 25.03, Lng: 121.56}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.RecordedAt.Equal(fixed) {
		t.Fatalf("expected recorded_at %s, got %s", fixed, p.RecordedAt)
	}
	if len(cache.saved) != 1 || cache.saved[0].RiderID != "r1" {
		t.Fatalf("expected one cached position, got %+v", cache.saved)
	}
}

func TestUpdatePersisterFailureIsNotFatal(t *testing.T) {
	persister := &failingPersister{}
	svc := NewService(&memCache{}, persister, zerolog.Nop())
	if _, err := svc.Update(context.Background(), Update{RiderID: "r1", Point: types.Point{Lat: 1, Lng: 1}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if persister.calls != 1 {
		t.Fatalf("expected persister to be called once, got %d", persister.calls)
	}
}

func TestUpdateCacheFailureIsReturned(t *testing.T) {
	svc := NewService(&memCache{err: errors.New("redis down")}, nil, zerolog.Nop())
	if _, err := svc.Update(context.Background(), Update{RiderID: "r1", Point: types.Point{Lat: 1, Lng: 1}}); err == nil {
		t.Fatal("expected cache error")
	}
}

func TestUpdateCacheFailureFallsBackToPersister(t *testing.T) {
	persister := &okPersister{}
	svc := NewService(&memCache{err: errors.New("redis down")}, persister, zerolog.Nop())
	p, err := svc.Update(context.Background(), Update{RiderID: "r1", Point: types.Point{Lat: 1, Lng: 1}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(persister.saved) != 1 || persister.saved[0] != p {
		t.Fatalf("expected fix in rider record, got %+v", persister.saved)
	}
}

func TestUpdateUnknownRiderSkipsCache(t *testing.T) {
	cache := &memCache{}
	persister := &failingPersister{err: fmt.Errorf("%w: ghost", ErrUnknownRider)}
	svc := NewService(cache, persister, zerolog.Nop())
	if _, err := svc.Update(context.Background(), Update{RiderID: "ghost", Point: types.Point{Lat: 1, Lng: 1}}); !errors.Is(err, ErrUnknownRider) {
		t.Fatalf("expected ErrUnknownRider, got %v", err)
	}
	if len(cache.saved) != 0 {
		t.Fatalf("unknown rider must not be cached, got %+v", cache.saved)
	}
}

func TestUpdatePersisterFailureWithoutCacheIsReturned(t *testing.T) {
	svc := NewService(nil, &failingPersister{}, zerolog.Nop())
	if _, err := svc.Update(context.Background(), Update{RiderID: "r1", Point: types.Point{Lat: 1, Lng: 1}}); err == nil {
		t.Fatal("expected persister error")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	redisAddr := os.Getenv("DISPATCH_TEST_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("DISPATCH_TEST_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	store := NewStore(rdb)
	ctx := context.Background()

	id := types.ID(fmt.Sprintf("rider_test_%d", time.Now().UnixNano()))
	missing := types.ID(fmt.Sprintf("rider_missing_%d", time.Now().UnixNano()))
	at := time.Now().UTC().Truncate(time.Millisecond)
	t.Cleanup(func() { _ = store.Remove(ctx, id) })

	if err := store.Save(ctx, Position{RiderID: id, Point: types.Point{Lat: 40.7128, Lng: -74.0060}, RecordedAt: at}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Positions(ctx, []types.ID{id, missing})
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	p, ok := got[id]
	if !ok {
		t.Fatalf("expected cached position for %s", id)
	}
	if _, ok := got[missing]; ok {
		t.Fatalf("unexpected position for %s", missing)
	}
	if !p.RecordedAt.Equal(at) {
		t.Fatalf("recorded_at = %s, want %s", p.RecordedAt, at)
	}
	// GEO encoding loses a little precision
	if d := p.Point.Lat - 40.7128; d > 1e-4 || d < -1e-4 {
		t.Fatalf("unexpected latitude %f", p.Point.Lat)
	}
}
