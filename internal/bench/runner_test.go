package bench

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/memstore"
)

func TestSeedFleetIsDeterministic(t *testing.T) {
	now := time.Now()
	a, b := memstore.New(), memstore.New()
	idsA := SeedFleet(a, FleetOptions{Riders: 10, Deliveries: 5, Seed: 3}, now)
	idsB := SeedFleet(b, FleetOptions{Riders: 10, Deliveries: 5, Seed: 3}, now)
	if len(idsA) != 5 || len(idsB) != 5 {
		t.Fatalf("expected 5 deliveries, got %d/%d", len(idsA), len(idsB))
	}
	ra, _ := a.GetRider(context.Background(), "rider-0007")
	rb, _ := b.GetRider(context.Background(), "rider-0007")
	if ra.Location.Point != rb.Location.Point || ra.MaxCapacity != rb.MaxCapacity {
		t.Fatalf("same seed produced different riders: %+v vs %+v", ra, rb)
	}
}

func TestRunHoldsInvariants(t *testing.T) {
	cfg := config.Default()
	cfg.Assignment.Backoff.Initial = time.Millisecond
	rep, err := Run(context.Background(), cfg, Options{
		Fleet:       FleetOptions{Riders: 15, Deliveries: 40, Seed: 11},
		Concurrency: 8,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Attempts != 80 {
		t.Fatalf("expected 80 attempts, got %d", rep.Attempts)
	}
	if rep.Failed() {
		var buf bytes.Buffer
		rep.Print(&buf)
		t.Fatalf("invariant check failed:\n%s", buf.String())
	}
	if rep.Outcomes["assigned"] == 0 {
		t.Fatalf("expected some assignments: %v", rep.Outcomes)
	}
	// Every delivery is requested twice; the second request cannot also win.
	if rep.Outcomes["assigned"] > 40 {
		t.Fatalf("more assignments than deliveries: %v", rep.Outcomes)
	}
}

func TestReportPrint(t *testing.T) {
	rep := Report{
		Attempts: 2,
		Outcomes: map[string]int{"assigned": 1, "already_assigned": 1},
		Checks:   []Check{{Name: "capacity", Status: "PASS"}},
	}
	var buf bytes.Buffer
	rep.Print(&buf)
	if !strings.Contains(buf.String(), "PASS=1 FAIL=0") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
