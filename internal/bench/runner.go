// README: Load runner; concurrent auto-assign against the memory store, then invariant checks.
package bench

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/assignment"
	"riderdispatch/internal/modules/dispatch"
	"riderdispatch/internal/modules/memstore"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
	"riderdispatch/internal/types"
)

type Options struct {
	Fleet       FleetOptions
	Concurrency int
}

type Check struct {
	Name   string
	Status string // PASS or FAIL
	Detail string
}

type Report struct {
	Attempts int
	Outcomes map[string]int
	Elapsed  time.Duration
	Checks   []Check
}

func (r Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Status != "PASS" {
			return true
		}
	}
	return false
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "attempts=%d elapsed=%s\n", r.Attempts, r.Elapsed.Round(time.Millisecond))
	codes := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	for _, k := range codes {
		fmt.Fprintf(w, "  %-28s %d\n", k, r.Outcomes[k])
	}
	fmt.Fprintln(w, "\n== Checks ==")
	pass, fail := 0, 0
	for _, c := range r.Checks {
		fmt.Fprintf(w, "[%s] %s %s\n", c.Status, c.Name, c.Detail)
		if c.Status == "PASS" {
			pass++
		} else {
			fail++
		}
	}
	fmt.Fprintf(w, "PASS=%d FAIL=%d\n", pass, fail)
}

// Run seeds a fresh memory store and auto-assigns every delivery twice from
// concurrent workers, so each delivery sees a competing request.
func Run(ctx context.Context, cfg config.Config, opts Options, log zerolog.Logger) (Report, error) {
	store := memstore.New()
	ids := SeedFleet(store, opts.Fleet, time.Now())

	dir := rider.NewDirectory(store, nil, log)
	routes := routing.NewProvider(nil, cfg.Routing, log, nil)
	coord := assignment.NewCoordinator(store, store, store, cfg.Assignment, log)
	svc := dispatch.NewService(dir, store, routes, coord, dispatch.SettingsFrom(cfg), log, nil)

	jobs := make(chan types.ID)
	var mu sync.Mutex
	outcomes := map[string]int{}
	winners := map[types.ID]int{}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				res, err := svc.AutoAssign(ctx, dispatch.AutoAssignCommand{DeliveryID: id})
				key := "assigned"
				if err != nil {
					key = string(dispatch.CodeOf(err))
				}
				mu.Lock()
				outcomes[key]++
				if err == nil {
					winners[res.Assignment.DeliveryID]++
				}
				mu.Unlock()
			}
		}()
	}

	attempts := 0
feed:
	for round := 0; round < 2; round++ {
		for _, id := range ids {
			select {
			case <-ctx.Done():
				break feed
			case jobs <- id:
				attempts++
			}
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	rep := Report{Attempts: attempts, Outcomes: outcomes, Elapsed: time.Since(start)}
	rep.Checks = append(rep.Checks, exclusivity(winners), capacity(ctx, store, opts.Fleet.Riders))
	return rep, nil
}

func exclusivity(winners map[types.ID]int) Check {
	for id, n := range winners {
		if n > 1 {
			return Check{Name: "exclusivity", Status: "FAIL", Detail: fmt.Sprintf("%s assigned %d times", id, n)}
		}
	}
	return Check{Name: "exclusivity", Status: "PASS", Detail: fmt.Sprintf("(%d deliveries assigned)", len(winners))}
}

func capacity(ctx context.Context, store *memstore.Store, riders int) Check {
	for i := 0; i < riders; i++ {
		id := types.ID(fmt.Sprintf("rider-%04d", i))
		r, err := store.GetRider(ctx, id)
		if err != nil {
			return Check{Name: "capacity", Status: "FAIL", Detail: err.Error()}
		}
		if r.CurrentDeliveries > r.MaxCapacity {
			return Check{Name: "capacity", Status: "FAIL", Detail: fmt.Sprintf("%s at %d/%d", id, r.CurrentDeliveries, r.MaxCapacity)}
		}
	}
	return Check{Name: "capacity", Status: "PASS"}
}
