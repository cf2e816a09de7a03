// README: Synthetic rider fleet and delivery set around a city centre.
package bench

import (
	"fmt"
	"math/rand"
	"time"

	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

// Taipei 101; offsets stay within roughly 5 km.
var defaultCentre = types.Point{Lat: 25.0330, Lng: 121.5654}

var vehicles = []rider.VehicleType{rider.VehicleBike, rider.VehicleMotorcycle, rider.VehicleCar, rider.VehicleVan}

type Seeder interface {
	PutRider(r rider.Rider)
	PutDelivery(d delivery.Delivery)
}

type FleetOptions struct {
	Riders     int
	Deliveries int
	// NoGPSShare is the fraction of riders given a stale fix.
	NoGPSShare float64
	Seed       int64
}

// SeedFleet writes opts.Riders riders and opts.Deliveries deliveries to s and
// returns the delivery ids.
func SeedFleet(s Seeder, opts FleetOptions, now time.Time) []types.ID {
	rng := rand.New(rand.NewSource(opts.Seed))
	for i := 0; i < opts.Riders; i++ {
		seen := now
		if rng.Float64() < opts.NoGPSShare {
			seen = now.Add(-time.Hour)
		}
		s.PutRider(rider.Rider{
			ID:          types.ID(fmt.Sprintf("rider-%04d", i)),
			Name:        fmt.Sprintf("Rider %d", i),
			Status:      rider.StatusAvailable,
			Location:    &rider.Location{Point: jitter(rng), RecordedAt: seen},
			VehicleType: vehicles[rng.Intn(len(vehicles))],
			MaxCapacity: 1 + rng.Intn(3),
			Rating:      3.5 + rng.Float64()*1.5,
		})
	}

	ids := make([]types.ID, 0, opts.Deliveries)
	priorities := []delivery.Priority{delivery.PriorityNormal, delivery.PriorityNormal, delivery.PriorityHigh, delivery.PriorityUrgent}
	for i := 0; i < opts.Deliveries; i++ {
		d := delivery.Delivery{
			ID:       types.ID(fmt.Sprintf("delivery-%05d", i)),
			Pickup:   jitter(rng),
			Dropoff:  jitter(rng),
			Priority: priorities[rng.Intn(len(priorities))],
		}
		if rng.Intn(10) == 0 {
			d.RequiredVehicleTypes = []rider.VehicleType{rider.VehicleCar, rider.VehicleVan}
		}
		s.PutDelivery(d)
		ids = append(ids, d.ID)
	}
	return ids
}

func jitter(rng *rand.Rand) types.Point {
	return types.Point{
		Lat: defaultCentre.Lat + (rng.Float64()-0.5)*0.09,
		Lng: defaultCentre.Lng + (rng.Float64()-0.5)*0.09,
	}
}
