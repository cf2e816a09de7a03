// README: Rider snapshot as read from the Rider Directory.
package rider

import (
	"errors"
	"time"

	"riderdispatch/internal/types"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

type VehicleType string

const (
	VehicleBike       VehicleType = "bike"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleCar        VehicleType = "car"
	VehicleVan        VehicleType = "van"
)

var ErrNotFound = errors.New("rider not found")

// Location is the last known fix reported by the rider's device.
type Location struct {
	Point      types.Point
	RecordedAt time.Time
}

type Rider struct {
	ID                types.ID
	Name              string
	Status            Status
	Location          *Location
	VehicleType       VehicleType
	CurrentDeliveries int
	MaxCapacity       int
	Rating            float64
	// Version increments on every capacity change; commits compare-and-swap on it.
	Version int
}

// HasFix reports whether the rider has a location no older than staleAfter.
// A non-positive staleAfter disables the staleness check.
func (r Rider) HasFix(now time.Time, staleAfter time.Duration) bool {
	if r.Location == nil || !r.Location.Point.Valid() {
		return false
	}
	if staleAfter <= 0 {
		return true
	}
	return now.Sub(r.Location.RecordedAt) <= staleAfter
}

// Utilization is CurrentDeliveries/MaxCapacity; a rider without capacity counts as full.
func (r Rider) Utilization() float64 {
	if r.MaxCapacity <= 0 {
		return 1
	}
	return float64(r.CurrentDeliveries) / float64(r.MaxCapacity)
}

func (r Rider) HasSpareCapacity() bool {
	return r.CurrentDeliveries < r.MaxCapacity
}

// Criteria narrows the directory listing. Empty VehicleTypes means any type.
// Listings exclude offline riders only; availability and capacity are left
// to the dispatch filter.
type Criteria struct {
	VehicleTypes []VehicleType
}
