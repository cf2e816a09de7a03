// README: Delivery assignment slot and the Assignment record the engine writes back.
package delivery

import (
	"errors"
	"strings"
	"time"

	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	ErrNotFound        = errors.New("delivery not found")
	ErrInvalidPriority = errors.New("invalid priority")
	// ErrVersionConflict is returned by a ledger when either row moved since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// ParsePriority accepts the three priorities case-insensitively; empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	default:
		return "", ErrInvalidPriority
	}
}

type Delivery struct {
	ID                   types.ID
	Pickup               types.Point
	Dropoff              types.Point
	Priority             Priority
	RequiredVehicleTypes []rider.VehicleType
	AssignedRiderID      *types.ID
	// Version increments whenever the assignment slot changes.
	Version int
}

func (d Delivery) Assigned() bool {
	return d.AssignedRiderID != nil && *d.AssignedRiderID != ""
}

// AllowsVehicle reports whether vt satisfies the delivery's vehicle constraint.
func (d Delivery) AllowsVehicle(vt rider.VehicleType) bool {
	if len(d.RequiredVehicleTypes) == 0 {
		return true
	}
	for _, allowed := range d.RequiredVehicleTypes {
		if allowed == vt {
			return true
		}
	}
	return false
}

type SelectionMode string

const (
	SelectionAuto   SelectionMode = "auto"
	SelectionManual SelectionMode = "manual"
)

type Assignment struct {
	ID              string
	DeliveryID      types.ID
	RiderID         types.ID
	AssignedAt      time.Time
	DistanceKm      float64
	DurationMinutes float64
	SelectionMode   SelectionMode
	// Estimated marks assignments whose route came from the fallback estimator.
	Estimated bool
}

// CommitRequest carries the versions read before the commit; the ledger
// applies it only if both rows still carry them.
type CommitRequest struct {
	Assignment      Assignment
	RiderVersion    int
	DeliveryVersion int
}
