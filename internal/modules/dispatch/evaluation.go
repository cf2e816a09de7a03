// README: CandidateEvaluation; one scored rider within one dispatch request.
package dispatch

import (
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/types"
)

type CandidateEvaluation struct {
	RiderID             types.ID
	RiderName           string
	VehicleType         rider.VehicleType
	DistanceKm          float64
	DurationMinutes     float64
	Score               float64
	HasGPS              bool
	Estimated           bool
	CapacityUtilization float64
	Rating              float64
	CurrentDeliveries   int
}
