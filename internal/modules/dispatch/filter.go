// README: RiderCandidateFilter; eligibility rules and the per-request candidate cap.
package dispatch

import (
	"sort"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
	"riderdispatch/internal/types"
)

type RejectReason string

const (
	RejectStatus   RejectReason = "status"
	RejectCapacity RejectReason = "capacity"
	RejectVehicle  RejectReason = "vehicle"
)

type FilterResult struct {
	Eligible []rider.Rider
	Rejected map[RejectReason]int
	// BelowMinimum is set for urgent deliveries with fewer eligible riders
	// than the configured minimum. Eligibility is never relaxed.
	BelowMinimum bool
}

type Filter struct {
	urgentMin int
}

func NewFilter(cfg config.DispatchConfig) Filter {
	return Filter{urgentMin: cfg.UrgentMinCandidates}
}

func (f Filter) Apply(d delivery.Delivery, riders []rider.Rider) FilterResult {
	res := FilterResult{Rejected: map[RejectReason]int{}}
	for _, r := range riders {
		switch {
		case r.Status != rider.StatusAvailable:
			res.Rejected[RejectStatus]++
		case !r.HasSpareCapacity():
			res.Rejected[RejectCapacity]++
		case !d.AllowsVehicle(r.VehicleType):
			res.Rejected[RejectVehicle]++
		default:
			res.Eligible = append(res.Eligible, r)
		}
	}
	if d.Priority == delivery.PriorityUrgent && len(res.Eligible) < f.urgentMin {
		res.BelowMinimum = true
	}
	return res
}

// Cap keeps the limit riders nearest to pickup by straight-line distance.
// Riders without a location sort last; ties break on ID.
func Cap(eligible []rider.Rider, pickup types.Point, limit int) []rider.Rider {
	if limit <= 0 || len(eligible) <= limit {
		return eligible
	}
	type ranked struct {
		r    rider.Rider
		km   float64
		none bool
	}
	tmp := make([]ranked, len(eligible))
	for i, r := range eligible {
		tmp[i] = ranked{r: r, none: r.Location == nil || !r.Location.Point.Valid()}
		if !tmp[i].none {
			tmp[i].km = routing.HaversineKm(r.Location.Point, pickup)
		}
	}
	sort.Slice(tmp, func(i, j int) bool {
		a, b := tmp[i], tmp[j]
		if a.none != b.none {
			return !a.none
		}
		if a.km != b.km {
			return a.km < b.km
		}
		return a.r.ID < b.r.ID
	})
	out := make([]rider.Rider, limit)
	for i := range out {
		out[i] = tmp[i].r
	}
	return out
}

// candidateLimit widens the pool for higher priorities.
func candidateLimit(max int, p delivery.Priority) int {
	if max <= 0 {
		return 0
	}
	switch p {
	case delivery.PriorityHigh:
		return max + max/2
	case delivery.PriorityUrgent:
		return max * 2
	default:
		return max
	}
}
