// README: Wire shapes for dispatch responses.
package handlers

import (
	"time"

	"riderdispatch/internal/modules/dispatch"
	"riderdispatch/internal/modules/rider"
)

type candidateResp struct {
	RiderID             string  `json:"rider_id"`
	RiderName           string  `json:"rider_name"`
	VehicleType         string  `json:"vehicle_type"`
	DistanceKm          float64 `json:"distance_km"`
	DurationMinutes     float64 `json:"duration_minutes"`
	Score               float64 `json:"score"`
	HasGPS              bool    `json:"has_gps"`
	Estimated           bool    `json:"estimated"`
	CapacityUtilization float64 `json:"capacity_utilization"`
	Rating              float64 `json:"rating"`
	CurrentDeliveries   int     `json:"current_deliveries"`
}

type weightsResp struct {
	Capacity        float64            `json:"w_capacity"`
	NoGPS           float64            `json:"w_no_gps"`
	Rating          float64            `json:"w_rating"`
	BaselineRating  float64            `json:"baseline_rating"`
	MaxRatingAdjust float64            `json:"max_rating_adjust"`
	PriorityFactor  map[string]float64 `json:"priority_duration_factor"`
}

type criteriaResp struct {
	Priority        string         `json:"priority"`
	VehicleTypes    []string       `json:"vehicle_types"`
	CandidateLimit  int            `json:"candidate_limit"`
	Eligible        int            `json:"eligible"`
	Rejected        map[string]int `json:"rejected"`
	BelowMinimum    bool           `json:"below_minimum"`
	RouteFailures   int            `json:"route_failures"`
	UnlocatedRiders []string       `json:"unlocated_riders"`
	ManualPolicy    string         `json:"manual_policy"`
	NoGPSFraction   float64        `json:"no_gps_fraction"`
	Weights         weightsResp    `json:"weights"`
}

type suggestionResp struct {
	OptimalRider           *candidateResp  `json:"optimal_rider"`
	Alternates             []candidateResp `json:"alternates"`
	TotalCandidates        int             `json:"total_candidates"`
	SuccessfulCalculations int             `json:"successful_calculations"`
	SelectionCriteria      criteriaResp    `json:"selection_criteria"`
	ManualMode             bool            `json:"manual_mode"`
	State                  string          `json:"state"`
}

type assignedRiderResp struct {
	RiderID         string  `json:"rider_id"`
	RiderName       string  `json:"rider_name"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
}

type assignResp struct {
	AssignmentID  string            `json:"assignment_id"`
	DeliveryID    string            `json:"delivery_id"`
	AssignedRider assignedRiderResp `json:"assigned_rider"`
	SelectionMode string            `json:"selection_mode"`
	Estimated     bool              `json:"estimated"`
	AssignedAt    time.Time         `json:"assigned_at"`
}

type manualRequiredResp struct {
	errorResponse
	Suggestion suggestionResp `json:"suggestion"`
}

type validateResp struct {
	Valid             bool   `json:"valid"`
	RiderID           string `json:"rider_id"`
	RiderName         string `json:"rider_name"`
	CurrentDeliveries int    `json:"current_deliveries"`
	MaxCapacity       int    `json:"max_capacity"`
}

func toCandidate(ev dispatch.CandidateEvaluation) candidateResp {
	return candidateResp{
		RiderID:             string(ev.RiderID),
		RiderName:           ev.RiderName,
		VehicleType:         string(ev.VehicleType),
		DistanceKm:          ev.DistanceKm,
		DurationMinutes:     ev.DurationMinutes,
		Score:               ev.Score,
		HasGPS:              ev.HasGPS,
		Estimated:           ev.Estimated,
		CapacityUtilization: ev.CapacityUtilization,
		Rating:              ev.Rating,
		CurrentDeliveries:   ev.CurrentDeliveries,
	}
}

func toSuggestion(s *dispatch.Suggestion) suggestionResp {
	out := suggestionResp{
		Alternates:             make([]candidateResp, 0, len(s.Alternates)),
		TotalCandidates:        s.TotalCandidates,
		SuccessfulCalculations: s.SuccessfulCalculations,
		ManualMode:             s.ManualMode,
		State:                  string(s.State),
	}
	if s.Optimal != nil {
		c := toCandidate(*s.Optimal)
		out.OptimalRider = &c
	}
	for _, ev := range s.Alternates {
		out.Alternates = append(out.Alternates, toCandidate(ev))
	}

	sc := s.SelectionCriteria
	out.SelectionCriteria = criteriaResp{
		Priority:        string(sc.Priority),
		VehicleTypes:    vehicleStrings(sc.VehicleTypes),
		CandidateLimit:  sc.CandidateLimit,
		Eligible:        sc.Eligible,
		Rejected:        make(map[string]int, len(sc.Rejected)),
		BelowMinimum:    sc.BelowMinimum,
		RouteFailures:   sc.RouteFailures,
		UnlocatedRiders: make([]string, 0, len(sc.UnlocatedRiders)),
		ManualPolicy:    sc.ManualPolicy,
		NoGPSFraction:   sc.NoGPSFraction,
		Weights: weightsResp{
			Capacity:        sc.Weights.Capacity,
			NoGPS:           sc.Weights.NoGPS,
			Rating:          sc.Weights.Rating,
			BaselineRating:  sc.Weights.BaselineRating,
			MaxRatingAdjust: sc.Weights.MaxRatingAdjust,
			PriorityFactor:  make(map[string]float64, len(sc.Weights.PriorityDurationFactor)),
		},
	}
	for k, v := range sc.Rejected {
		out.SelectionCriteria.Rejected[string(k)] = v
	}
	for _, id := range sc.UnlocatedRiders {
		out.SelectionCriteria.UnlocatedRiders = append(out.SelectionCriteria.UnlocatedRiders, string(id))
	}
	for k, v := range sc.Weights.PriorityDurationFactor {
		out.SelectionCriteria.Weights.PriorityFactor[string(k)] = v
	}
	return out
}

func toAssign(res *dispatch.AssignResult) assignResp {
	a := res.Assignment
	return assignResp{
		AssignmentID: a.ID,
		DeliveryID:   string(a.DeliveryID),
		AssignedRider: assignedRiderResp{
			RiderID:         string(a.RiderID),
			RiderName:       res.Rider.Name,
			DistanceKm:      a.DistanceKm,
			DurationMinutes: a.DurationMinutes,
		},
		SelectionMode: string(a.SelectionMode),
		Estimated:     a.Estimated,
		AssignedAt:    a.AssignedAt,
	}
}

func vehicleStrings(vts []rider.VehicleType) []string {
	out := make([]string, len(vts))
	for i, v := range vts {
		out[i] = string(v)
	}
	return out
}
