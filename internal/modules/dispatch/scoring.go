// README: ScoringEngine; lower-is-better cost per candidate.
package dispatch

import (
	"math"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
)

type Weights struct {
	Capacity        float64
	NoGPS           float64
	Rating          float64
	BaselineRating  float64
	MaxRatingAdjust float64
	// PriorityDurationFactor multiplies duration cost; missing priorities use 1.
	PriorityDurationFactor map[delivery.Priority]float64
}

func WeightsFrom(cfg config.ScoringConfig) Weights {
	w := Weights{
		Capacity:               cfg.WCapacity,
		NoGPS:                  cfg.WNoGPS,
		Rating:                 cfg.WRating,
		BaselineRating:         cfg.BaselineRating,
		MaxRatingAdjust:        cfg.MaxRatingAdjust,
		PriorityDurationFactor: make(map[delivery.Priority]float64, len(cfg.PriorityDurationFactor)),
	}
	for k, v := range cfg.PriorityDurationFactor {
		w.PriorityDurationFactor[delivery.Priority(k)] = v
	}
	return w
}

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

func (s *Scorer) Weights() Weights { return s.w }

// Evaluate scores r for a delivery of priority p reached over route.
func (s *Scorer) Evaluate(p delivery.Priority, r rider.Rider, route routing.Route, hasGPS bool) CandidateEvaluation {
	util := r.Utilization()
	factor, ok := s.w.PriorityDurationFactor[p]
	if !ok || factor <= 0 {
		factor = 1
	}

	score := route.DistanceKm +
		route.DurationMinutes*factor +
		util*s.w.Capacity +
		s.ratingAdjust(r.Rating)
	if !hasGPS {
		score += s.w.NoGPS
	}

	return CandidateEvaluation{
		RiderID:             r.ID,
		RiderName:           r.Name,
		VehicleType:         r.VehicleType,
		DistanceKm:          route.DistanceKm,
		DurationMinutes:     route.DurationMinutes,
		Score:               score,
		HasGPS:              hasGPS,
		Estimated:           route.Estimated,
		CapacityUtilization: util,
		Rating:              r.Rating,
		CurrentDeliveries:   r.CurrentDeliveries,
	}
}

// ratingAdjust is negative for riders above baseline, clamped to MaxRatingAdjust.
func (s *Scorer) ratingAdjust(rating float64) float64 {
	adj := -(rating - s.w.BaselineRating) * s.w.Rating
	if s.w.MaxRatingAdjust > 0 {
		adj = math.Max(-s.w.MaxRatingAdjust, math.Min(s.w.MaxRatingAdjust, adj))
	}
	return adj
}
