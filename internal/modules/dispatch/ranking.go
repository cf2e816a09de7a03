// README: RankingPolicy; deterministic total order over evaluations.
package dispatch

import (
	"sort"

	"riderdispatch/internal/types"
)

type Ranking struct {
	Optimal    *CandidateEvaluation
	Alternates []CandidateEvaluation
}

// Empty is the no-candidates ranking.
func Empty() Ranking { return Ranking{Alternates: []CandidateEvaluation{}} }

func (r Ranking) IsEmpty() bool { return r.Optimal == nil }

// Ordered returns the optimal rider followed by the alternates.
func (r Ranking) Ordered() []CandidateEvaluation {
	if r.Optimal == nil {
		return nil
	}
	return append([]CandidateEvaluation{*r.Optimal}, r.Alternates...)
}

type Ranker struct {
	epsilon       float64
	maxAlternates int
}

func NewRanker(epsilon float64, maxAlternates int) Ranker {
	return Ranker{epsilon: epsilon, maxAlternates: maxAlternates}
}

// Rank orders evals by score. Scores are grouped by walking them in
// ascending order: a group starts at its lowest score and takes every score
// within epsilon of it. Inside a group the tie-break chain decides, so the
// comparison is a total order.
func (rk Ranker) Rank(evals []CandidateEvaluation) Ranking {
	if len(evals) == 0 {
		return Empty()
	}
	sorted := append([]CandidateEvaluation(nil), evals...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score < sorted[j].Score
		}
		return sorted[i].RiderID < sorted[j].RiderID
	})

	group := make(map[types.ID]int, len(sorted))
	g, anchor := 0, sorted[0].Score
	for _, ev := range sorted {
		if ev.Score-anchor > rk.epsilon {
			g++
			anchor = ev.Score
		}
		group[ev.RiderID] = g
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if group[a.RiderID] != group[b.RiderID] {
			return group[a.RiderID] < group[b.RiderID]
		}
		return tieBreak(a, b)
	})

	best := sorted[0]
	alts := sorted[1:]
	if rk.maxAlternates >= 0 && len(alts) > rk.maxAlternates {
		alts = alts[:rk.maxAlternates]
	}
	return Ranking{Optimal: &best, Alternates: append([]CandidateEvaluation{}, alts...)}
}

func tieBreak(a, b CandidateEvaluation) bool {
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.CurrentDeliveries != b.CurrentDeliveries {
		return a.CurrentDeliveries < b.CurrentDeliveries
	}
	return a.RiderID < b.RiderID
}
