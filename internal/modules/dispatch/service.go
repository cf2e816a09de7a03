// README: DispatchService; suggest, auto-assign and manual-assign over filter/score/rank/commit.
package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"riderdispatch/internal/config"
	"riderdispatch/internal/modules/assignment"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
	"riderdispatch/internal/types"
)

type State string

const (
	StateEvaluating     State = "evaluating"
	StateAssigned       State = "assigned"
	StateNoCandidates   State = "no_candidates"
	StateManualFallback State = "manual_fallback"
	StateFailed         State = "failed"
)

const (
	PolicyOptimal   = "optimal"
	PolicyRankedSet = "ranked_set"
)

type Directory interface {
	ListAvailableRiders(ctx context.Context, c rider.Criteria) ([]rider.Rider, error)
	GetRider(ctx context.Context, id types.ID) (*rider.Rider, error)
}

type Deliveries interface {
	GetDelivery(ctx context.Context, id types.ID) (*delivery.Delivery, error)
}

type RouteProvider interface {
	Compute(ctx context.Context, origin, destination types.Point) (routing.Route, error)
}

type Coordinator interface {
	Commit(ctx context.Context, cmd assignment.CommitCommand) (*assignment.Result, error)
	Validate(ctx context.Context, deliveryID, riderID types.ID) (*rider.Rider, error)
}

type Recorder interface {
	DispatchFinished(operation, state string, elapsed time.Duration)
}

type Settings struct {
	Dispatch config.DispatchConfig
	Scoring  config.ScoringConfig
	Workers  int
}

func SettingsFrom(cfg config.Config) Settings {
	return Settings{Dispatch: cfg.Dispatch, Scoring: cfg.Scoring, Workers: cfg.Routing.Workers}
}

// SuggestCommand ranks riders for Pickup. DeliveryID, when the store knows
// it, adds the stored priority and vehicle constraint; Pickup may then be nil.
type SuggestCommand struct {
	Pickup     *types.Point
	DeliveryID types.ID
	Priority   string
}

type AutoAssignCommand struct {
	DeliveryID types.ID
	Priority   string
}

type ManualAssignCommand struct {
	DeliveryID types.ID
	RiderID    types.ID
}

type SelectionCriteria struct {
	Priority       delivery.Priority
	VehicleTypes   []rider.VehicleType
	CandidateLimit int
	Eligible       int
	Rejected       map[RejectReason]int
	BelowMinimum   bool
	RouteFailures  int
	// UnlocatedRiders are eligible riders without any position. They are
	// never ranked but an operator may still pick them manually.
	UnlocatedRiders []types.ID
	ManualPolicy    string
	NoGPSFraction   float64
	Weights         Weights
}

type Suggestion struct {
	Optimal                *CandidateEvaluation
	Alternates             []CandidateEvaluation
	TotalCandidates        int
	SuccessfulCalculations int
	SelectionCriteria      SelectionCriteria
	ManualMode             bool
	State                  State
}

type AssignResult struct {
	Assignment delivery.Assignment
	Rider      rider.Rider
	State      State
	Suggestion *Suggestion
}

type Service struct {
	directory   Directory
	deliveries  Deliveries
	routes      RouteProvider
	coordinator Coordinator
	settings    Settings
	filter      Filter
	scorer      *Scorer
	ranker      Ranker
	log         zerolog.Logger
	recorder    Recorder
	now         func() time.Time
}

func NewService(directory Directory, deliveries Deliveries, routes RouteProvider, coordinator Coordinator, settings Settings, log zerolog.Logger, recorder Recorder) *Service {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	return &Service{
		directory:   directory,
		deliveries:  deliveries,
		routes:      routes,
		coordinator: coordinator,
		settings:    settings,
		filter:      NewFilter(settings.Dispatch),
		scorer:      NewScorer(WeightsFrom(settings.Scoring)),
		ranker:      NewRanker(settings.Dispatch.Epsilon, settings.Dispatch.MaxAlternates),
		log:         log.With().Str("component", "dispatch").Logger(),
		recorder:    recorder,
		now:         time.Now,
	}
}

// Suggest ranks riders for a pickup point without committing anything.
func (s *Service) Suggest(ctx context.Context, cmd SuggestCommand) (sug *Suggestion, err error) {
	start := s.now()
	defer func() { s.finish("suggest", start, stateOf(sug, err)) }()

	d, derr := s.suggestTarget(ctx, cmd)
	if derr != nil {
		return nil, derr
	}
	sug, derr = s.evaluate(ctx, *d)
	if derr != nil {
		return nil, derr
	}
	if sug.Optimal != nil {
		sug.State = StateManualFallback
	}
	return sug, nil
}

func (s *Service) suggestTarget(ctx context.Context, cmd SuggestCommand) (*delivery.Delivery, *Error) {
	if cmd.Pickup != nil && !cmd.Pickup.Valid() {
		return nil, newError(CodeInvalidInput, "invalid delivery coordinates", routing.ErrInvalidCoordinates)
	}
	d := delivery.Delivery{ID: cmd.DeliveryID, Priority: delivery.PriorityNormal}
	known := false
	if cmd.DeliveryID != "" {
		stored, err := s.deliveries.GetDelivery(ctx, cmd.DeliveryID)
		switch {
		case err == nil:
			d = *stored
			known = true
		case cmd.Pickup == nil:
			return nil, s.fail(err, "load delivery")
		case errors.Is(err, delivery.ErrNotFound):
			// Ids minted elsewhere are fine when the caller sends coordinates.
		default:
			s.log.Warn().Err(err).Str("delivery_id", string(cmd.DeliveryID)).Msg("delivery lookup failed, ranking by coordinates")
		}
	}
	switch {
	case cmd.Pickup != nil:
		d.Pickup = *cmd.Pickup
	case !known:
		return nil, newError(CodeInvalidInput, "delivery coordinates are required", routing.ErrInvalidCoordinates)
	}
	if cmd.Priority != "" {
		p, err := delivery.ParsePriority(cmd.Priority)
		if err != nil {
			return nil, newError(CodeInvalidInput, "invalid priority", err)
		}
		d.Priority = p
	}
	if d.Priority == "" {
		d.Priority = delivery.PriorityNormal
	}
	return &d, nil
}

// AutoAssign ranks riders for a stored delivery and commits the best one that
// still fits. When manual selection is required the returned result carries
// the suggestion alongside the error.
func (s *Service) AutoAssign(ctx context.Context, cmd AutoAssignCommand) (res *AssignResult, err error) {
	start := s.now()
	defer func() {
		state := stateOf(nil, err)
		if res != nil {
			state = res.State
		}
		s.finish("auto_assign", start, state)
	}()

	if cmd.DeliveryID == "" {
		return nil, newError(CodeInvalidInput, "delivery_id is required", nil)
	}
	stored, gerr := s.deliveries.GetDelivery(ctx, cmd.DeliveryID)
	if gerr != nil {
		return nil, s.fail(gerr, "load delivery")
	}
	d := *stored
	if cmd.Priority != "" {
		p, perr := delivery.ParsePriority(cmd.Priority)
		if perr != nil {
			return nil, newError(CodeInvalidInput, "invalid priority", perr)
		}
		d.Priority = p
	}
	if d.Assigned() {
		return nil, newError(CodeAlreadyAssigned, "delivery already has an active assignment", assignment.ErrAlreadyAssigned)
	}

	sug, derr := s.evaluate(ctx, d)
	if derr != nil {
		return nil, derr
	}
	if sug.Optimal == nil {
		if sug.TotalCandidates > 0 && sug.SuccessfulCalculations == 0 {
			return nil, newError(CodeRouteCalculationFailed, "no route could be computed for any candidate", routing.ErrRouteUnavailable)
		}
		return nil, newError(CodeNoRidersAvailable, "no eligible riders", nil)
	}
	if sug.ManualMode {
		sug.State = StateManualFallback
		return &AssignResult{State: StateManualFallback, Suggestion: sug},
			newError(CodeManualSelectionRequired, "candidate locations are unreliable, choose a rider manually", nil)
	}

	var lastErr error
	for _, ev := range (Ranking{Optimal: sug.Optimal, Alternates: sug.Alternates}).Ordered() {
		out, cerr := s.coordinator.Commit(ctx, assignment.CommitCommand{
			DeliveryID: d.ID,
			RiderID:    ev.RiderID,
			Route:      routing.Route{DistanceKm: ev.DistanceKm, DurationMinutes: ev.DurationMinutes, Estimated: ev.Estimated},
			Mode:       delivery.SelectionAuto,
		})
		if cerr == nil {
			sug.State = StateAssigned
			return &AssignResult{Assignment: out.Assignment, Rider: out.Rider, State: StateAssigned, Suggestion: sug}, nil
		}
		if errors.Is(cerr, assignment.ErrCapacityExceeded) ||
			errors.Is(cerr, assignment.ErrRiderUnavailable) ||
			errors.Is(cerr, assignment.ErrConflict) {
			s.log.Debug().Err(cerr).Str("delivery_id", string(d.ID)).Str("rider_id", string(ev.RiderID)).Msg("candidate rejected at commit, trying next")
			lastErr = cerr
			continue
		}
		return nil, s.fail(cerr, "commit assignment")
	}
	return nil, classify(lastErr)
}

// ManualAssign commits a rider chosen by an operator after re-checking capacity.
func (s *Service) ManualAssign(ctx context.Context, cmd ManualAssignCommand) (res *AssignResult, err error) {
	start := s.now()
	defer func() { s.finish("manual_assign", start, stateOf(nil, err)) }()

	d, r, verr := s.validate(ctx, cmd)
	if verr != nil {
		return nil, verr
	}

	route := routing.Route{Estimated: true}
	if r.Location != nil {
		computed, rerr := s.routes.Compute(ctx, r.Location.Point, d.Pickup)
		if rerr == nil {
			route = computed
		} else if ctx.Err() != nil {
			return nil, s.fail(ctx.Err(), "compute route")
		}
	}

	out, cerr := s.coordinator.Commit(ctx, assignment.CommitCommand{
		DeliveryID: d.ID,
		RiderID:    r.ID,
		Route:      route,
		Mode:       delivery.SelectionManual,
	})
	if cerr != nil {
		return nil, s.fail(cerr, "commit assignment")
	}
	return &AssignResult{Assignment: out.Assignment, Rider: out.Rider, State: StateAssigned}, nil
}

// ValidateManual reports whether the rider can still take the delivery. Nothing is written.
func (s *Service) ValidateManual(ctx context.Context, cmd ManualAssignCommand) (*rider.Rider, error) {
	_, r, err := s.validate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) validate(ctx context.Context, cmd ManualAssignCommand) (*delivery.Delivery, *rider.Rider, *Error) {
	if cmd.DeliveryID == "" || cmd.RiderID == "" {
		return nil, nil, newError(CodeInvalidInput, "delivery_id and rider_id are required", nil)
	}
	d, err := s.deliveries.GetDelivery(ctx, cmd.DeliveryID)
	if err != nil {
		return nil, nil, s.fail(err, "load delivery")
	}
	if _, err := s.coordinator.Validate(ctx, cmd.DeliveryID, cmd.RiderID); err != nil {
		return nil, nil, s.fail(err, "validate rider")
	}
	r, err := s.directory.GetRider(ctx, cmd.RiderID)
	if err != nil {
		return nil, nil, s.fail(err, "load rider")
	}
	return d, r, nil
}

// evaluate runs filter, route lookups, scoring and ranking for d.
func (s *Service) evaluate(ctx context.Context, d delivery.Delivery) (*Suggestion, *Error) {
	// The full roster goes through the filter so rejections are counted.
	riders, err := s.directory.ListAvailableRiders(ctx, rider.Criteria{})
	if err != nil {
		return nil, s.fail(err, "list riders")
	}

	fr := s.filter.Apply(d, riders)
	limit := candidateLimit(s.settings.Dispatch.MaxCandidates, d.Priority)
	candidates := Cap(fr.Eligible, d.Pickup, limit)

	evals, failures, unlocated, err := s.computeEvaluations(ctx, d, candidates)
	if err != nil {
		return nil, s.fail(err, "compute routes")
	}
	ranking := s.ranker.Rank(evals)

	sug := &Suggestion{
		Optimal:                ranking.Optimal,
		Alternates:             ranking.Alternates,
		TotalCandidates:        len(candidates),
		SuccessfulCalculations: len(evals),
		SelectionCriteria: SelectionCriteria{
			Priority:        d.Priority,
			VehicleTypes:    d.RequiredVehicleTypes,
			CandidateLimit:  limit,
			Eligible:        len(fr.Eligible),
			Rejected:        fr.Rejected,
			BelowMinimum:    fr.BelowMinimum,
			RouteFailures:   failures,
			UnlocatedRiders: unlocated,
			ManualPolicy:    s.settings.Dispatch.Manual.Policy,
			Weights:         s.scorer.Weights(),
		},
		State: StateEvaluating,
	}
	sug.SelectionCriteria.NoGPSFraction = noGPSFraction(ranking)
	sug.ManualMode = s.manualMode(ranking, fr, sug.SelectionCriteria.NoGPSFraction)
	if ranking.IsEmpty() {
		sug.State = StateNoCandidates
	}

	s.log.Debug().
		Str("delivery_id", string(d.ID)).
		Str("priority", string(d.Priority)).
		Int("eligible", len(fr.Eligible)).
		Int("evaluated", len(evals)).
		Int("route_failures", failures).
		Bool("manual_mode", sug.ManualMode).
		Msg("candidates ranked")
	return sug, nil
}

// computeEvaluations routes every candidate to the pickup on a bounded pool.
// Candidates whose route cannot be computed are counted and skipped; a
// cancelled context discards everything.
func (s *Service) computeEvaluations(ctx context.Context, d delivery.Delivery, candidates []rider.Rider) ([]CandidateEvaluation, int, []types.ID, error) {
	if len(candidates) == 0 {
		return nil, 0, nil, nil
	}
	now := s.now()
	stale := s.settings.Dispatch.GPSStaleAfter

	results := make([]*CandidateEvaluation, len(candidates))
	var mu sync.Mutex
	failures := 0
	var unlocated []types.ID

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for i, r := range candidates {
		g.Go(func() error {
			if r.Location == nil {
				mu.Lock()
				failures++
				unlocated = append(unlocated, r.ID)
				mu.Unlock()
				return nil
			}
			route, err := s.routes.Compute(gctx, r.Location.Point, d.Pickup)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failures++
				mu.Unlock()
				s.log.Debug().Err(err).Str("rider_id", string(r.ID)).Msg("route failed")
				return nil
			}
			ev := s.scorer.Evaluate(d.Priority, r, route, r.HasFix(now, stale))
			results[i] = &ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, nil, err
	}
	sort.Slice(unlocated, func(i, j int) bool { return unlocated[i] < unlocated[j] })

	evals := make([]CandidateEvaluation, 0, len(results))
	for _, ev := range results {
		if ev != nil {
			evals = append(evals, *ev)
		}
	}
	return evals, failures, unlocated, nil
}

func (s *Service) manualMode(r Ranking, fr FilterResult, noGPS float64) bool {
	if r.IsEmpty() {
		return true
	}
	m := s.settings.Dispatch.Manual
	if m.UrgentShortfallManual && fr.BelowMinimum {
		return true
	}
	switch m.Policy {
	case PolicyOptimal:
		return !r.Optimal.HasGPS
	default:
		return noGPS > m.Threshold
	}
}

func noGPSFraction(r Ranking) float64 {
	set := r.Ordered()
	if len(set) == 0 {
		return 0
	}
	missing := 0
	for _, ev := range set {
		if !ev.HasGPS {
			missing++
		}
	}
	return float64(missing) / float64(len(set))
}

// fail classifies err and logs internal failures with their cause.
func (s *Service) fail(err error, op string) *Error {
	de := classify(err)
	if de.Code == CodeInternal {
		s.log.Error().Err(err).Str("op", op).Msg("dispatch failed")
	}
	return de
}

func (s *Service) finish(op string, start time.Time, state State) {
	if s.recorder == nil {
		return
	}
	s.recorder.DispatchFinished(op, string(state), s.now().Sub(start))
}

func stateOf(sug *Suggestion, err error) State {
	switch {
	case err == nil && sug != nil:
		return sug.State
	case err == nil:
		return StateAssigned
	}
	switch CodeOf(err) {
	case CodeNoRidersAvailable, CodeRouteCalculationFailed:
		return StateNoCandidates
	case CodeManualSelectionRequired:
		return StateManualFallback
	default:
		return StateFailed
	}
}
