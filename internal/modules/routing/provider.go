// README: GeoDistanceProvider; external routing with a haversine estimator fallback.
package routing

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"riderdispatch/internal/config"
	"riderdispatch/internal/types"
)

var (
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrRouteUnavailable   = errors.New("route unavailable")
)

// Client is the external routing service.
type Client interface {
	Route(ctx context.Context, origin, destination types.Point) (distanceKm float64, duration time.Duration, err error)
}

// FallbackRecorder counts estimator fallbacks by reason ("timeout", "error").
type FallbackRecorder interface {
	RouteFallback(reason string)
}

type Route struct {
	DistanceKm      float64
	DurationMinutes float64
	// Estimated is set when the route comes from the haversine estimator.
	Estimated bool
}

type Provider struct {
	client   Client
	cfg      config.RoutingConfig
	log      zerolog.Logger
	recorder FallbackRecorder
}

// NewProvider builds a provider. A nil client means every route is estimated.
func NewProvider(client Client, cfg config.RoutingConfig, log zerolog.Logger, recorder FallbackRecorder) *Provider {
	return &Provider{
		client:   client,
		cfg:      cfg,
		log:      log.With().Str("component", "routing").Logger(),
		recorder: recorder,
	}
}

type routeResult struct {
	km  float64
	dur time.Duration
	err error
}

// Compute returns travel distance and duration from origin to destination.
// Primary failures degrade to Estimate; only bad input or a cancelled caller
// context produce an error.
func (p *Provider) Compute(ctx context.Context, origin, destination types.Point) (Route, error) {
	if !origin.Valid() || !destination.Valid() {
		return Route{}, ErrInvalidCoordinates
	}
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	if p.client == nil {
		return p.Estimate(origin, destination), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	// The client may not honour ctx; the select keeps the timeout authoritative.
	ch := make(chan routeResult, 1)
	go func() {
		km, dur, err := p.client.Route(callCtx, origin, destination)
		ch <- routeResult{km: km, dur: dur, err: err}
	}()

	var res routeResult
	select {
	case res = <-ch:
	case <-callCtx.Done():
		res = routeResult{err: callCtx.Err()}
	}

	if res.err == nil && validRoute(res.km, res.dur) {
		return Route{DistanceKm: res.km, DurationMinutes: res.dur.Minutes()}, nil
	}
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}

	reason := "error"
	if errors.Is(res.err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	if res.err == nil {
		res.err = ErrRouteUnavailable
	}
	p.log.Debug().Err(res.err).Str("reason", reason).
		Str("origin", origin.String()).Str("destination", destination.String()).
		Msg("routing fallback to estimator")
	if p.recorder != nil {
		p.recorder.RouteFallback(reason)
	}
	return p.Estimate(origin, destination), nil
}

// Estimate approximates road distance from the great-circle distance and
// derives duration from the configured average speed.
func (p *Provider) Estimate(origin, destination types.Point) Route {
	km := HaversineKm(origin, destination) * p.cfg.DetourFactor
	return Route{
		DistanceKm:      km,
		DurationMinutes: km / p.cfg.AvgSpeedKmh * 60,
		Estimated:       true,
	}
}

func validRoute(km float64, dur time.Duration) bool {
	return km >= 0 && !math.IsNaN(km) && !math.IsInf(km, 0) && dur >= 0
}
