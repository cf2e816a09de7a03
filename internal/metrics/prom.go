// README: Prometheus collectors for dispatch outcomes, latency, route fallbacks and commit conflicts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	fallbacks *prometheus.CounterVec
	conflicts prometheus.Counter
}

// NewProm registers the collectors on reg (the default registerer when nil).
// Collectors already registered are reused.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_total",
		Help: "Dispatch requests by operation and terminal state",
	}, []string{"operation", "state"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Dispatch request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_route_fallbacks_total",
		Help: "Routes served by the haversine estimator, by reason",
	}, []string{"reason"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_commit_conflicts_total",
		Help: "Assignment commits that lost a version race",
	})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if fallbacks, err = register(reg, fallbacks); err != nil {
		return nil, err
	}
	if conflicts, err = register(reg, conflicts); err != nil {
		return nil, err
	}
	return &Prom{requests: requests, latency: latency, fallbacks: fallbacks, conflicts: conflicts}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *Prom) DispatchFinished(operation, state string, elapsed time.Duration) {
	p.requests.WithLabelValues(operation, state).Inc()
	p.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (p *Prom) RouteFallback(reason string) {
	p.fallbacks.WithLabelValues(reason).Inc()
}

func (p *Prom) CommitConflict() {
	p.conflicts.Inc()
}
