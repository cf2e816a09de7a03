// README: serve command; wires stores, cache, routing, broker and metrics into the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"riderdispatch/internal/bench"
	"riderdispatch/internal/config"
	httptransport "riderdispatch/internal/http"
	"riderdispatch/internal/infra"
	"riderdispatch/internal/maps"
	"riderdispatch/internal/metrics"
	"riderdispatch/internal/modules/assignment"
	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/dispatch"
	"riderdispatch/internal/modules/location"
	"riderdispatch/internal/modules/memstore"
	"riderdispatch/internal/modules/rider"
	"riderdispatch/internal/modules/routing"
)

var seedRiders int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch HTTP API",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().IntVar(&seedRiders, "seed-riders", 0, "memory backend only: seed a synthetic fleet of this size")
	rootCmd.AddCommand(serveCmd)
}

type backend struct {
	source     rider.Source
	deliveries assignment.Deliveries
	riders     assignment.Riders
	ledger     assignment.Ledger
	persister  location.Persister
	close      func()
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom, err := metrics.NewProm(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	var positions rider.PositionCache
	var cache *location.Store
	if cfg.Redis.Addr != "" {
		redisClient := infra.NewRedis(cfg.Redis.Addr)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; riders fall back to stored locations")
		} else {
			cache = location.NewStore(redisClient)
			positions = cache
		}
	}

	var routeClient routing.Client
	if cfg.Maps.APIKey != "" {
		rs, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		routeClient = rs
	} else {
		log.Info().Msg("no maps api key; routes are estimated")
	}

	opts := []assignment.Option{assignment.WithConflictRecorder(prom)}
	if cfg.AMQP.URL != "" {
		broker, err := infra.NewBroker(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return err
		}
		defer broker.Close()
		opts = append(opts, assignment.WithPublisher(assignment.NewEventPublisher(broker)))
	}

	directory := rider.NewDirectory(be.source, positions, log)
	routes := routing.NewProvider(routeClient, cfg.Routing, log, prom)
	coordinator := assignment.NewCoordinator(be.deliveries, be.riders, be.ledger, cfg.Assignment, log, opts...)
	dispatchSvc := dispatch.NewService(directory, be.deliveries, routes, coordinator, dispatch.SettingsFrom(cfg), log, prom)

	var locationSvc *location.Service
	if cache != nil {
		locationSvc = location.NewService(cache, be.persister, log)
	} else {
		locationSvc = location.NewService(nil, be.persister, log)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Dispatch: dispatchSvc,
		Location: locationSvc,
		Log:      log,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, router, log).Run(ctx)
}

func openBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.Store.Backend {
	case "memory":
		store := memstore.New()
		if seedRiders > 0 {
			ids := bench.SeedFleet(store, bench.FleetOptions{Riders: seedRiders, Deliveries: seedRiders * 2, Seed: time.Now().UnixNano()}, time.Now())
			log.Info().Int("riders", seedRiders).Int("deliveries", len(ids)).Msg("memory store seeded")
		}
		log.Info().Msg("using memory store")
		return &backend{source: store, deliveries: store, riders: store, ledger: store, persister: store, close: func() {}}, nil
	case "postgres":
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		riders := rider.NewStore(db)
		deliveries := delivery.NewStore(db)
		return &backend{
			source:     riders,
			deliveries: deliveries,
			riders:     riders,
			ledger:     assignment.NewPGLedger(db, riders, deliveries),
			persister:  riders,
			close:      db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
