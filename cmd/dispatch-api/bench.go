// README: bench command; in-process assignment load with invariant checks.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"riderdispatch/internal/bench"
)

var benchOpts struct {
	riders      int
	deliveries  int
	concurrency int
	noGPS       float64
	timeout     time.Duration
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run concurrent auto-assign load in process and check assignment invariants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), benchOpts.timeout)
		defer cancel()

		rep, err := bench.Run(ctx, cfg, bench.Options{
			Fleet: bench.FleetOptions{
				Riders:     benchOpts.riders,
				Deliveries: benchOpts.deliveries,
				NoGPSShare: benchOpts.noGPS,
				Seed:       time.Now().UnixNano(),
			},
			Concurrency: benchOpts.concurrency,
		}, log)
		if err != nil {
			return err
		}
		rep.Print(os.Stdout)
		if rep.Failed() {
			return errors.New("invariant check failed")
		}
		return nil
	},
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&benchOpts.riders, "riders", 200, "fleet size")
	f.IntVar(&benchOpts.deliveries, "deliveries", 500, "deliveries to assign")
	f.IntVar(&benchOpts.concurrency, "concurrency", 20, "concurrent dispatch workers")
	f.Float64Var(&benchOpts.noGPS, "no-gps-share", 0.1, "fraction of riders with a stale fix")
	f.DurationVar(&benchOpts.timeout, "timeout", time.Minute, "total run timeout")
	rootCmd.AddCommand(benchCmd)
}
