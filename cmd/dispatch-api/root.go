// README: Root command and shared config/logger bootstrap.
package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"riderdispatch/internal/config"
	"riderdispatch/internal/infra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "dispatch-api",
	Short:         "Delivery dispatch and rider assignment engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "optional YAML configuration file")
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, infra.NewLogger(cfg.Env, cfg.Logging), nil
}
