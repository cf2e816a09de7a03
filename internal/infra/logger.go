// README: zerolog root logger; console output in dev, JSON otherwise.
package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"riderdispatch/internal/config"
)

func NewLogger(env string, cfg config.LoggingConfig) zerolog.Logger {
	return newLogger(os.Stdout, env, cfg)
}

func newLogger(out io.Writer, env string, cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	w := out
	if strings.EqualFold(env, "dev") || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "dispatch").Logger()
}
