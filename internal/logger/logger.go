package logger

import (
	"os"
	"strings"
	"time"

	"github.com/PolycarpusTack/tiergarten-sub002/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger: human console output in dev, JSON
// everywhere else, leveled from LOG_LEVEL. An unparseable level falls back
// to info rather than silencing the process.
func New(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out = os.Stdout
	var logger zerolog.Logger
	if cfg.AppEnv == "dev" {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		logger = zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}
