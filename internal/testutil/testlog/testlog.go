package testlog

import (
	"testing"

	"github.com/danmuck/gema/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start applies the test logging profile and marks the test in the log.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}

// Logger writes through t.Log, so output only shows for failing or -v runs
// and stays attached to the test that produced it.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	w := zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t))
	return zerolog.New(w).Level(zerolog.GlobalLevel()).With().Timestamp().Str("test", t.Name()).Logger()
}
