package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NodeLogger derives a logger carrying the node's identity fields from the
// globally configured logger.
func NodeLogger(app, profile, title string) zerolog.Logger {
	return log.Logger.With().
		Str("app", app).
		Str("profile", profile).
		Str("node", title).
		Logger()
}
