// Package logging is the structured, stderr-only diagnostic logger: every
// transaction, site, and cycle-detection decision the Transaction Manager
// makes can be traced here without ever touching the exact-transcript
// stdout the driver writes. Grounded on cuemby-warren/pkg/log/log.go's
// use of zerolog for a process-wide base logger plus With*-derived child
// loggers, reshaped here to build directly off config.Settings instead of
// carrying its own parallel Level/Config types.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/avcopies/ssidb/internal/config"
)

// Logger is the process-wide base logger. Every component attaches its
// own fields with With* before using it.
var Logger zerolog.Logger

// Init configures the global Logger from settings, called once at startup
// from cmd/ssidb before the driver runs. A default run of ssidb must
// produce nothing on stderr, since only the stdout protocol transcript is
// scored — config.Defaults sets LogLevel to "error" for that reason. An
// unparsable LogLevel (a typo in SSIDB_LOG_LEVEL) falls back to error, so
// error-level events still reach stderr; the unparsable value itself is not
// reported.
func Init(settings config.Settings) {
	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if settings.LogJSON {
		Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithRun returns a child logger tagged with the run's correlation id.
func WithRun(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithSite returns a child of base tagged with a site id, for failure and
// recovery events. base is normally a run-scoped logger (WithRun's
// result), not the package global directly, so site events carry the run
// correlation id alongside the site id.
func WithSite(base zerolog.Logger, siteID int) zerolog.Logger {
	return base.With().Int("site_id", siteID).Logger()
}

// WithTxn returns a child of base tagged with a transaction id, for
// abort-cause and waiting-read park/resume diagnostics.
func WithTxn(base zerolog.Logger, tid string) zerolog.Logger {
	return base.With().Str("txn_id", tid).Logger()
}
