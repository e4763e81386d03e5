package obs

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SetupLogger builds a zerolog.Logger writing to stdout at the given level
// ("debug", "info", "warn", "error"); an unrecognized level falls back to
// info rather than erroring, matching the behavior expected of an
// operator-facing config value.
func SetupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}
