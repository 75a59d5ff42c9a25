package obs

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SetupLogger builds the process-wide structured logger. Unknown levels
// fall back to info.
func SetupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}
