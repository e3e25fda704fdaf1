package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns the JSON stdout logger of a binary. An empty level
// falls back to DEX_LOG_LEVEL.
func NewLogger(service, level string) zerolog.Logger {
	if level == "" {
		level = os.Getenv("DEX_LOG_LEVEL")
	}
	return zerolog.New(os.Stdout).
		Level(ParseLogLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Module derives the logger of one pipeline module.
func Module(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("module", name).Logger()
}

// ForUnit tags log lines with the processing unit they concern.
func ForUnit(parent zerolog.Logger, number uint64, hash string) zerolog.Logger {
	return parent.With().Uint64("unit", number).Str("unit_hash", hash).Logger()
}

// ParseLogLevel maps a level name to a zerolog level. Unknown names map to
// info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
