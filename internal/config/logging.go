package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevelEnv selects the log level when --verbose is not given.
const LogLevelEnv = "DELTAPIVOT_LOG_LEVEL"

var (
	logLevel    = new(slog.LevelVar)
	traceLogger atomic.Pointer[slog.Logger]
)

// ConfigureLogging installs a text handler on w as the default slog
// logger. verbose forces Debug; otherwise DELTAPIVOT_LOG_LEVEL decides
// (DEBUG, INFO, WARN, ERROR) and Info is the default.
//
// Stage traces get their own handler on w that passes Debug records, so an
// enabled stage is logged whatever the default level.
func ConfigureLogging(w io.Writer, verbose bool) {
	if w == nil {
		w = os.Stderr
	}
	logLevel.Set(levelFromEnv())
	if verbose {
		logLevel.Set(slog.LevelDebug)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
	traceLogger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

// Tracer returns the logger for stage records, tagged with the stage name.
// Callers check Tracing first. Before ConfigureLogging it is the default
// logger.
func Tracer(stage Stage) *slog.Logger {
	l := traceLogger.Load()
	if l == nil {
		l = slog.Default()
	}
	return l.With("stage", string(stage))
}

// SetLogLevel changes the level of the handler installed by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func levelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv(LogLevelEnv)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
