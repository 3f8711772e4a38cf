// Package obs carries the ambient observability stack: structured logging
// and the Prometheus registration helpers shared by all five Moduly
// binaries.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures a global slog logger for service, JSON if
// MODULY_JSON_LOG=1/true else text. Grounded on the SWARM repo's
// logging.Init helper.
func InitLogging(service string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("MODULY_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", mode == "1" || mode == "true" || mode == "json")
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("MODULY_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
