package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext returns the logger from the context,
// or the global logger if there is none
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return GetGlobalLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return GetGlobalLogger()
}

// IntoContext returns a new context with the logger
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerForBridge returns the context's logger with the bridge field set
func LoggerForBridge(ctx context.Context, bridge string) *Logger {
	return FromContext(ctx).WithValues("bridge", bridge)
}

// LoggerForCommand returns the agent logger for one subcommand
func LoggerForCommand(base *Logger, command string) *Logger {
	return base.WithName("agent").WithValues("command", command)
}
