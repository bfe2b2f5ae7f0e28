// Package logging provides structured logging for the VPC agent.
//
// A zap core is wrapped in the logr interface so the same sink serves the
// agent's own structured logs and, through klog.SetLogger, the klog calls
// made by the switch and flow packages.
//
// klog verbosity maps onto zap levels: klog.V(n) is logged at zap level -n,
// so Verbosity decides how much of the command trace reaches the sink.
//
// Logs go to stderr by default; stdout carries the status string.
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.Options{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info("Applied topology", "bridge", "xapi3", "rules", 12)
//	logger.Error(err, "Failed to create tunnel", "tunnel", "t101-1-2")
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level constants
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// DefaultDebugVerbosity is the klog verbosity enabled at debug level.
// Switch commands are traced at V(5).
const DefaultDebugVerbosity = 5

// Options contains configuration options for the logger
type Options struct {
	// Level is the log level: debug, info, warn, error
	// Default: info
	Level string

	// Format is the log format: json or text
	// Default: json
	Format string

	// OutputPath is the output file path
	// If empty, logs to stderr
	OutputPath string

	// Verbosity is the highest klog V level logged when Level is debug
	// Default: DefaultDebugVerbosity
	Verbosity int

	// Development enables development mode (stack traces on warnings)
	Development bool

	// Output overrides OutputPath, mainly for tests
	Output io.Writer
}

// DefaultOptions returns default logging options
func DefaultOptions() Options {
	return Options{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Verbosity: DefaultDebugVerbosity,
	}
}

// Logger wraps a zap logger with dynamic level support
type Logger struct {
	zapLogger   *zap.Logger
	atomicLevel zap.AtomicLevel
	verbosity   int

	// logr is the view handed to klog and context users
	logr logr.Logger
}

var (
	globalLogger atomic.Value
	initOnce     sync.Once
)

// NewLogger creates a new logger with the given options
func NewLogger(opts Options) (*Logger, error) {
	if opts.Verbosity <= 0 {
		opts.Verbosity = DefaultDebugVerbosity
	}
	level, err := zapLevel(opts.Level, opts.Verbosity)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    encodeLevel,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if opts.Format == FormatText {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	switch {
	case opts.Output != nil:
		output = zapcore.AddSync(opts.Output)
	case opts.OutputPath != "":
		file, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", opts.OutputPath, err)
		}
		output = zapcore.AddSync(file)
	default:
		output = zapcore.Lock(os.Stderr)
	}

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}
	zapLogger := zap.New(zapcore.NewCore(encoder, output, atomicLevel), zapOpts...)

	return &Logger{
		zapLogger:   zapLogger,
		atomicLevel: atomicLevel,
		verbosity:   opts.Verbosity,
		logr:        zapr.NewLogger(zapLogger),
	}, nil
}

// encodeLevel names zap's negative levels after the klog verbosity they carry
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l < zapcore.DebugLevel {
		enc.AppendString(fmt.Sprintf("v%d", -int(l)))
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// zapLevel maps a level name to the zap level enabling it
func zapLevel(level string, verbosity int) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.Level(-verbosity), nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel dynamically changes the log level
func (l *Logger) SetLevel(level string) error {
	zl, err := zapLevel(level, l.verbosity)
	if err != nil {
		return err
	}
	l.atomicLevel.SetLevel(zl)
	return nil
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() string {
	switch lvl := l.atomicLevel.Level(); {
	case lvl <= zapcore.DebugLevel:
		return LevelDebug
	case lvl == zapcore.InfoLevel:
		return LevelInfo
	case lvl == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// Logger returns the logr.Logger view, suitable for klog.SetLogger
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

// WithName returns a new logger with the given name
func (l *Logger) WithName(name string) *Logger {
	c := *l
	c.zapLogger = l.zapLogger.Named(name)
	c.logr = l.logr.WithName(name)
	return &c
}

// WithValues returns a new logger with the given key-value pairs
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	c := *l
	c.zapLogger = l.zapLogger.With(toZapFields(keysAndValues)...)
	c.logr = l.logr.WithValues(keysAndValues...)
	return &c
}

// Debug logs at klog verbosity 1
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

// Warn logs through zap directly; logr has no warning level
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.zapLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, toZapFields(keysAndValues)...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// V returns a logger at the specified verbosity level
func (l *Logger) V(level int) logr.Logger {
	return l.logr.V(level)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}

// InitGlobalLogger initializes the global logger.
// Only the first call has an effect.
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
	})
	return initErr
}

// GetGlobalLogger returns the global logger instance,
// or a default stderr logger if InitGlobalLogger has not run
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(DefaultOptions())
	return logger
}
