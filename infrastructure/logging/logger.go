// Package logging provides structured logging with trace ID support for the
// graph engine and its supporting packages.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for a run's trace ID
	TraceIDKey ContextKey = "trace_id"
	// GraphKey is the context key for the graph name being executed
	GraphKey ContextKey = "graph"
	// ServiceKey is the context key for service name
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance
func New(service, level, format string) *Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set formatter
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:  logger,
		service: service,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if graph := ctx.Value(GraphKey); graph != nil {
		entry = entry.WithField("graph", graph)
	}

	return entry
}

// WithTraceID creates a new logger entry with trace ID
func (l *Logger) WithTraceID(traceID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service":  l.service,
		"trace_id": traceID,
	})
}

// WithFields creates a new logger entry with custom fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helper functions

// NewTraceID generates a new trace ID for a single execute() run.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithGraph adds the graph name to the context
func WithGraph(ctx context.Context, graph string) context.Context {
	return context.WithValue(ctx, GraphKey, graph)
}

// GetGraph retrieves the graph name from context
func GetGraph(ctx context.Context) string {
	if graph, ok := ctx.Value(GraphKey).(string); ok {
		return graph
	}
	return ""
}

// Structured logging helpers for the engine's own operational concerns.

// LogPump logs the result of pumping a single node.
func (l *Logger) LogPump(ctx context.Context, node string, barrierLevel int, didEmit bool, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"node":          node,
		"barrier_level": barrierLevel,
		"did_emit":      didEmit,
		"duration_ms":   duration.Milliseconds(),
	}).Debug("node pumped")
}

// LogIteration logs the outcome of one scheduler iteration.
func (l *Logger) LogIteration(ctx context.Context, iteration, currentBarrierLevel int, emittedLevel *int) {
	fields := logrus.Fields{
		"iteration":             iteration,
		"current_barrier_level": currentBarrierLevel,
	}
	if emittedLevel != nil {
		fields["emitted_level"] = *emittedLevel
	}
	l.WithContext(ctx).WithFields(fields).Debug("scheduler iteration")
}

// LogDispatch logs a broker dispatch batch.
func (l *Logger) LogDispatch(ctx context.Context, broker string, requested, cached, dispatched int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"broker":      broker,
		"requested":   requested,
		"cache_hits":  cached,
		"dispatched":  dispatched,
		"duration_ms": duration.Milliseconds(),
	}).Info("broker dispatch complete")
}

// LogLedgerIO logs a ledger append/compact failure or success.
func (l *Logger) LogLedgerIO(ctx context.Context, ledger, op string, count int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"ledger": ledger,
		"op":     op,
		"count":  count,
	})
	if err != nil {
		entry.WithError(err).Error("ledger I/O failed")
	} else {
		entry.Debug("ledger I/O complete")
	}
}

// LogIterationCapExceeded logs that execute() aborted on the iteration cap.
func (l *Logger) LogIterationCapExceeded(ctx context.Context, maxIterations int) {
	l.WithContext(ctx).WithField("max_iterations", maxIterations).Warn("scheduler iteration cap exceeded")
}

// Global logger instance (can be initialized once at startup)
var defaultLogger *Logger

// InitDefault initializes the default logger
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the default logger
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("unknown", "info", "json")
	}
	return defaultLogger
}

// Convenience functions using default logger

// InfoDefault logs an info message using the default logger
func InfoDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Info(message)
}

// ErrorDefault logs an error message using the default logger
func ErrorDefault(ctx context.Context, message string, err error) {
	Default().WithContext(ctx).WithError(err).Error(message)
}

// WarnDefault logs a warning message using the default logger
func WarnDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Warn(message)
}

// DebugDefault logs a debug message using the default logger
func DebugDefault(ctx context.Context, message string) {
	Default().WithContext(ctx).Debug(message)
}

// FormatDuration formats a duration in milliseconds for log messages.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
