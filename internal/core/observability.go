package core

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the minimal structured logging surface used by the service.
// The default implementation delegates to log/slog; tests substitute a
// capture or noop logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// AuditStatus reports the terminal state of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures one audited service operation.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	EntityID  string
	Action    Action
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries emitted by the service.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes operation outcomes for metric export.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a span, recording the outcome error if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface. A nil function
// falls back to the wall clock in UTC.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f()
}

type serviceOptions struct {
	logger           Logger
	audit            AuditRecorder
	metrics          MetricsRecorder
	tracer           Tracer
	clock            Clock
	lockWait         time.Duration
	depthLimit       int
	lineageCacheSize int
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:           slogLogger{logger: slog.Default()},
		audit:            noopAuditRecorder{},
		metrics:          noopMetricsRecorder{},
		tracer:           noopTracer{},
		clock:            ClockFunc(nil),
		lockWait:         5 * time.Second,
		depthLimit:       DefaultLineageDepthLimit,
		lineageCacheSize: 256,
	}
}

// ServiceOption customizes service construction.
type ServiceOption func(*serviceOptions)

// WithLogger overrides the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder wires an audit sink for service operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder wires a metrics sink for service operations.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer wires a tracer for service operations.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLockWait bounds how long a writer waits for a container lock.
func WithLockWait(wait time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if wait > 0 {
			o.lockWait = wait
		}
	}
}

// WithLineageDepthLimit overrides the traversal ceiling for lineage
// queries.
func WithLineageDepthLimit(limit int) ServiceOption {
	return func(o *serviceOptions) {
		if limit > 0 {
			o.depthLimit = limit
		}
	}
}

// WithLineageCacheSize sizes the in-process lineage read cache.
func WithLineageCacheSize(size int) ServiceOption {
	return func(o *serviceOptions) {
		if size > 0 {
			o.lineageCacheSize = size
		}
	}
}
