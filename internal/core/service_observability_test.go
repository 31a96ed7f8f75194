package core

import (
	"bytes"
	"context"
	"expvar"
	"strings"
	"testing"
	"time"

	"tracecore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op {
			if success && record.err == nil {
				return true
			}
			if !success && record.err != nil {
				return true
			}
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityCoversLedgerOperations(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}

	svc := NewInMemoryService(NewDefaultRulesEngine(),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	batch := registerBatch(t, svc, "batch-1", 10)
	if !audit.has("register_batch", AuditStatusSuccess, func(entry AuditEntry) bool { return entry.EntityID == batch.ID }) {
		t.Fatalf("expected audit entry for register_batch success")
	}

	createContainer(t, svc, "pallet-1")
	anchor(t, svc, "pallet-1", "batch-1")

	if _, err := svc.TransferCustody(ctx, "pallet-1", holder, "roaster", 5); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := svc.BurnCustody(ctx, "pallet-1", "roaster", 5); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if _, _, err := svc.Disaggregate(ctx, "pallet-1", "batch-1", nil); err != nil {
		t.Fatalf("disaggregate: %v", err)
	}

	// A failing operation records an error entry on all three sinks.
	if _, err := svc.TransferCustody(ctx, "pallet-1", "roaster", holder, 99); err == nil {
		t.Fatalf("expected transfer failure")
	}
	if !audit.has("transfer_custody", AuditStatusError, nil) {
		t.Fatalf("expected audit error entry for transfer_custody")
	}
	if !metrics.has("transfer_custody", false) {
		t.Fatalf("expected metrics entry for failed transfer_custody")
	}
	if !tracer.has("transfer_custody", false) {
		t.Fatalf("expected trace span for failed transfer_custody")
	}

	successOps := []string{
		"register_batch",
		"create_container",
		"anchor_aggregation",
		"transfer_custody",
		"burn_custody",
		"disaggregate",
	}
	for _, op := range successOps {
		if !metrics.has(op, true) {
			t.Fatalf("expected metrics success entry for %s", op)
		}
		if !tracer.has(op, true) {
			t.Fatalf("expected finished span for %s", op)
		}
		if !audit.has(op, AuditStatusSuccess, nil) {
			t.Fatalf("expected audit success entry for %s", op)
		}
	}
}

func TestAuditEntryUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	audit := &captureAuditRecorder{}
	svc := NewInMemoryService(NewDefaultRulesEngine(),
		WithAuditRecorder(audit),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	registerBatch(t, svc, "batch-1", 10)

	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Operation != "register_batch" || entry.Entity != domain.EntityBatch || entry.Action != domain.ActionCreate {
		t.Fatalf("unexpected entry metadata: %+v", entry)
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, entry.Timestamp)
	}
	if entry.Duration != 0 {
		t.Fatalf("frozen clock should yield zero duration, got %v", entry.Duration)
	}
}

func TestNoopImplementations(t *testing.T) {
	var logger noopLogger
	logger.Debug("noop")
	logger.Info("noop")
	logger.Warn("noop")
	logger.Error("noop")

	var audit noopAuditRecorder
	audit.Record(context.Background(), AuditEntry{})

	var metrics noopMetricsRecorder
	metrics.Observe(context.Background(), "noop", true, 0)

	tracer := noopTracer{}
	ctx, span := tracer.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context from tracer")
	}
	span.End(nil)
}

func TestClockFuncNilFallsBackToUTC(t *testing.T) {
	got := ClockFunc(nil).Now()
	if got.IsZero() {
		t.Fatal("expected non-zero time from nil ClockFunc")
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
}

const entryStatusSuccess = "success"
const entryStatusError = "error"

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "test_op", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "test_op", false, 5*time.Millisecond)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["test_op"] <= 0 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if snapshot.Results["test_op"][entryStatusSuccess] != 1 || snapshot.Results["test_op"][entryStatusError] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "trace_op")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected single span entry, got %d", len(entries))
	}
	if entries[0].Operation != "trace_op" || entries[0].Status != entryStatusSuccess {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
}
