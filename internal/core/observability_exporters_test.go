package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "bloodlink_service_metrics_") {
		t.Fatalf("unexpected generated name %s", rec.Name())
	}
	rec.Observe(context.Background(), "create_request", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "create_request", false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	stats := snap["create_request"]
	if stats.Success != 1 || stats.Error != 1 || stats.TotalMillis != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(snap) != 1 {
		t.Fatalf("empty operation must be ignored, got %v", snap)
	}
	published := expvar.Get(rec.Name())
	if published == nil || !strings.Contains(published.String(), "create_request") {
		t.Fatalf("expected expvar export to include operation")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "apply_run", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "apply_run", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "apply_run", false, time.Millisecond)

	if got := promtestutil.ToFloat64(rec.operations.WithLabelValues("apply_run", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := promtestutil.ToFloat64(rec.operations.WithLabelValues("apply_run", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := promtestutil.CollectAndCount(rec.latency); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestJSONTracerWritesEntries(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "cancel_request")
	span.End(errors.New("boom"))
	_, span = tracer.Start(context.Background(), "create_request")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "error" || entries[0].Error != "boom" || entries[1].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Operation != "create_request" {
		t.Fatalf("decode line: %+v %v", decoded, err)
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "op")
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("nil writer tracer should retain entries")
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	svc := newTestService(t, WithTracer(NewOTelTracer(provider.Tracer("test"))))
	if _, err := svc.CreateRequest(context.Background(), "city", "City", "B-", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "bloodlink.create_request" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || len(spans[1].Events()) == 0 {
		t.Fatalf("expected error status and recorded error event on second span")
	}
}

func TestZapLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).With("component", "test")
	logger.Debug("debug line", "k", 1)
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line", "error", "boom")

	if logs.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", logs.Len())
	}
	first := logs.All()[0]
	if first.Level != zapcore.DebugLevel || first.ContextMap()["k"] != int64(1) || first.ContextMap()["component"] != "test" {
		t.Fatalf("unexpected first entry %+v", first.ContextMap())
	}
	if logs.FilterMessage("error line").Len() != 1 {
		t.Fatalf("expected error line")
	}
	NewZapLogger(nil).Info("discarded")
}
