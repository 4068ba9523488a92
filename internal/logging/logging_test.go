package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestNewWithWriterJSONIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	log.With(LayoutID("layout-1")).Info(context.Background(), "published",
		Generation(3),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "published" || rec["layout_id"] != "layout-1" || rec["error"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["generation"] != float64(3) {
		t.Fatalf("generation = %v, want 3", rec["generation"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: "warn"}, &buf)

	log.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	log.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatalf("warn record missing")
	}
}

func TestWithRequestLoggerReusesExistingID(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx, _ = WithRequestLogger(ctx, nil)
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("request id = %q, want req-42", got)
	}

	fresh, id := EnsureRequestID(context.Background())
	if id == "" || RequestIDFromContext(fresh) != id {
		t.Fatalf("EnsureRequestID did not attach a generated id")
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("nil logger should be replaced with Noop")
	}
}

func TestRecordsCarryActiveSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Format: "json"}, &buf)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	log.Info(ctx, "published layout")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || rec["span_id"] != "00f067aa0ba902b7" {
		t.Fatalf("trace ids = %v/%v", rec["trace_id"], rec["span_id"])
	}

	buf.Reset()
	log.Info(context.Background(), "no span")
	rec = nil
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if _, ok := rec["trace_id"]; ok {
		t.Fatalf("record without a span has trace_id: %v", rec)
	}
}

func TestEnvConfigPrefersPlacementVariables(t *testing.T) {
	t.Setenv(EnvLevel, "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv(EnvFormat, "")
	t.Setenv("LOG_FORMAT", "json")
	if got := EnvConfig("warn"); got.Level != "warn" || got.Format != "json" {
		t.Fatalf("EnvConfig = %+v, want default level and fallback format", got)
	}

	t.Setenv("LOG_LEVEL", "error")
	t.Setenv(EnvLevel, "debug")
	if got := EnvConfig("warn"); got.Level != "debug" {
		t.Fatalf("level = %q, want %s to win", got.Level, EnvLevel)
	}
}
