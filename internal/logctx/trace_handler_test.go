package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log output: %v", err)
	}

	return entry
}

// TestTraceHandler_NoSpanContext verifies that logs without span context
// do NOT include trace_id or span_id fields.
func TestTraceHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(context.Background(), "test message", "key", "value")

	entry := parseLogLine(t, &buf)

	if _, exists := entry["trace_id"]; exists {
		t.Errorf("trace_id should not be present without span context, got: %v", entry["trace_id"])
	}

	if _, exists := entry["span_id"]; exists {
		t.Errorf("span_id should not be present without span context, got: %v", entry["span_id"])
	}

	if entry["msg"] != "test message" {
		t.Errorf("expected msg='test message', got: %v", entry["msg"])
	}
}

// stampedSpan carries a fixed, valid span context.
type stampedSpan struct {
	trace.Span
	spanContext trace.SpanContext
}

func (s *stampedSpan) SpanContext() trace.SpanContext { return s.spanContext }

func (s *stampedSpan) End(...trace.SpanEndOption) {}

func newStampedContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatal(err)
	}

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatal(err)
	}

	span := &stampedSpan{spanContext: trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})}

	return trace.ContextWithSpan(context.Background(), span)
}

// TestTraceHandler_WithValidSpan verifies the trace and span ids get
// stamped onto the record.
func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(newStampedContext(t), "test message")

	entry := parseLogLine(t, &buf)

	if entry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace_id: %v", entry["trace_id"])
	}

	if entry["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("unexpected span_id: %v", entry["span_id"])
	}
}

// TestTraceHandler_Enabled verifies that Enabled delegates to the inner
// handler.
func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(nil, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("expected Info level to be disabled when handler level is Warn")
	}

	if !h.Enabled(ctx, slog.LevelError) {
		t.Error("expected Error level to be enabled")
	}
}

// TestTraceHandler_WithAttrs verifies the wrapper survives WithAttrs.
func TestTraceHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("component", "gate")})
	if _, ok := h.(*TraceHandler); !ok {
		t.Fatalf("WithAttrs should return *TraceHandler, got: %T", h)
	}

	slog.New(h).InfoContext(newStampedContext(t), "test")

	entry := parseLogLine(t, &buf)

	if entry["component"] != "gate" {
		t.Errorf("expected component attr to survive, got: %v", entry["component"])
	}

	if entry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected trace_id to be stamped, got: %v", entry["trace_id"])
	}
}

// TestTraceHandler_NilHandler verifies that NewTraceHandler panics with a
// nil handler.
func TestTraceHandler_NilHandler(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewTraceHandler with nil handler should panic")
		}
	}()

	NewTraceHandler(nil)
}

func TestLoggerFromContext(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Error("expected the default logger for a bare context")
	}

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFromContext(ctx); got != logger {
		t.Error("expected the attached logger to round-trip")
	}
}
