// Package observability implements the observability sink (C9): it
// accepts call-log start/end pairs, counter/gauge updates, and latency
// observations for every dispatched call, and answers back with the
// aggregate snapshot fabric.health folds in. The sink is write-biased —
// spec.md §4.8 — reads exist only for that one aggregate query, not for a
// general metrics-export surface.
package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/aethara/fabric-gateway/dispatch"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
	"github.com/aethara/fabric-gateway/trace"
)

// Sink implements dispatch.Observer over the teacher's telemetry
// abstractions: structured call-log lines via Logger, counters/histograms
// via Metrics, and a span per call via Tracer. It also implements the
// dispatch package's unexported callSnapshotProvider interface so
// fabric.health can merge in call-volume data without dispatch importing
// this package.
type Sink struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu          sync.Mutex
	spans       map[spanKey]telemetry.Span
	totalCalls  int64
	totalErrors int64
	byOp        map[string]int64
	byErrorCode map[string]int64
	latencyMS   map[string]float64
}

type spanKey struct{ traceID, spanID string }

// Option configures a Sink.
type Option func(*Sink)

// WithLogger overrides the structured logger. Defaults to a no-op logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithMetrics overrides the counter/histogram recorder. Defaults to a
// no-op recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(s *Sink) { s.metrics = metrics }
}

// WithTracer overrides the span tracer. Defaults to a no-op tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(s *Sink) { s.tracer = tracer }
}

// NewSink constructs an observability Sink. Without options every
// telemetry surface is a no-op, so a Sink is safe to wire in unconditionally
// and upgrade later by supplying Clue/OTEL-backed implementations.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		tracer:      telemetry.NewNoopTracer(),
		spans:       make(map[spanKey]telemetry.Span),
		byOp:        make(map[string]int64),
		byErrorCode: make(map[string]int64),
		latencyMS:   make(map[string]float64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CallStarted implements dispatch.Observer: it opens a span for the call
// and logs the start of the call log record.
func (s *Sink) CallStarted(ctx context.Context, tr trace.Context, op string) {
	_, span := s.tracer.Start(ctx, op)
	s.mu.Lock()
	s.spans[spanKey{tr.TraceID, tr.SpanID}] = span
	s.mu.Unlock()

	s.metrics.IncCounter("fabric_calls_started_total", 1, "op", op)
	s.logger.Info(ctx, "call started", "trace_id", tr.TraceID, "span_id", tr.SpanID, "op", op)
}

// CallFinished implements dispatch.Observer: it closes the call's span,
// records a latency observation, increments the error counter on
// failure, and logs the call log record's completion.
func (s *Sink) CallFinished(ctx context.Context, tr trace.Context, op string, resp *dispatch.Response, duration time.Duration) {
	key := spanKey{tr.TraceID, tr.SpanID}
	s.mu.Lock()
	span, hasSpan := s.spans[key]
	delete(s.spans, key)
	s.totalCalls++
	s.byOp[op]++
	s.latencyMS[op] += float64(duration.Milliseconds())
	var code string
	if resp != nil && !resp.OK && resp.Error != nil {
		code = string(resp.Error.Code)
		s.totalErrors++
		s.byErrorCode[code]++
	}
	s.mu.Unlock()

	s.metrics.RecordTimer("fabric_call_duration", duration, "op", op)

	if hasSpan {
		if code != "" {
			span.SetStatus(codes.Error, code)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	if code != "" {
		s.metrics.IncCounter("fabric_call_errors_total", 1, "op", op, "code", code)
		s.logger.Error(ctx, "call failed", "trace_id", tr.TraceID, "op", op, "code", code, "duration_ms", duration.Milliseconds())
		return
	}
	s.logger.Info(ctx, "call finished", "trace_id", tr.TraceID, "op", op, "duration_ms", duration.Milliseconds())
}

// CallSnapshot returns the current call-volume aggregate: total calls and
// errors, per-operation counts, per-error-code counts, and a crude
// per-operation average latency. dispatch.handleHealth merges this into
// fabric.health's response when the configured Observer provides it.
func (s *Sink) CallSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	byOp := make(map[string]int64, len(s.byOp))
	for op, n := range s.byOp {
		byOp[op] = n
	}
	byErrorCode := make(map[string]int64, len(s.byErrorCode))
	for code, n := range s.byErrorCode {
		byErrorCode[code] = n
	}
	avgLatencyMS := make(map[string]float64, len(s.latencyMS))
	for op, sum := range s.latencyMS {
		if n := s.byOp[op]; n > 0 {
			avgLatencyMS[op] = sum / float64(n)
		}
	}

	return map[string]any{
		"total_calls":    s.totalCalls,
		"total_errors":   s.totalErrors,
		"by_op":          byOp,
		"by_error_code":  byErrorCode,
		"avg_latency_ms": avgLatencyMS,
	}
}
