package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/aethara/fabric-gateway/adapter"
)

// Recorder persists a trace's stream event sequence so it can be replayed
// or audited after the live SSE connection that served it has closed.
// Recording is best-effort from the caller's perspective: a streaming
// call's HTTP response does not depend on it succeeding.
type Recorder interface {
	Record(ctx context.Context, ev adapter.StreamEvent) error
	Close(ctx context.Context) error
}

// PulseRecorder persists events into a goa.design/pulse stream named
// `trace/<trace_id>`, one entry per event, mirroring the envelope shape
// the teacher's Pulse-backed runtime sink uses for its own event history.
type PulseRecorder struct {
	stream *streaming.Stream
}

// PulseRecorderOptions configures a PulseRecorder.
type PulseRecorderOptions struct {
	// Redis is the connection backing the Pulse stream. Required.
	Redis *redis.Client
	// TraceID names the stream: "trace/<trace_id>". Required.
	TraceID string
	// MaxLen bounds the number of entries kept for the trace. Zero uses
	// the Pulse default.
	MaxLen int
}

// NewPulseRecorder opens (creating if absent) the Pulse stream for one
// trace.
func NewPulseRecorder(opts PulseRecorderOptions) (*PulseRecorder, error) {
	if opts.Redis == nil {
		return nil, errors.New("stream: redis client is required")
	}
	if opts.TraceID == "" {
		return nil, errors.New("stream: trace id is required")
	}
	var streamOpts []streamopts.Stream
	if opts.MaxLen > 0 {
		streamOpts = append(streamOpts, streamopts.WithStreamMaxLen(opts.MaxLen))
	}
	str, err := streaming.NewStream("trace/"+opts.TraceID, opts.Redis, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("stream: open trace stream: %w", err)
	}
	return &PulseRecorder{stream: str}, nil
}

// Record appends one event's wire frame to the trace's Pulse stream.
func (r *PulseRecorder) Record(ctx context.Context, ev adapter.StreamEvent) error {
	frame, err := EncodeFrame(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("stream: marshal frame: %w", err)
	}
	if _, err := r.stream.Add(ctx, frame.Event, payload); err != nil {
		return fmt.Errorf("stream: record event: %w", err)
	}
	return nil
}

// Close destroys the trace's Pulse stream, releasing its Redis storage.
// Traces are short-lived by nature (one request's lifetime), so there is
// no separate retention policy beyond the stream's own max length.
func (r *PulseRecorder) Close(ctx context.Context) error {
	return r.stream.Destroy(ctx)
}

// Tee wraps events so that every item is both forwarded to the returned
// channel (for the live HTTP consumer) and handed to recorder.Record
// (for persistence). Recording failures are swallowed — a broken recorder
// must never stall or break the live stream a client is watching — and
// the wrapped channel still closes exactly once, after the source closes.
func Tee(ctx context.Context, events <-chan adapter.StreamEvent, recorder Recorder) <-chan adapter.StreamEvent {
	if recorder == nil {
		return events
	}
	out := make(chan adapter.StreamEvent)
	go func() {
		defer close(out)
		for ev := range events {
			_ = recorder.Record(ctx, ev)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
