package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
)

// withEnvelopeTimeout derives a context bounded by the envelope's declared
// timeout, falling back to the caller's context unmodified when no timeout
// was requested.
func withEnvelopeTimeout(ctx context.Context, envelope adapter.Envelope) (context.Context, context.CancelFunc) {
	if envelope.Target.TimeoutMS <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(envelope.Target.TimeoutMS)*time.Millisecond)
}

// sseFrame is the wire shape of one native-protocol or A2A server-sent
// event, per spec.md §4.5: {event, data}.
type sseFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// streamSSE reads "data: <json>\n\n" frames from r and decodes each into a
// StreamEvent, sending it on events until a terminal frame is seen, the
// body is exhausted, or ctx is cancelled. It always sends exactly one
// terminal-classified event before returning, synthesizing an ErrorEvent
// if the body ends without one.
func streamSSE(ctx context.Context, r io.Reader, traceID string, events chan<- adapter.StreamEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	sawTerminal := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var frame sseFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}

		ev, terminal := decodeFrame(frame, traceID)
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if terminal {
			sawTerminal = true
			break
		}
	}

	if !sawTerminal && ctx.Err() == nil {
		sendTerminalFallback(ctx, events, traceID, scanner.Err())
	}
}

func decodeFrame(frame sseFrame, traceID string) (adapter.StreamEvent, bool) {
	base := adapter.Base{TraceID: traceID, Timestamp: time.Now()}
	switch frame.Event {
	case "final", "completed":
		base.EventType = adapter.EventTerminal
		var result adapter.Result
		_ = json.Unmarshal(frame.Data, &result)
		return adapter.TerminalEvent{Base: base, Result: &result}, true
	case "error":
		base.EventType = adapter.EventError
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(frame.Data, &payload)
		return adapter.ErrorEvent{Base: base, Code: payload.Code, Message: payload.Message}, true
	default:
		base.EventType = adapter.EventChunk
		var output map[string]any
		_ = json.Unmarshal(frame.Data, &output)
		return adapter.ChunkEvent{Base: base, Output: output}, false
	}
}

func sendTerminalFallback(ctx context.Context, events chan<- adapter.StreamEvent, traceID string, readErr error) {
	msg := "stream ended without a terminal event"
	if readErr != nil {
		msg = readErr.Error()
	}
	ev := adapter.ErrorEvent{
		Base:    adapter.Base{EventType: adapter.EventError, TraceID: traceID, Timestamp: time.Now()},
		Code:    "UPSTREAM_ERROR",
		Message: msg,
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
