// Package stream implements the streaming channel (C7): it delivers the
// ordered, finite sequence of typed events an adapter's CallStream
// produces to an HTTP client as server-sent events, per spec.md §4.5.
//
// The channel itself is nothing more than the adapter.StreamEvent channel
// dispatch.Stream already returns — this package supplies the wire framing
// (the {event, data} shape spec.md §4.5/§6 specifies) and the SSE writer
// that drains it onto an http.ResponseWriter, flushing after every event so
// a client sees progress as it happens rather than buffered at the end.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aethara/fabric-gateway/adapter"
)

// Frame is the wire shape of one streamed event: an SSE "event" name drawn
// from spec.md §4.5's {status, token, progress, error, final, completed}
// set, and its JSON-encoded data.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// eventName maps an adapter.StreamEvent's Go-side EventType to the
// wire-level event name spec.md §4.5 names.
func eventName(ev adapter.StreamEvent) string {
	switch ev.Type() {
	case adapter.EventChunk:
		return "token"
	case adapter.EventToolCall:
		return "progress"
	case adapter.EventTerminal:
		return "final"
	case adapter.EventError:
		return "error"
	default:
		return string(ev.Type())
	}
}

// EncodeFrame converts a StreamEvent into its wire Frame. The data payload
// mirrors the concrete event's fields verbatim so a client need not know
// anything beyond the {event, data} envelope to parse it.
func EncodeFrame(ev adapter.StreamEvent) (Frame, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("stream: encode event: %w", err)
	}
	return Frame{Event: eventName(ev), Data: data}, nil
}

// Flusher is the subset of http.Flusher this package depends on, kept
// narrow so callers outside an HTTP handler (tests, alternative
// transports) can supply a no-op.
type Flusher interface {
	Flush()
}

// WriteSSE drains events onto w, framing each as `data: <json>\n\n` where
// <json> is the encoded {event, data} Frame, and flushing immediately
// after, per spec.md §4.5 ("the
// channel imposes no batching"). It returns when events closes (the normal
// case, after the adapter's terminal event) or when ctx is done (the
// client disconnected), in which case the caller is expected to have
// already arranged for the producer side to be cancelled — WriteSSE itself
// only stops reading.
func WriteSSE(ctx context.Context, w io.Writer, flusher Flusher, events <-chan adapter.StreamEvent) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			frame, err := EncodeFrame(ev)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				return fmt.Errorf("stream: marshal frame: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
