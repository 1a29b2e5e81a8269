// Package trace constructs and propagates the per-request trace context
// (trace id, span id, parent span id) that is stitched through every call in
// the gateway. The authenticated-principal context lives in package auth.
package trace

import "github.com/google/uuid"

// Context is the immutable trace triple propagated with every call. A child
// span inherits TraceID and sets ParentSpanID to the parent's SpanID.
type Context struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// New starts a fresh trace: a new trace id and a new root span with no
// parent.
func New() Context {
	return Context{
		TraceID: newID(),
		SpanID:  newID(),
	}
}

// Child derives a new span within the same trace. The returned context
// shares TraceID with c and sets ParentSpanID to c.SpanID.
func (c Context) Child() Context {
	return Context{
		TraceID:      c.TraceID,
		SpanID:       newID(),
		ParentSpanID: c.SpanID,
	}
}

// Continue builds a span from an inbound trace id supplied by a caller. If
// traceID is empty a fresh trace is started instead, matching the dispatch
// rule that an absent trace id yields a brand-new one rather than an error.
func Continue(traceID string) Context {
	if traceID == "" {
		return New()
	}
	return Context{
		TraceID: traceID,
		SpanID:  newID(),
	}
}

func newID() string {
	return uuid.NewString()
}
