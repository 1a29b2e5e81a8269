// Package adapter defines the uniform contract every runtime adapter
// implements, and the wire types (call envelope, result, streaming event)
// that cross the boundary between the dispatch core and a concrete agent
// wire protocol.
//
// An Adapter is polymorphic over one capability set: call, call_stream,
// health, describe. Distinct wire kinds (the gateway's own protocol,
// alternative A2A transports, a test stub) each get their own Adapter
// implementation; the dispatch core and agent registry depend only on
// this interface.
package adapter

import (
	"context"
	"time"

	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/trace"
)

type (
	// Target identifies what a call envelope is addressed to: a built-in
	// tool, an agent capability, or a framework operation.
	Target struct {
		Kind       string `json:"kind"`
		ID         string `json:"id"`
		Capability string `json:"capability"`
		TimeoutMS  int64  `json:"timeout_ms"`
	}

	// Input carries the caller-supplied task description.
	Input struct {
		Task        string         `json:"task"`
		Context     map[string]any `json:"context,omitempty"`
		Attachments []string       `json:"attachments,omitempty"`
	}

	// ResponseSpec declares how the caller wants the response delivered.
	ResponseSpec struct {
		Stream bool   `json:"stream,omitempty"`
		Format string `json:"format,omitempty"`
	}

	// Envelope is the call envelope constructed by the dispatch core and
	// consumed by exactly one adapter invocation. It is immutable after
	// construction.
	Envelope struct {
		Trace    trace.Context `json:"trace"`
		Auth     auth.Context  `json:"auth"`
		Target   Target        `json:"target"`
		Input    Input         `json:"input"`
		Response ResponseSpec  `json:"response"`
	}

	// Result is the synchronous outcome of a Call.
	Result struct {
		Output map[string]any `json:"output"`
	}

	// EventType discriminates concrete StreamEvent payloads.
	EventType string
)

const (
	// EventChunk carries a partial unit of output.
	EventChunk EventType = "chunk"
	// EventToolCall signals the adapter invoked a nested tool on the
	// caller's behalf.
	EventToolCall EventType = "tool_call"
	// EventTerminal is emitted exactly once, last, ending the sequence.
	EventTerminal EventType = "terminal"
	// EventError is a terminal event carrying a failure instead of a result.
	EventError EventType = "error"
)

type (
	// StreamEvent is one item in the finite, non-restartable sequence an
	// adapter's CallStream produces. All concrete event types embed Base.
	StreamEvent interface {
		Type() EventType
	}

	// Base supplies the metadata common to every StreamEvent.
	Base struct {
		EventType EventType `json:"type"`
		TraceID   string    `json:"trace_id"`
		Timestamp time.Time `json:"timestamp"`
	}
)

// Type implements StreamEvent.
func (b Base) Type() EventType { return b.EventType }

// ChunkEvent carries one partial unit of streamed output.
type ChunkEvent struct {
	Base
	Output map[string]any `json:"output"`
}

// ToolCallEvent reports a nested tool invocation performed while servicing
// a streaming call.
type ToolCallEvent struct {
	Base
	ToolID string         `json:"tool_id"`
	Args   map[string]any `json:"args,omitempty"`
}

// TerminalEvent ends a stream's event sequence with its final result.
type TerminalEvent struct {
	Base
	Result *Result `json:"result,omitempty"`
}

// ErrorEvent ends a stream's event sequence with a terminal failure.
type ErrorEvent struct {
	Base
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Adapter is implemented once per agent wire kind. Selection among
// implementations happens by runtime_kind at registration time; the
// dispatch core is unchanged by adding a new one.
type Adapter interface {
	// Call performs a synchronous invocation. Implementations must honor
	// envelope.Target.TimeoutMS, returning a TIMEOUT-classified error if
	// exceeded.
	Call(ctx context.Context, envelope Envelope) (*Result, error)

	// CallStream performs a streaming invocation. The returned channel is
	// finite and not restartable; the adapter emits exactly one terminal
	// event (TerminalEvent or ErrorEvent) and then closes the channel.
	CallStream(ctx context.Context, envelope Envelope) (<-chan StreamEvent, error)

	// Health reports the adapter's current liveness, without consulting
	// any cached sighting — callers that want the staleness-aware view
	// go through the agent registry's health tracker instead.
	Health(ctx context.Context) (manifest.Status, error)

	// Describe returns the adapter's self-reported manifest, used to
	// detect drift between what was registered and what the agent now
	// advertises.
	Describe(ctx context.Context) (*manifest.Agent, error)
}
