package adapters

import (
	"context"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/manifest"
)

// Stub is an in-process collaborator used by demos and the HTTP surface's
// reference wiring. It is not a wire adapter — no network call is made —
// and exists only so the gateway has something to dispatch to without a
// real agent running. It echoes the caller's task back as an answer.
type Stub struct {
	// Agent is the manifest Describe reports. Callers construct one with
	// the identity they registered under.
	Agent manifest.Agent
	// Status is the value Health reports; defaults to online.
	Status manifest.Status
}

var _ adapter.Adapter = (*Stub)(nil)

// NewStub constructs a Stub describing itself as agent, defaulting to an
// online health status.
func NewStub(agent manifest.Agent) *Stub {
	return &Stub{Agent: agent, Status: manifest.StatusOnline}
}

// Call returns {"answer": envelope.Input.Task} immediately.
func (s *Stub) Call(ctx context.Context, envelope adapter.Envelope) (*adapter.Result, error) {
	return &adapter.Result{Output: map[string]any{"answer": envelope.Input.Task}}, nil
}

// CallStream emits one chunk echoing the task, followed by a terminal
// event carrying the same result Call would return.
func (s *Stub) CallStream(ctx context.Context, envelope adapter.Envelope) (<-chan adapter.StreamEvent, error) {
	events := make(chan adapter.StreamEvent, 2)
	base := adapter.Base{TraceID: envelope.Trace.TraceID, Timestamp: time.Now()}

	chunk := base
	chunk.EventType = adapter.EventChunk
	events <- adapter.ChunkEvent{Base: chunk, Output: map[string]any{"answer": envelope.Input.Task}}

	terminal := base
	terminal.EventType = adapter.EventTerminal
	events <- adapter.TerminalEvent{
		Base:   terminal,
		Result: &adapter.Result{Output: map[string]any{"answer": envelope.Input.Task}},
	}
	close(events)
	return events, nil
}

// Health always reports s.Status, defaulting to online when unset.
func (s *Stub) Health(ctx context.Context) (manifest.Status, error) {
	if s.Status == "" {
		return manifest.StatusOnline, nil
	}
	return s.Status, nil
}

// Describe returns a copy of s.Agent.
func (s *Stub) Describe(ctx context.Context) (*manifest.Agent, error) {
	agent := s.Agent
	return &agent, nil
}
