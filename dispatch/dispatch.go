// Package dispatch implements the dispatch core (C6): it routes the
// closed set of `fabric.*` operation names to the agent registry, the
// tool registry, and the messaging layer, applying authentication,
// envelope construction, and policy enforcement uniformly across every
// operation.
package dispatch

import (
	"context"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/messaging"
	"github.com/aethara/fabric-gateway/registry"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
	"github.com/aethara/fabric-gateway/tools"
	"github.com/aethara/fabric-gateway/trace"
)

// DefaultTimeoutMS bounds a call envelope when neither the request nor
// the target capability declares one.
const DefaultTimeoutMS = int64(30_000)

type (
	// Request is one inbound call, already split into its operation name
	// and argument bag by the HTTP surface (or any other embedder). The
	// trace and auth fields carry the caller's raw, unverified input;
	// Dispatch performs verification itself (step 2 of the algorithm).
	Request struct {
		Op       string
		Args     map[string]any
		TraceID  string
		AuthMode auth.Mode
		Token    string
	}

	// Response is the uniform synchronous result: exactly one of Result
	// or Error is set. It is also used as the non-streaming half of a
	// fabric.call whose target capability is not streaming.
	Response struct {
		OK     bool             `json:"ok"`
		Result map[string]any   `json:"result,omitempty"`
		Error  *fabricerr.Error `json:"error,omitempty"`
		Trace  trace.Context    `json:"trace"`
	}

	// PolicyFunc is an optional pre-call hook invoked after envelope
	// construction and before adapter invocation (step 6 of the
	// algorithm). Returning a non-nil error aborts the call; the error
	// should normally be a *fabricerr.Error (e.g. CodeRateLimited) so it
	// survives the trip back to the caller with a meaningful code.
	PolicyFunc func(ctx context.Context, envelope adapter.Envelope) error

	// Observer receives start/end notifications for every dispatched
	// call, satisfying step 10 of the algorithm ("record start and end
	// in C9"). It is an optional interface in the same spirit as the
	// registry store's HistoryRecorder/StatsProvider: the dispatch core
	// depends on nothing from the observability package, which instead
	// implements Observer and is wired in at construction.
	Observer interface {
		CallStarted(ctx context.Context, tr trace.Context, op string)
		CallFinished(ctx context.Context, tr trace.Context, op string, resp *Response, duration time.Duration)
	}

	// Dispatcher is the C6 dispatch core. It holds no state of its own
	// beyond its collaborators; every operation is resolved fresh against
	// the registry, tool registry, and messaging bus passed at
	// construction.
	Dispatcher struct {
		registry  *registry.Service
		tools     *tools.Registry
		bus       messaging.Bus
		authGate  *auth.Gate
		logger    telemetry.Logger
		policy    PolicyFunc
		observer  Observer
	}

	// Option configures a Dispatcher.
	Option func(*Dispatcher)
)

// WithAuthGate configures the C2 gate used to verify inbound credentials.
// Without one, every request is treated as already authenticated under
// auth.ModeNone — suitable for an embedder that authenticates upstream of
// the dispatch core itself.
func WithAuthGate(gate *auth.Gate) Option {
	return func(d *Dispatcher) { d.authGate = gate }
}

// WithLogger overrides the dispatcher's structured logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithPolicy installs the optional pre-call policy hook.
func WithPolicy(policy PolicyFunc) Option {
	return func(d *Dispatcher) { d.policy = policy }
}

// WithObserver installs the C9 observability sink.
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) { d.observer = observer }
}

// New constructs a Dispatcher over the given agent registry, tool
// registry, and messaging bus.
func New(reg *registry.Service, toolRegistry *tools.Registry, bus messaging.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		tools:    toolRegistry,
		bus:      bus,
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch runs the full algorithm from spec.md §4.4 steps 1-9 for every
// operation except a streaming fabric.call, which a caller must route to
// Stream instead (a Response has no channel to carry events on). It never
// returns a Go error: every failure is carried as Response.Error so an
// embedder has one uniform shape to serialize.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	start := time.Now()
	tr := trace.Continue(req.TraceID)
	if d.observer != nil {
		d.observer.CallStarted(ctx, tr, req.Op)
	}

	resp := d.dispatch(ctx, tr, req)

	if d.observer != nil {
		d.observer.CallFinished(ctx, tr, req.Op, resp, time.Since(start))
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, tr trace.Context, req Request) *Response {
	authCtx, err := d.authenticate(req)
	if err != nil {
		return errorResponse(tr, err)
	}

	switch req.Op {
	case opAgentList:
		return d.handleAgentList(ctx, tr, req)
	case opAgentDescribe:
		return d.handleAgentDescribe(ctx, tr, req)
	case opCall:
		return d.handleCall(ctx, tr, authCtx, req)
	case opRoutePreview:
		return d.handleRoutePreview(ctx, tr, req)
	case opHealth:
		return d.handleHealth(ctx, tr, req)
	case opToolList:
		return d.handleToolList(ctx, tr, req)
	case opToolDescribe:
		return d.handleToolDescribe(ctx, tr, req)
	case opToolCall:
		return d.handleToolCall(ctx, tr, req)
	case opMessageSend:
		return d.handleMessageSend(ctx, tr, authCtx, req)
	case opMessageReceive:
		return d.handleMessageReceive(ctx, tr, req)
	case opMessageAcknowledge:
		return d.handleMessageAcknowledge(ctx, tr, req)
	case opMessagePublish:
		return d.handleMessagePublish(ctx, tr, authCtx, req)
	case opMessageQueueStatus:
		return d.handleMessageQueueStatus(ctx, tr, req)
	default:
		if toolID, capability, ok := parseToolShortcut(req.Op); ok {
			return d.executeTool(ctx, tr, toolID, capability, toArgs(req.Args["args"]))
		}
		return errorResponse(tr, fabricerr.Newf(fabricerr.CodeBadInput, "unknown operation: %s", req.Op))
	}
}

func (d *Dispatcher) authenticate(req Request) (auth.Context, error) {
	if d.authGate == nil {
		return auth.Context{Mode: auth.ModeNone}, nil
	}
	switch req.AuthMode {
	case auth.ModePassport:
		return d.authGate.VerifyPassport(req.Token)
	case auth.ModeMutualTLS:
		return d.authGate.VerifyMutualTLS(req.Token)
	case auth.ModeNone:
		return auth.Context{Mode: auth.ModeNone}, nil
	default:
		return d.authGate.VerifyBearer(req.Token)
	}
}

func errorResponse(tr trace.Context, err error) *Response {
	fe := fabricerr.Wrap(err, fabricerr.CodeInternalError)
	return &Response{OK: false, Error: fe, Trace: tr}
}

func okResponse(tr trace.Context, result map[string]any) *Response {
	return &Response{OK: true, Result: result, Trace: tr}
}
