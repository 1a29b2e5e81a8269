package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/trace"
)

// resolution is the outcome of resolving a capability dispatch target:
// the agent to call, the matching capability descriptor, and the
// remaining candidates in fallback order.
type resolution struct {
	Agent      *manifest.Agent
	Capability *manifest.Capability
	Fallbacks  []string
}

// resolve implements spec.md §4.4 step 5: look up the dispatch target by
// capability, honoring an explicit agent_id override, and rank the
// remaining candidates per the route-preview ordering (tag match, then
// trust tier local<org<public, then lexicographic id).
func (d *Dispatcher) resolve(ctx context.Context, args map[string]any) (*resolution, error) {
	capName, ok := stringArg(args, "capability")
	if !ok || capName == "" {
		return nil, fabricerr.New(fabricerr.CodeBadInput, "capability is required")
	}

	var pinned *manifest.Agent
	if agentID, ok := stringArg(args, "agent_id"); ok && agentID != "" {
		agent, err := d.registry.Get(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if !agent.HasCapability(capName) {
			return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "agent %q does not advertise capability %q", agentID, capName)
		}
		pinned = agent
	}

	candidates, err := d.registry.FindByCapability(ctx, capName)
	if err != nil {
		return nil, fmt.Errorf("resolve capability %q: %w", capName, err)
	}
	if len(candidates) == 0 && pinned == nil {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "no agent advertises capability %q", capName)
	}

	ranked := rankCandidates(candidates, stringSliceArg(args, "tags"))

	primary := pinned
	if primary == nil {
		primary = ranked[0]
	}

	fallbacks := make([]string, 0, len(ranked))
	for _, a := range ranked {
		if a.AgentID == primary.AgentID {
			continue
		}
		fallbacks = append(fallbacks, a.AgentID)
	}

	return &resolution{Agent: primary, Capability: primary.Capability(capName), Fallbacks: fallbacks}, nil
}

// rankCandidates orders agents by the route-preview rule: agents with at
// least one tag in preferredTags first, then ascending TrustTier.Rank(), then
// lexicographically by id. The input slice is not mutated.
func rankCandidates(agents []*manifest.Agent, preferredTags []string) []*manifest.Agent {
	ranked := make([]*manifest.Agent, len(agents))
	copy(ranked, agents)

	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := hasAnyTag(ranked[i], preferredTags), hasAnyTag(ranked[j], preferredTags)
		if mi != mj {
			return mi
		}
		ri, rj := ranked[i].TrustTier.Rank(), ranked[j].TrustTier.Rank()
		if ri != rj {
			return ri < rj
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})
	return ranked
}

func hasAnyTag(agent *manifest.Agent, tags []string) bool {
	for _, t := range tags {
		if agent.HasTag(t) {
			return true
		}
	}
	return false
}

// resolveTimeout picks the envelope timeout: an explicit timeout_ms
// argument wins, then the capability's own max_timeout_ms, then the
// package default. An explicit timeout_ms of 0 (or below) is not treated
// as "not provided" — it is returned as-is, so callers can honor the
// fixed boundary behavior that a zero timeout always yields TIMEOUT.
func resolveTimeout(args map[string]any, capability *manifest.Capability) int64 {
	if ms, ok := int64Arg(args, "timeout_ms"); ok {
		if ms <= 0 {
			return 0
		}
		return ms
	}
	if capability != nil && capability.MaxTimeoutMS > 0 {
		return capability.MaxTimeoutMS
	}
	return DefaultTimeoutMS
}

func (d *Dispatcher) buildEnvelope(tr trace.Context, authCtx auth.Context, args map[string]any, res *resolution) (adapter.Envelope, error) {
	task, ok := stringArg(args, "task")
	if !ok || task == "" {
		return adapter.Envelope{}, fabricerr.New(fabricerr.CodeBadInput, "task is required")
	}
	if res.Agent.Status == manifest.StatusOffline {
		return adapter.Envelope{}, fabricerr.Newf(fabricerr.CodeAgentOffline, "agent %q is offline", res.Agent.AgentID)
	}

	format, _ := stringArg(args, "format")
	return adapter.Envelope{
		Trace: tr,
		Auth:  authCtx,
		Target: adapter.Target{
			Kind:       "agent",
			ID:         res.Agent.AgentID,
			Capability: stringArgOrEmpty(args, "capability"),
			TimeoutMS:  resolveTimeout(args, res.Capability),
		},
		Input: adapter.Input{
			Task:        task,
			Context:     mapArg(args, "context"),
			Attachments: stringSliceArg(args, "attachments"),
		},
		Response: adapter.ResponseSpec{Format: format},
	}, nil
}

func stringArgOrEmpty(args map[string]any, key string) string {
	s, _ := stringArg(args, key)
	return s
}

// handleCall implements the synchronous half of fabric.call. A request
// with args.stream == true is rejected: the streaming path is only
// reachable through Stream, which an embedder's HTTP surface selects
// before ever calling Dispatch.
func (d *Dispatcher) handleCall(ctx context.Context, tr trace.Context, authCtx auth.Context, req Request) *Response {
	if boolArg(req.Args, "stream") {
		return errorResponse(tr, fabricerr.New(fabricerr.CodeBadInput, "fabric.call: streaming requests must use the streaming entry point"))
	}

	res, err := d.resolve(ctx, req.Args)
	if err != nil {
		return errorResponse(tr, err)
	}
	envelope, err := d.buildEnvelope(tr, authCtx, req.Args, res)
	if err != nil {
		return errorResponse(tr, err)
	}
	if d.policy != nil {
		if err := d.policy(ctx, envelope); err != nil {
			return errorResponse(tr, err)
		}
	}

	if envelope.Target.TimeoutMS <= 0 {
		return errorResponse(tr, fabricerr.New(fabricerr.CodeTimeout, "timeout_ms=0 always yields TIMEOUT"))
	}

	ad, ok := d.registry.Adapter(res.Agent.AgentID)
	if !ok {
		return errorResponse(tr, fabricerr.Newf(fabricerr.CodeInternalError, "agent %q has no registered adapter", res.Agent.AgentID))
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(envelope.Target.TimeoutMS)*time.Millisecond)
	defer cancel()

	result, err := ad.Call(callCtx, envelope)
	if err != nil {
		if callCtx.Err() != nil && !isFabricErr(err) {
			return errorResponse(tr, fabricerr.New(fabricerr.CodeTimeout, "call exceeded target timeout"))
		}
		return errorResponse(tr, err)
	}
	return okResponse(tr, map[string]any{"agent_id": res.Agent.AgentID, "output": result.Output})
}

func isFabricErr(err error) bool {
	_, ok := fabricerr.As(err)
	return ok
}

// handleRoutePreview implements fabric.route.preview: it resolves the
// same way fabric.call would but performs no invocation.
func (d *Dispatcher) handleRoutePreview(ctx context.Context, tr trace.Context, req Request) *Response {
	res, err := d.resolve(ctx, req.Args)
	if err != nil {
		return errorResponse(tr, err)
	}
	return okResponse(tr, map[string]any{
		"agent_id":  res.Agent.AgentID,
		"fallbacks": res.Fallbacks,
	})
}

// Stream implements the streaming half of fabric.call, handing the
// resolved adapter's event channel to the caller (normally the C7
// streaming channel or an HTTP SSE handler). It runs the same
// resolution, policy, and offline checks as the synchronous path.
func (d *Dispatcher) Stream(ctx context.Context, req Request) (<-chan adapter.StreamEvent, trace.Context, error) {
	start := time.Now()
	tr := trace.Continue(req.TraceID)
	if d.observer != nil {
		d.observer.CallStarted(ctx, tr, req.Op)
	}

	events, tr, err := d.stream(ctx, tr, req)
	if err != nil && d.observer != nil {
		d.observer.CallFinished(ctx, tr, req.Op, errorResponse(tr, err), time.Since(start))
	}
	if err != nil {
		return nil, tr, err
	}
	if d.observer == nil {
		return events, tr, nil
	}

	final := make(chan adapter.StreamEvent)
	go func() {
		defer close(final)
		for ev := range events {
			final <- ev
		}
		d.observer.CallFinished(ctx, tr, req.Op, okResponse(tr, nil), time.Since(start))
	}()
	return final, tr, nil
}

func (d *Dispatcher) stream(ctx context.Context, tr trace.Context, req Request) (<-chan adapter.StreamEvent, trace.Context, error) {
	authCtx, err := d.authenticate(req)
	if err != nil {
		return nil, tr, err
	}

	res, err := d.resolve(ctx, req.Args)
	if err != nil {
		return nil, tr, err
	}
	if res.Capability != nil && !res.Capability.Streaming {
		return nil, tr, fabricerr.Newf(fabricerr.CodeBadInput, "capability %q does not support streaming", res.Capability.Name)
	}

	envelope, err := d.buildEnvelope(tr, authCtx, req.Args, res)
	if err != nil {
		return nil, tr, err
	}
	envelope.Response.Stream = true
	if d.policy != nil {
		if err := d.policy(ctx, envelope); err != nil {
			return nil, tr, err
		}
	}

	if envelope.Target.TimeoutMS <= 0 {
		return nil, tr, fabricerr.New(fabricerr.CodeTimeout, "timeout_ms=0 always yields TIMEOUT")
	}

	ad, ok := d.registry.Adapter(res.Agent.AgentID)
	if !ok {
		return nil, tr, fabricerr.Newf(fabricerr.CodeInternalError, "agent %q has no registered adapter", res.Agent.AgentID)
	}

	streamCtx, cancel := context.WithTimeout(ctx, time.Duration(envelope.Target.TimeoutMS)*time.Millisecond)

	events, err := ad.CallStream(streamCtx, envelope)
	if err != nil {
		cancel()
		return nil, tr, err
	}

	// The adapter's channel is finite and closes itself; wrap it only to
	// guarantee cancel() runs once the last event has been drained,
	// releasing the timeout's timer promptly instead of waiting for GC.
	wrapped := make(chan adapter.StreamEvent)
	go func() {
		defer cancel()
		defer close(wrapped)
		for ev := range events {
			select {
			case wrapped <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return wrapped, tr, nil
}
