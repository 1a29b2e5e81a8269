package dispatch

import (
	"context"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/trace"
)

func (d *Dispatcher) handleAgentList(ctx context.Context, tr trace.Context, req Request) *Response {
	filter := manifest.ListFilter{}
	if capability, ok := stringArg(req.Args, "capability"); ok {
		filter.Capability = capability
	}
	if tag, ok := stringArg(req.Args, "tag"); ok {
		filter.Tag = tag
	}
	if status, ok := stringArg(req.Args, "status"); ok {
		filter.Status = manifest.Status(status)
	}

	agents, err := d.registry.List(ctx, filter)
	if err != nil {
		return errorResponse(tr, err)
	}
	return okResponse(tr, map[string]any{"agents": agents})
}

func (d *Dispatcher) handleAgentDescribe(ctx context.Context, tr trace.Context, req Request) *Response {
	agentID, ok := stringArg(req.Args, "agent_id")
	if !ok || agentID == "" {
		return errorResponse(tr, badInput("agent_id is required"))
	}
	agent, err := d.registry.Get(ctx, agentID)
	if err != nil {
		return errorResponse(tr, err)
	}
	return okResponse(tr, map[string]any{"agent": agent})
}

// callSnapshotProvider is an optional interface an Observer may also
// implement to contribute call-volume data to fabric.health, in the same
// optional-interface spirit as store.StatsProvider.
type callSnapshotProvider interface {
	CallSnapshot() map[string]any
}

// handleHealth implements fabric.health: the aggregate population
// snapshot. When the backing store supports store.StatsProvider, its
// pre-computed tallies are used; otherwise the snapshot is derived by
// listing every agent. When the configured Observer also exposes a
// CallSnapshot, its call-volume/latency/error tallies are merged in under
// "calls".
func (d *Dispatcher) handleHealth(ctx context.Context, tr trace.Context, req Request) *Response {
	result, err := d.agentHealthSnapshot(ctx)
	if err != nil {
		return errorResponse(tr, err)
	}
	if snap, ok := d.observer.(callSnapshotProvider); ok {
		result["calls"] = snap.CallSnapshot()
	}
	return okResponse(tr, result)
}

func (d *Dispatcher) agentHealthSnapshot(ctx context.Context) (map[string]any, error) {
	if stats, ok, err := d.registry.Stats(ctx); err != nil {
		return nil, err
	} else if ok {
		return map[string]any{
			"agents_total":  stats.TotalAgents,
			"by_status":     stats.ByStatus,
			"by_trust_tier": stats.ByTrustTier,
		}, nil
	}

	agents, err := d.registry.List(ctx, manifest.ListFilter{})
	if err != nil {
		return nil, err
	}
	byStatus := make(map[manifest.Status]int)
	byTrustTier := make(map[manifest.TrustTier]int)
	for _, a := range agents {
		byStatus[a.Status]++
		byTrustTier[a.TrustTier]++
	}
	return map[string]any{
		"agents_total":  len(agents),
		"by_status":     byStatus,
		"by_trust_tier": byTrustTier,
	}, nil
}
