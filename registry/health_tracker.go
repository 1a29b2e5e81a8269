// Package registry provides the agent registry service implementation.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
)

type (
	// AgentHealthChecker is the subset of a runtime adapter the health
	// tracker depends on: a context-bound liveness probe. Concrete
	// adapters (httpA2A, native, stub) satisfy this directly via their
	// Health method.
	AgentHealthChecker interface {
		Health(ctx context.Context) (manifest.Status, error)
	}

	// AdapterLookup resolves the health checker registered for an agent
	// at sweep time, so the tracker never holds a stale adapter
	// reference across re-registrations.
	AdapterLookup func(agentID string) (AgentHealthChecker, bool)

	// HealthTracker runs a periodic sweep that keeps each agent's
	// recorded status fresh, per spec.md §4.2: if the most recent
	// successful sighting for an agent is older than the staleness
	// threshold, the agent is declared offline without invoking the
	// adapter; otherwise the adapter is probed and the result becomes
	// the new sighting.
	//
	// Sighting timestamps are kept in a Pulse replicated map so every
	// node in a gateway cluster observes the same staleness clock, and
	// the sweep itself runs on a distributed ticker so only one node
	// performs it at a time, with automatic failover if that node
	// disappears.
	HealthTracker struct {
		store              store.Store
		adapters           AdapterLookup
		sightingMap        *rmap.Map
		poolNode           *pool.Node
		sweepInterval      time.Duration
		stalenessThreshold time.Duration
		logger             telemetry.Logger

		mu     sync.Mutex
		ticker *pool.Ticker
		cancel context.CancelFunc

		lastWriteMu sync.Mutex
		lastWriteAt map[string]time.Time

		closeOnce sync.Once
	}

	// HealthTrackerOption configures optional health tracker settings.
	HealthTrackerOption func(*healthTrackerOptions)

	healthTrackerOptions struct {
		sweepInterval      time.Duration
		stalenessThreshold time.Duration
		logger             telemetry.Logger
	}
)

const (
	// DefaultSweepInterval is the default interval between health sweeps.
	DefaultSweepInterval = 30 * time.Second
	// DefaultStalenessThreshold is the default age past which an agent's
	// last sighting is considered too old to trust, per spec.md §4.2.
	DefaultStalenessThreshold = 5 * time.Minute

	sightingKeyPrefix = "registry:sighting:"
	sweepTickerName   = "registry:health-sweep"
)

// WithSweepInterval sets the interval between health sweeps.
func WithSweepInterval(d time.Duration) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.sweepInterval = d }
}

// WithStalenessThreshold sets the age past which a last sighting is
// considered stale.
func WithStalenessThreshold(d time.Duration) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.stalenessThreshold = d }
}

// WithHealthLogger sets the logger used by the health tracker.
func WithHealthLogger(l telemetry.Logger) HealthTrackerOption {
	return func(o *healthTrackerOptions) { o.logger = l }
}

// NewHealthTracker creates a HealthTracker. sightingMap is the Pulse
// replicated map used to share last-sighting timestamps across nodes;
// node is the Pulse pool node used to create the distributed sweep
// ticker.
func NewHealthTracker(st store.Store, adapters AdapterLookup, sightingMap *rmap.Map, node *pool.Node, opts ...HealthTrackerOption) (*HealthTracker, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("adapter lookup is required")
	}
	if sightingMap == nil {
		return nil, fmt.Errorf("sighting map is required for distributed health tracking")
	}
	if node == nil {
		return nil, fmt.Errorf("pool node is required for the distributed sweep ticker")
	}

	options := &healthTrackerOptions{
		sweepInterval:      DefaultSweepInterval,
		stalenessThreshold: DefaultStalenessThreshold,
		logger:             telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &HealthTracker{
		store:              st,
		adapters:           adapters,
		sightingMap:        sightingMap,
		poolNode:           node,
		sweepInterval:      options.sweepInterval,
		stalenessThreshold: options.stalenessThreshold,
		logger:             options.logger,
		lastWriteAt:        make(map[string]time.Time),
	}, nil
}

// RecordSighting records a successful sighting for an agent outside the
// sweep, e.g. after a successful call dispatch, so the staleness clock
// resets without waiting for the next sweep tick.
func (h *HealthTracker) RecordSighting(ctx context.Context, agentID string) error {
	_, err := h.sightingMap.Set(ctx, sightingKey(agentID), strconv.FormatInt(time.Now().UnixNano(), 10))
	if err != nil {
		return fmt.Errorf("record sighting for %q: %w", agentID, err)
	}
	return nil
}

// LastSighting returns the last recorded sighting time for an agent.
func (h *HealthTracker) LastSighting(agentID string) (time.Time, bool) {
	val, ok := h.sightingMap.Get(sightingKey(agentID))
	if !ok {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ts), true
}

// Start begins the distributed sweep loop. Only one node in the pool
// receives ticks at a time; the others stand by for failover.
func (h *HealthTracker) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	ticker, err := h.poolNode.NewTicker(loopCtx, sweepTickerName, h.sweepInterval)
	if err != nil {
		cancel()
		return fmt.Errorf("create distributed sweep ticker: %w", err)
	}
	h.ticker = ticker
	h.cancel = cancel
	go h.runSweepLoop(loopCtx, ticker)
	return nil
}

// Stop halts the sweep loop on this node without deleting the shared
// ticker entry, so other nodes in the cluster keep sweeping.
func (h *HealthTracker) Stop() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.cancel != nil {
			h.cancel()
		}
		if h.ticker != nil {
			h.ticker.Close()
		}
	})
}

func (h *HealthTracker) runSweepLoop(ctx context.Context, ticker *pool.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep runs one health sweep immediately, independent of the ticker.
// Exposed for tests and for an operator-triggered forced sweep.
func (h *HealthTracker) Sweep(ctx context.Context) {
	agents, err := h.store.List(ctx, manifest.ListFilter{})
	if err != nil {
		h.logger.Error(ctx, "health sweep: list agents failed", "component", "registry-health", "err", err)
		return
	}
	for _, agent := range agents {
		h.sweepAgent(ctx, agent)
	}
}

func (h *HealthTracker) sweepAgent(ctx context.Context, agent *manifest.Agent) {
	if last, ok := h.LastSighting(agent.AgentID); ok && time.Since(last) > h.stalenessThreshold {
		h.applyStatus(ctx, agent.AgentID, manifest.StatusOffline, last)
		return
	}

	checker, ok := h.adapters(agent.AgentID)
	if !ok {
		return
	}

	status, err := checker.Health(ctx)
	now := time.Now()
	if err != nil {
		h.logger.Warn(ctx, "health probe failed", "component", "registry-health", "agent_id", agent.AgentID, "err", err)
		h.applyStatus(ctx, agent.AgentID, manifest.StatusDegraded, now)
		return
	}

	if err := h.RecordSighting(ctx, agent.AgentID); err != nil {
		h.logger.Error(ctx, "record sighting failed", "component", "registry-health", "agent_id", agent.AgentID, "err", err)
	}
	h.applyStatus(ctx, agent.AgentID, status, now)
}

// applyStatus writes status to the store, skipping the write if a newer
// observation for this agent has already landed — sweep observations
// must be monotone per agent (spec.md §4.5 ordering guarantee iii).
func (h *HealthTracker) applyStatus(ctx context.Context, agentID string, status manifest.Status, observedAt time.Time) {
	h.lastWriteMu.Lock()
	if prev, ok := h.lastWriteAt[agentID]; ok && !observedAt.After(prev) {
		h.lastWriteMu.Unlock()
		return
	}
	h.lastWriteAt[agentID] = observedAt
	h.lastWriteMu.Unlock()

	if err := h.store.UpdateStatus(ctx, agentID, status, observedAt); err != nil {
		h.logger.Error(ctx, "update status failed", "component", "registry-health", "agent_id", agentID, "err", err)
	}
}

func sightingKey(agentID string) string {
	return sightingKeyPrefix + agentID
}
