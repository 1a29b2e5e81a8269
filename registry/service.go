// Package registry provides the agent registry service implementation:
// registration, lookup, and health tracking for every remote agent the
// gateway can dispatch to.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
	"github.com/aethara/fabric-gateway/registry/store/memory"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
)

type (
	// Service implements the agent registry: register/unregister/get/
	// list/find_by_capability/update_status, per spec.md §4.2. Writes
	// are serialized through a mutex so no reader ever observes a
	// half-updated capability list (spec.md §3 invariant ii).
	Service struct {
		mu       sync.RWMutex
		store    store.Store
		adapters map[string]adapter.Adapter
		logger   telemetry.Logger
	}

	// ServiceOptions configures the agent registry service.
	ServiceOptions struct {
		// Store is the persistence layer for agent manifests. Defaults
		// to an in-memory store if not provided.
		Store store.Store
		// Logger receives registration and status-change events. When
		// nil, a no-op logger is used.
		Logger telemetry.Logger
	}
)

// NewService creates a new agent registry service.
func NewService(opts ServiceOptions) *Service {
	st := opts.Store
	if st == nil {
		st = memory.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{
		store:    st,
		adapters: make(map[string]adapter.Adapter),
		logger:   logger,
	}
}

// Register performs an atomic upsert: if agent.AgentID already existed,
// its capability set, endpoint, tags, and trust tier are replaced
// wholesale; last_seen is refreshed and status is set to online,
// matching spec.md §4.2's register operation exactly. The supplied
// adapter becomes the one used for this agent's calls and health
// probes, replacing any previous adapter for the same id.
func (s *Service) Register(ctx context.Context, manifestAgent *manifest.Agent, ad adapter.Adapter) (*manifest.Agent, error) {
	if manifestAgent == nil {
		return nil, fabricerr.New(fabricerr.CodeBadInput, "agent manifest is required")
	}
	if manifestAgent.AgentID == "" {
		return nil, fabricerr.New(fabricerr.CodeBadInput, "agent_id is required")
	}
	if ad == nil {
		return nil, fabricerr.New(fabricerr.CodeBadInput, "adapter is required")
	}

	now := time.Now().UTC()
	registered := *manifestAgent
	registered.Status = manifest.StatusOnline
	registered.LastSeen = &now

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(ctx, &registered); err != nil {
		return nil, fmt.Errorf("save agent %q: %w", registered.AgentID, err)
	}
	s.adapters[registered.AgentID] = ad

	s.logger.Info(ctx, "agent registered", "component", "registry", "agent_id", registered.AgentID, "runtime_kind", registered.RuntimeKind)

	out := registered
	return &out, nil
}

// Unregister removes an agent and its adapter. It reports whether the
// agent existed; a missing agent is not an error, matching spec.md
// §4.2's `unregister(agent_id) → bool`.
func (s *Service) Unregister(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete agent %q: %w", agentID, err)
	}
	delete(s.adapters, agentID)
	s.logger.Info(ctx, "agent unregistered", "component", "registry", "agent_id", agentID)
	return true, nil
}

// Get retrieves an agent's manifest by id. Returns a *fabricerr.Error
// with CodeAgentNotFound when absent.
func (s *Service) Get(ctx context.Context, agentID string) (*manifest.Agent, error) {
	agent, err := s.store.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fabricerr.Newf(fabricerr.CodeAgentNotFound, "agent %q not found", agentID)
		}
		return nil, fmt.Errorf("get agent %q: %w", agentID, err)
	}
	return agent, nil
}

// List returns every agent matching filter, AND semantics across
// non-empty fields.
func (s *Service) List(ctx context.Context, filter manifest.ListFilter) ([]*manifest.Agent, error) {
	agents, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// FindByCapability returns every agent advertising the named capability.
func (s *Service) FindByCapability(ctx context.Context, name string) ([]*manifest.Agent, error) {
	return s.List(ctx, manifest.ListFilter{Capability: name})
}

// UpdateStatus writes a health-check record and updates the manifest's
// status and last_seen, per spec.md §4.2. latencyMS is optional; when
// the backing store implements store.HistoryRecorder (the durable
// profile), the observation is also appended to the agent's bounded
// health-check history. Its absence on other profiles is not an error.
func (s *Service) UpdateStatus(ctx context.Context, agentID string, status manifest.Status, latencyMS *int64) error {
	now := time.Now().UTC()
	if err := s.store.UpdateStatus(ctx, agentID, status, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fabricerr.Newf(fabricerr.CodeAgentNotFound, "agent %q not found", agentID)
		}
		return fmt.Errorf("update status for agent %q: %w", agentID, err)
	}

	if recorder, ok := s.store.(store.HistoryRecorder); ok {
		check := store.HealthCheck{Status: status, LatencyMS: latencyMS, ObservedAt: now}
		if err := recorder.RecordHealthCheck(ctx, agentID, check); err != nil {
			s.logger.Warn(ctx, "record health check failed", "component", "registry", "agent_id", agentID, "err", err)
		}
	}
	return nil
}

// Adapter returns the adapter registered for agentID, if any. Used by
// the dispatch core to route a call envelope to the right wire
// implementation.
func (s *Service) Adapter(agentID string) (adapter.Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ad, ok := s.adapters[agentID]
	return ad, ok
}

// HealthChecker adapts Adapter for use as a HealthTracker's
// AdapterLookup: the health tracker only ever needs the Health method.
func (s *Service) HealthChecker(agentID string) (AgentHealthChecker, bool) {
	return s.Adapter(agentID)
}

// Stats returns aggregate population statistics when the backing store
// supports it (the durable profile); ok is false otherwise.
func (s *Service) Stats(ctx context.Context) (store.Stats, bool, error) {
	provider, ok := s.store.(store.StatsProvider)
	if !ok {
		return store.Stats{}, false, nil
	}
	stats, err := provider.Stats(ctx)
	if err != nil {
		return store.Stats{}, true, fmt.Errorf("registry stats: %w", err)
	}
	return stats, true, nil
}
