// Package replicated provides a replicated-map backed implementation of the
// registry store.
//
// The store persists agent manifests in a Pulse replicated map (rmap), which
// is backed by Redis. This makes registrations durable across registry
// process restarts and visible to all nodes in a multi-node gateway
// cluster, without a separate database.
package replicated

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
)

type (
	// Map is the minimal replicated-map contract required by the replicated
	// store.
	//
	// Map is satisfied by `*rmap.Map` from `goa.design/pulse/rmap`. It is
	// defined here to:
	//   - keep the replicated store unit-testable without Redis, and
	//   - avoid coupling callers to a concrete Pulse implementation.
	//
	// Implementations must be safe for concurrent use.
	Map interface {
		Delete(ctx context.Context, key string) (string, error)
		Get(key string) (string, bool)
		Keys() []string
		Set(ctx context.Context, key, value string) (string, error)
	}

	// Store persists agent manifests in a replicated map. Safe for
	// concurrent use when backed by a concurrent-safe map (such as
	// rmap.Map).
	Store struct {
		m Map
	}
)

const agentKeyPrefix = "registry:agent:"

// New creates a new replicated store backed by the given map.
func New(m Map) *Store {
	return &Store{m: m}
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Save stores or replaces an agent manifest.
func (s *Store) Save(ctx context.Context, agent *manifest.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent %q: %w", agent.AgentID, err)
	}
	if _, err := s.m.Set(ctx, agentKey(agent.AgentID), string(b)); err != nil {
		return fmt.Errorf("store agent %q: %w", agent.AgentID, err)
	}
	return nil
}

// Get retrieves an agent by id.
func (s *Store) Get(ctx context.Context, agentID string) (*manifest.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok := s.m.Get(agentKey(agentID))
	if !ok {
		return nil, store.ErrNotFound
	}
	var agent manifest.Agent
	if err := json.Unmarshal([]byte(val), &agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent %q: %w", agentID, err)
	}
	return &agent, nil
}

// Delete removes an agent by id.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := agentKey(agentID)
	if _, ok := s.m.Get(key); !ok {
		return store.ErrNotFound
	}
	if _, err := s.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete agent %q: %w", agentID, err)
	}
	return nil
}

// List returns every agent matching filter.
func (s *Store) List(ctx context.Context, filter manifest.ListFilter) ([]*manifest.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := s.m.Keys()
	out := make([]*manifest.Agent, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, agentKeyPrefix) {
			continue
		}
		agentID := strings.TrimPrefix(k, agentKeyPrefix)
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if matches(agent, filter) {
			out = append(out, agent)
		}
	}
	return out, nil
}

// UpdateStatus sets status and last_seen in place.
func (s *Store) UpdateStatus(ctx context.Context, agentID string, status manifest.Status, lastSeen time.Time) error {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	agent.Status = status
	ts := lastSeen
	agent.LastSeen = &ts
	return s.Save(ctx, agent)
}

// Search matches query against agent id, display name, description, and
// tags (case-insensitive).
func (s *Store) Search(ctx context.Context, query string) ([]*manifest.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)
	keys := s.m.Keys()
	out := make([]*manifest.Agent, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, agentKeyPrefix) {
			continue
		}
		agentID := strings.TrimPrefix(k, agentKeyPrefix)
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, err
		}
		if matchesQuery(agent, lowerQuery) {
			out = append(out, agent)
		}
	}
	return out, nil
}

func agentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

func matches(agent *manifest.Agent, filter manifest.ListFilter) bool {
	if filter.Capability != "" && !agent.HasCapability(filter.Capability) {
		return false
	}
	if filter.Tag != "" && !agent.HasTag(filter.Tag) {
		return false
	}
	if filter.Status != "" && agent.Status != filter.Status {
		return false
	}
	return true
}

func matchesQuery(agent *manifest.Agent, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(agent.AgentID), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(agent.DisplayName), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(agent.Description), lowerQuery) {
		return true
	}
	for _, tag := range agent.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	return false
}
