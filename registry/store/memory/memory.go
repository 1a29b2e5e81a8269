// Package memory provides an in-memory implementation of the registry store.
//
// This implementation is suitable for development, testing, and single-node
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
)

// Store is an in-memory implementation of the store.Store interface.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*manifest.Agent
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{agents: make(map[string]*manifest.Agent)}
}

// Save stores or replaces an agent manifest.
func (s *Store) Save(ctx context.Context, agent *manifest.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.AgentID] = &cp
	return nil
}

// Get retrieves an agent by id.
func (s *Store) Get(ctx context.Context, agentID string) (*manifest.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

// Delete removes an agent by id.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return store.ErrNotFound
	}
	delete(s.agents, agentID)
	return nil
}

// List returns every agent matching filter.
func (s *Store) List(ctx context.Context, filter manifest.ListFilter) ([]*manifest.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*manifest.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if matches(agent, filter) {
			cp := *agent
			result = append(result, &cp)
		}
	}
	return result, nil
}

// UpdateStatus sets status and last_seen in place.
func (s *Store) UpdateStatus(ctx context.Context, agentID string, status manifest.Status, lastSeen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return store.ErrNotFound
	}
	agent.Status = status
	ts := lastSeen
	agent.LastSeen = &ts
	return nil
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

// MatchesQuery reports whether query matches the agent's id, display name,
// description, or any tag (case-insensitive). Exported so callers can
// apply it on top of List results.
func MatchesQuery(agent *manifest.Agent, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(agent.AgentID), q) {
		return true
	}
	if strings.Contains(strings.ToLower(agent.DisplayName), q) {
		return true
	}
	if strings.Contains(strings.ToLower(agent.Description), q) {
		return true
	}
	for _, tag := range agent.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
