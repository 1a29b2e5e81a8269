// Package store defines the persistence layer for the agent registry.
//
// Store abstracts agent manifest storage so the registry service can run
// against different backends. Available implementations:
//
//   - memory: in-memory store for development and testing
//   - mongo: MongoDB store for production persistence
//   - replicated: Redis-backed replicated map, for multi-node deployments
//     that share registry state without a separate database
//
// To add a new implementation, create a subpackage that implements Store
// and returns store.ErrNotFound for missing agents.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aethara/fabric-gateway/manifest"
)

// ErrNotFound is returned when an agent is not found in the store.
var ErrNotFound = errors.New("agent not found")

// Store persists agent manifests. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save stores or replaces an agent manifest wholesale, matching the
	// registry's re-registration-replaces-atomically invariant.
	Save(ctx context.Context, agent *manifest.Agent) error

	// Get retrieves an agent by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, agentID string) (*manifest.Agent, error)

	// Delete removes an agent by id. Returns ErrNotFound if absent.
	Delete(ctx context.Context, agentID string) error

	// List returns every agent matching filter (AND semantics across
	// non-empty fields).
	List(ctx context.Context, filter manifest.ListFilter) ([]*manifest.Agent, error)

	// UpdateStatus sets status and last_seen in place without touching the
	// rest of the manifest. Returns ErrNotFound if the agent is absent.
	UpdateStatus(ctx context.Context, agentID string, status manifest.Status, lastSeen time.Time) error
}

// HealthCheck is one entry in an agent's bounded health-check history.
type HealthCheck struct {
	Status     manifest.Status `bson:"status" json:"status"`
	LatencyMS  *int64          `bson:"latency_ms,omitempty" json:"latency_ms,omitempty"`
	ObservedAt time.Time       `bson:"observed_at" json:"observed_at"`
}

// HistoryRecorder is implemented by durable store profiles that keep a
// time-bounded health-check history per agent, beyond the single
// latest-status field every Store tracks. The memory and replicated
// profiles do not implement it; callers should type-assert
// and treat its absence as a no-op, not an error.
type HistoryRecorder interface {
	// RecordHealthCheck appends a health-check observation to the agent's
	// bounded history ring. Returns ErrNotFound if the agent is absent.
	RecordHealthCheck(ctx context.Context, agentID string, check HealthCheck) error
}

// Stats summarizes the registry's current population.
type Stats struct {
	TotalAgents int                     `json:"total_agents"`
	ByStatus    map[manifest.Status]int `json:"by_status"`
	ByTrustTier map[manifest.TrustTier]int `json:"by_trust_tier"`
}

// StatsProvider is implemented by durable store profiles that can answer
// aggregate population queries.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}
