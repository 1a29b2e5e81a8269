// Package registry provides the agent registry: agent manifest
// persistence, lookup, and the periodic health sweep that keeps agent
// status current (C4 of the gateway's component design).
//
// # Multi-Node Clustering
//
// Multiple gateway nodes can share one logical registry by using the
// same Name in their Config and connecting to the same Redis instance.
// Nodes with the same name automatically coordinate the distributed
// health sweep ticker (only one node sweeps at a time, with automatic
// failover) and share last-sighting timestamps through a replicated
// map, so every node observes the same staleness clock regardless of
// which node last probed an agent.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/aethara/fabric-gateway/registry/store"
	"github.com/aethara/fabric-gateway/registry/store/replicated"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
)

type (
	// Registry is the main entry point for the agent registry. It owns
	// the Pulse replicated map and pool node used for cross-node health
	// coordination, in addition to the Service.
	Registry struct {
		service     *Service
		health      *HealthTracker
		sightingMap *rmap.Map
		poolNode    *pool.Node
	}

	// Config configures the registry.
	Config struct {
		// Redis is the Redis client backing Pulse operations. Required.
		Redis *redis.Client
		// Store is the persistence layer for agent manifests. Defaults
		// to a replicated-map-backed store (shared cluster-wide,
		// Redis-durable) if not provided.
		Store store.Store
		// Name is the registry name used to derive Pulse resource
		// names. Multiple nodes with the same Name and Redis connection
		// form a cluster. Defaults to "registry" if not provided.
		//
		//   - Pool: "<name>"
		//   - Sighting map: "<name>:sightings"
		Name string
		// Logger receives registration, status-change, and health-sweep
		// logs. When nil, logs are suppressed.
		Logger telemetry.Logger
		// SweepInterval is the interval between health sweeps. Defaults
		// to DefaultSweepInterval.
		SweepInterval time.Duration
		// StalenessThreshold is the age past which an agent's last
		// sighting is too old to trust: the sweep then declares the
		// agent offline without probing its adapter.
		// Defaults to DefaultStalenessThreshold (five minutes, per
		// spec.md §4.2).
		StalenessThreshold time.Duration
		// PoolNodeOptions are additional options for the Pulse pool
		// node backing the distributed sweep ticker.
		PoolNodeOptions []pool.NodeOption
	}
)

// New creates a Registry with all components wired together: a Service
// over the configured (or default replicated) store, and a
// HealthTracker whose adapter lookups are served directly by that
// Service.
//
// The caller is responsible for calling Start to begin sweeping and
// Close to release resources.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	name := cfg.Name
	if name == "" {
		name = "registry"
	}
	sightingMapName := name + ":sightings"

	sightingMap, err := rmap.Join(ctx, sightingMapName, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("join sighting map: %w", err)
	}

	poolNode, err := pool.AddNode(ctx, name, cfg.Redis, cfg.PoolNodeOptions...)
	if err != nil {
		sightingMap.Close()
		return nil, fmt.Errorf("add pool node: %w", err)
	}

	st := cfg.Store
	if st == nil {
		registryMap, err := rmap.Join(ctx, name+":agents", cfg.Redis)
		if err != nil {
			sightingMap.Close()
			closeErr := poolNode.Close(ctx)
			return nil, errors.Join(fmt.Errorf("join agent map: %w", err), closeErr)
		}
		st = replicated.New(registryMap)
	}

	service := NewService(ServiceOptions{Store: st, Logger: cfg.Logger})

	var healthOpts []HealthTrackerOption
	if cfg.SweepInterval > 0 {
		healthOpts = append(healthOpts, WithSweepInterval(cfg.SweepInterval))
	}
	if cfg.StalenessThreshold > 0 {
		healthOpts = append(healthOpts, WithStalenessThreshold(cfg.StalenessThreshold))
	}
	if cfg.Logger != nil {
		healthOpts = append(healthOpts, WithHealthLogger(cfg.Logger))
	}

	health, err := NewHealthTracker(st, service.HealthChecker, sightingMap, poolNode, healthOpts...)
	if err != nil {
		sightingMap.Close()
		closeErr := poolNode.Close(ctx)
		return nil, errors.Join(fmt.Errorf("create health tracker: %w", err), closeErr)
	}

	return &Registry{
		service:     service,
		health:      health,
		sightingMap: sightingMap,
		poolNode:    poolNode,
	}, nil
}

// Service returns the agent registry service implementation.
func (r *Registry) Service() *Service {
	return r.service
}

// HealthTracker returns the registry's health tracker, so callers (the
// dispatch core, a successful-call hook) can record sightings outside
// the periodic sweep.
func (r *Registry) HealthTracker() *HealthTracker {
	return r.health
}

// Start begins the distributed health sweep loop.
func (r *Registry) Start(ctx context.Context) error {
	return r.health.Start(ctx)
}

// Close releases all resources held by the registry: it stops the
// health sweep on this node (without disturbing the rest of the
// cluster) and closes the Pulse pool node and replicated map.
//
// The caller is responsible for closing the Redis client passed in
// Config; Close does not close it.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error

	r.health.Stop()

	if err := r.poolNode.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close pool node: %w", err))
	}
	r.sightingMap.Close()

	if len(errs) > 0 {
		return fmt.Errorf("close registry: %v", errs)
	}
	return nil
}
