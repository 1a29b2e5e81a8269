package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store/memory"
)

// fakeAdapter is a minimal adapter.Adapter used to exercise Registry's
// wiring of the health sweep against a registered agent. Call and
// CallStream are never exercised by these tests.
type fakeAdapter struct {
	calls  atomic.Int64
	status manifest.Status
}

func (a *fakeAdapter) Call(context.Context, adapter.Envelope) (*adapter.Result, error) {
	return nil, nil
}

func (a *fakeAdapter) CallStream(context.Context, adapter.Envelope) (<-chan adapter.StreamEvent, error) {
	return nil, nil
}

func (a *fakeAdapter) Health(context.Context) (manifest.Status, error) {
	a.calls.Add(1)
	return a.status, nil
}

func (a *fakeAdapter) Describe(context.Context) (*manifest.Agent, error) {
	return nil, nil
}

// TestNewRegistry verifies that the Registry constructor wires all
// components correctly.
func TestNewRegistry(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	reg, err := New(ctx, Config{
		Redis:              rdb,
		Name:               "test-" + t.Name(),
		SweepInterval:      50 * time.Millisecond,
		StalenessThreshold: 200 * time.Millisecond,
		PoolNodeOptions:    testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	defer func() {
		if err := reg.Close(ctx); err != nil {
			t.Errorf("failed to close registry: %v", err)
		}
	}()

	if reg.Service() == nil {
		t.Error("Service() should return non-nil service")
	}
	if reg.HealthTracker() == nil {
		t.Error("HealthTracker() should return non-nil tracker")
	}
}

// TestNewRegistryWithCustomStore verifies that a custom store can be
// injected instead of the default replicated-map store.
func TestNewRegistryWithCustomStore(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	customStore := memory.New()

	reg, err := New(ctx, Config{
		Redis:           rdb,
		Store:           customStore,
		Name:            "test-" + t.Name(),
		PoolNodeOptions: testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	defer func() {
		if err := reg.Close(ctx); err != nil {
			t.Errorf("failed to close registry: %v", err)
		}
	}()

	if reg.Service() == nil {
		t.Error("Service() should return non-nil service")
	}
}

// TestNewRegistryRequiresRedis verifies that a Redis client is required.
func TestNewRegistryRequiresRedis(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{})
	if err == nil {
		t.Error("expected error when Redis is nil")
	}
}

// TestRegistryGracefulShutdown verifies that Close properly cleans up
// resources without needing Start to have been called first.
func TestRegistryGracefulShutdown(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	reg, err := New(ctx, Config{
		Redis:           rdb,
		Name:            "test-" + t.Name(),
		PoolNodeOptions: testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	if err := reg.Close(ctx); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}

// TestRegistryStartSweepsRegisteredAgents verifies that Start begins
// the health sweep loop end to end through the Registry wiring.
func TestRegistryStartSweepsRegisteredAgents(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	reg, err := New(ctx, Config{
		Redis:              rdb,
		Name:               "test-" + t.Name(),
		SweepInterval:      50 * time.Millisecond,
		StalenessThreshold: time.Hour,
		PoolNodeOptions:    testNodeOpts(),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	defer func() { _ = reg.Close(ctx) }()

	agentManifest := &manifest.Agent{
		AgentID:     "atlas-1",
		DisplayName: "Atlas",
		Version:     "1.0.0",
		RuntimeKind: "native",
		Endpoint:    manifest.Endpoint{Transport: "grpc", URI: "atlas:9000"},
		Capabilities: []manifest.Capability{
			{Name: "atlas.read"},
		},
		TrustTier: manifest.TrustLocal,
	}
	ad := &fakeAdapter{status: manifest.StatusOnline}

	if _, err := reg.Service().Register(ctx, agentManifest, ad); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if ad.calls.Load() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a health sweep to probe the registered agent")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
