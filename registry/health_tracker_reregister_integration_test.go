package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/aethara/fabric-gateway/manifest"
)

// TestStartIsIdempotentAndSurvivesNodeCrash verifies that calling Start
// again on a tracker that is already sweeping (simulating a second
// registration pass hitting the same gateway node) does not recreate
// the distributed sweep ticker.
//
// Regression: an earlier version of the distributed sweep ticker
// recreated the ticker on every Start call, which deletes the shared
// ticker-map entry and remotely stops other nodes' copies. If the node
// that issued the redundant Start then crashed, no node continued
// sweeping.
func TestStartIsIdempotentAndSurvivesNodeCrash(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	sightingMap, err := rmap.Join(ctx, "sighting-"+t.Name(), rdb)
	require.NoError(t, err)
	defer sightingMap.Close()

	poolName := "pool-" + t.Name()
	node1, err := pool.AddNode(ctx, poolName, rdb, testNodeOpts()...)
	require.NoError(t, err)

	node2, err := pool.AddNode(ctx, poolName, rdb, testNodeOpts()...)
	require.NoError(t, err)
	defer func() { _ = node2.Close(ctx) }()

	agent := &manifest.Agent{AgentID: "atlas.read", Status: manifest.StatusUnknown}
	st := newFakeStore(agent)
	checker := &fakeChecker{status: manifest.StatusOnline}
	checkers := map[string]*fakeChecker{agent.AgentID: checker}

	tracker1, err := NewHealthTracker(st, lookupOf(checkers), sightingMap, node1, WithSweepInterval(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, tracker1.Start(ctx))

	// Simulate a second registration pass landing on the same node.
	require.NoError(t, tracker1.Start(ctx))

	tracker2, err := NewHealthTracker(st, lookupOf(checkers), sightingMap, node2, WithSweepInterval(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, tracker2.Start(ctx))
	defer tracker2.Stop()

	require.Eventually(t, func() bool {
		return checker.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond, "expected sweeps before the crash")

	// Crash node1 without calling tracker1.Stop.
	_ = node1.Close(ctx)

	callsBeforeCrash := checker.calls.Load()
	require.Eventually(t, func() bool {
		return checker.calls.Load() > callsBeforeCrash
	}, 10*time.Second, 100*time.Millisecond, "sweeping must continue from the surviving node after the crash")
}
