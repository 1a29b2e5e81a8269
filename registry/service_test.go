package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
	"github.com/aethara/fabric-gateway/registry/store/memory"
)

// noopAdapter is a minimal adapter.Adapter stand-in for tests that only
// exercise registration bookkeeping, never invocation.
type noopAdapter struct{}

func (noopAdapter) Call(context.Context, adapter.Envelope) (*adapter.Result, error) { return nil, nil }
func (noopAdapter) CallStream(context.Context, adapter.Envelope) (<-chan adapter.StreamEvent, error) {
	return nil, nil
}
func (noopAdapter) Health(context.Context) (manifest.Status, error) {
	return manifest.StatusOnline, nil
}
func (noopAdapter) Describe(context.Context) (*manifest.Agent, error) { return nil, nil }

// TestRegistrationIsIdempotent verifies that registering the same
// agent_id twice replaces its manifest wholesale: the second
// registration's capability set, tags, and trust tier are what Get
// subsequently returns, per spec.md §3 invariant ii.
func TestRegistrationIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("registering twice keeps the agent id but replaces the manifest", prop.ForAll(
		func(tc reregistrationTestCase) bool {
			ctx := context.Background()
			svc := NewService(ServiceOptions{Store: memory.New()})

			if _, err := svc.Register(ctx, tc.first, noopAdapter{}); err != nil {
				return false
			}
			registered, err := svc.Register(ctx, tc.second, noopAdapter{})
			if err != nil {
				return false
			}
			if registered.AgentID != tc.first.AgentID {
				return false
			}

			got, err := svc.Get(ctx, tc.first.AgentID)
			if err != nil {
				return false
			}
			if got.DisplayName != tc.second.DisplayName {
				return false
			}
			if len(got.Capabilities) != len(tc.second.Capabilities) {
				return false
			}
			return got.Status == manifest.StatusOnline
		},
		genReregistrationTestCase(),
	))

	properties.TestingRun(t)
}

type reregistrationTestCase struct {
	first  *manifest.Agent
	second *manifest.Agent
}

func genReregistrationTestCase() gopter.Gen {
	return genAgentID().FlatMap(func(id any) gopter.Gen {
		agentID := id.(string)
		return gopter.CombineGens(
			genAgentWithID(agentID),
			genAgentWithID(agentID),
		).Map(func(vals []any) reregistrationTestCase {
			return reregistrationTestCase{
				first:  vals[0].(*manifest.Agent),
				second: vals[1].(*manifest.Agent),
			}
		})
	}, reflect.TypeOf(reregistrationTestCase{}))
}

func genAgentID() gopter.Gen {
	return gen.Identifier().Map(func(s string) string {
		return "reregister-test-" + s
	})
}

func genAgentWithID(agentID string) gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("Atlas", "Nimbus", "Keystone", "Vertex"),
		genCapabilityNames(),
	).Map(func(vals []any) *manifest.Agent {
		displayName := vals[0].(string)
		capNames := vals[1].([]string)
		caps := make([]manifest.Capability, len(capNames))
		for i, name := range capNames {
			caps[i] = manifest.Capability{Name: name}
		}
		return &manifest.Agent{
			AgentID:      agentID,
			DisplayName:  displayName,
			Version:      "1.0.0",
			RuntimeKind:  "native",
			Endpoint:     manifest.Endpoint{Transport: "grpc", URI: "agent:9000"},
			Capabilities: caps,
			TrustTier:    manifest.TrustLocal,
		}
	})
}

func genCapabilityNames() gopter.Gen {
	return gen.SliceOfN(2, gen.OneConstOf("read", "write", "search", "summarize")).SuchThat(func(names []string) bool {
		return len(names) > 0
	})
}

// TestUnregisterRemovesFromListing verifies that an unregistered agent
// no longer appears in List, while its siblings remain.
func TestUnregisterRemovesFromListing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("unregistered agent disappears from listing, others remain", prop.ForAll(
		func(tc unregisterListingTestCase) bool {
			ctx := context.Background()
			svc := NewService(ServiceOptions{Store: memory.New()})

			for _, a := range tc.agents {
				if _, err := svc.Register(ctx, a, noopAdapter{}); err != nil {
					return false
				}
			}

			before, err := svc.List(ctx, manifest.ListFilter{})
			if err != nil || !containsAgentID(before, tc.targetID) {
				return false
			}

			ok, err := svc.Unregister(ctx, tc.targetID)
			if err != nil || !ok {
				return false
			}

			after, err := svc.List(ctx, manifest.ListFilter{})
			if err != nil || containsAgentID(after, tc.targetID) {
				return false
			}
			for _, a := range tc.agents {
				if a.AgentID == tc.targetID {
					continue
				}
				if !containsAgentID(after, a.AgentID) {
					return false
				}
			}
			return true
		},
		genUnregisterListingTestCase(),
	))

	properties.TestingRun(t)
}

type unregisterListingTestCase struct {
	agents   []*manifest.Agent
	targetID string
}

func genUnregisterListingTestCase() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 5),
		gen.Identifier(),
	).FlatMap(func(vals any) gopter.Gen {
		arr := vals.([]any)
		count := arr[0].(int)
		base := arr[1].(string)

		agentGens := make([]gopter.Gen, count)
		for i := range count {
			agentGens[i] = genAgentWithID(fmt.Sprintf("unreg-%s-%d", base, i))
		}

		return gopter.CombineGens(agentGens...).FlatMap(func(agentsAny any) gopter.Gen {
			agentsArr := agentsAny.([]any)
			agents := make([]*manifest.Agent, len(agentsArr))
			for i, a := range agentsArr {
				agents[i] = a.(*manifest.Agent)
			}
			return gen.IntRange(0, len(agents)-1).Map(func(idx int) unregisterListingTestCase {
				return unregisterListingTestCase{agents: agents, targetID: agents[idx].AgentID}
			})
		}, reflect.TypeOf(unregisterListingTestCase{}))
	}, reflect.TypeOf(unregisterListingTestCase{}))
}

func containsAgentID(agents []*manifest.Agent, id string) bool {
	for _, a := range agents {
		if a.AgentID == id {
			return true
		}
	}
	return false
}

// TestUnregisterNonExistentReturnsFalse verifies that unregistering an
// agent id that was never registered is reported as a no-op, not an
// error, per spec.md §4.2.
func TestUnregisterNonExistentReturnsFalse(t *testing.T) {
	svc := NewService(ServiceOptions{Store: memory.New()})
	ok, err := svc.Unregister(context.Background(), "never-registered")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestGetUnknownAgentReturnsNotFound verifies the closed error
// taxonomy surfaces CodeAgentNotFound for a missing agent.
func TestGetUnknownAgentReturnsNotFound(t *testing.T) {
	svc := NewService(ServiceOptions{Store: memory.New()})
	_, err := svc.Get(context.Background(), "ghost")

	var fabErr *fabricerr.Error
	require.True(t, errors.As(err, &fabErr))
	assert.Equal(t, fabricerr.CodeAgentNotFound, fabErr.Code)
}

// TestRegisterRejectsMissingFields verifies input validation on
// Register: a nil manifest, an empty agent_id, and a nil adapter are
// all CodeBadInput, never a panic or a silently-accepted half record.
func TestRegisterRejectsMissingFields(t *testing.T) {
	svc := NewService(ServiceOptions{Store: memory.New()})
	ctx := context.Background()

	_, err := svc.Register(ctx, nil, noopAdapter{})
	assertBadInput(t, err)

	_, err = svc.Register(ctx, &manifest.Agent{}, noopAdapter{})
	assertBadInput(t, err)

	_, err = svc.Register(ctx, &manifest.Agent{AgentID: "a"}, nil)
	assertBadInput(t, err)
}

func assertBadInput(t *testing.T, err error) {
	t.Helper()
	var fabErr *fabricerr.Error
	require.True(t, errors.As(err, &fabErr))
	assert.Equal(t, fabricerr.CodeBadInput, fabErr.Code)
}

// TestFindByCapabilityReturnsOnlyMatchingAgents verifies that
// FindByCapability applies the same AND-semantics filter as List,
// scoped to a single field.
func TestFindByCapabilityReturnsOnlyMatchingAgents(t *testing.T) {
	ctx := context.Background()
	svc := NewService(ServiceOptions{Store: memory.New()})

	withCap := &manifest.Agent{
		AgentID:      "atlas",
		RuntimeKind:  "native",
		Capabilities: []manifest.Capability{{Name: "atlas.read"}},
		TrustTier:    manifest.TrustLocal,
	}
	withoutCap := &manifest.Agent{
		AgentID:      "nimbus",
		RuntimeKind:  "native",
		Capabilities: []manifest.Capability{{Name: "nimbus.write"}},
		TrustTier:    manifest.TrustLocal,
	}

	_, err := svc.Register(ctx, withCap, noopAdapter{})
	require.NoError(t, err)
	_, err = svc.Register(ctx, withoutCap, noopAdapter{})
	require.NoError(t, err)

	found, err := svc.FindByCapability(ctx, "atlas.read")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "atlas", found[0].AgentID)
}

// TestUpdateStatusAppliesToStore verifies that UpdateStatus writes
// through to the store, and that it reports CodeAgentNotFound for an
// unknown agent rather than silently succeeding.
func TestUpdateStatusAppliesToStore(t *testing.T) {
	ctx := context.Background()
	svc := NewService(ServiceOptions{Store: memory.New()})

	agent := &manifest.Agent{AgentID: "atlas", RuntimeKind: "native", TrustTier: manifest.TrustLocal}
	_, err := svc.Register(ctx, agent, noopAdapter{})
	require.NoError(t, err)

	latency := int64(42)
	require.NoError(t, svc.UpdateStatus(ctx, "atlas", manifest.StatusDegraded, &latency))

	got, err := svc.Get(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusDegraded, got.Status)

	err = svc.UpdateStatus(ctx, "ghost", manifest.StatusOffline, nil)
	var fabErr *fabricerr.Error
	require.True(t, errors.As(err, &fabErr))
	assert.Equal(t, fabricerr.CodeAgentNotFound, fabErr.Code)
}

// historyStore wraps memory.Store to additionally implement
// store.HistoryRecorder, exercising Service's optional-interface check
// without pulling in the full Mongo backend.
type historyStore struct {
	*memory.Store
	recorded []store.HealthCheck
}

func (h *historyStore) RecordHealthCheck(_ context.Context, _ string, check store.HealthCheck) error {
	h.recorded = append(h.recorded, check)
	return nil
}

// TestUpdateStatusRecordsHistoryWhenSupported verifies that Service
// appends a health-check record when the backing store implements
// store.HistoryRecorder, and does nothing (no error, no panic) when it
// doesn't — the optional-interface contract memory.Store exercises
// implicitly in the tests above.
func TestUpdateStatusRecordsHistoryWhenSupported(t *testing.T) {
	ctx := context.Background()
	hs := &historyStore{Store: memory.New()}
	svc := NewService(ServiceOptions{Store: hs})

	agent := &manifest.Agent{AgentID: "atlas", RuntimeKind: "native", TrustTier: manifest.TrustLocal}
	_, err := svc.Register(ctx, agent, noopAdapter{})
	require.NoError(t, err)

	latency := int64(17)
	require.NoError(t, svc.UpdateStatus(ctx, "atlas", manifest.StatusOnline, &latency))

	require.Len(t, hs.recorded, 1)
	assert.Equal(t, manifest.StatusOnline, hs.recorded[0].Status)
	require.NotNil(t, hs.recorded[0].LatencyMS)
	assert.Equal(t, latency, *hs.recorded[0].LatencyMS)
}

// TestAdapterLookupRoundTrips verifies Adapter and HealthChecker both
// resolve the adapter supplied at Register time, and report absence
// for an agent that was never registered.
func TestAdapterLookupRoundTrips(t *testing.T) {
	ctx := context.Background()
	svc := NewService(ServiceOptions{Store: memory.New()})

	ad := noopAdapter{}
	agent := &manifest.Agent{AgentID: "atlas", RuntimeKind: "native", TrustTier: manifest.TrustLocal}
	_, err := svc.Register(ctx, agent, ad)
	require.NoError(t, err)

	got, ok := svc.Adapter("atlas")
	require.True(t, ok)
	assert.Equal(t, ad, got)

	checker, ok := svc.HealthChecker("atlas")
	require.True(t, ok)
	assert.NotNil(t, checker)

	_, ok = svc.Adapter("ghost")
	assert.False(t, ok)
}

// TestStatsUnsupportedByDefaultStore verifies that Stats reports
// ok=false for the plain memory store, which implements neither
// store.HistoryRecorder nor store.StatsProvider.
func TestStatsUnsupportedByDefaultStore(t *testing.T) {
	svc := NewService(ServiceOptions{Store: memory.New()})
	_, ok, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

// statsStore wraps memory.Store to additionally implement
// store.StatsProvider with a fixed result, exercising Service.Stats'
// optional-interface path.
type statsStore struct {
	*memory.Store
	stats store.Stats
}

func (s *statsStore) Stats(context.Context) (store.Stats, error) {
	return s.stats, nil
}

func TestStatsDelegatesWhenSupported(t *testing.T) {
	want := store.Stats{TotalAgents: 3, ByStatus: map[manifest.Status]int{manifest.StatusOnline: 3}}
	svc := NewService(ServiceOptions{Store: &statsStore{Store: memory.New(), stats: want}})

	got, ok, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
