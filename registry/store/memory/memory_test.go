package memory

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/registry/store"
)

// TestRegistrationRoundTripConsistency: for any valid agent manifest, saving
// then getting by id returns an equivalent manifest.
func TestRegistrationRoundTripConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("save then get returns equivalent agent", prop.ForAll(
		func(agent *manifest.Agent) bool {
			st := New()
			ctx := context.Background()

			if err := st.Save(ctx, agent); err != nil {
				return false
			}
			retrieved, err := st.Get(ctx, agent.AgentID)
			if err != nil {
				return false
			}
			return agentsEqual(agent, retrieved)
		},
		genAgent(),
	))

	properties.TestingRun(t)
}

// TestTagFilteringCorrectness: List with a tag filter returns exactly those
// agents that carry that tag.
func TestTagFilteringCorrectness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tag filter returns only agents with the tag", prop.ForAll(
		func(agents []*manifest.Agent, tag string) bool {
			st := New()
			ctx := context.Background()
			for _, a := range agents {
				if err := st.Save(ctx, a); err != nil {
					return false
				}
			}

			results, err := st.List(ctx, manifest.ListFilter{Tag: tag})
			if err != nil {
				return false
			}
			for _, a := range results {
				if !a.HasTag(tag) {
					return false
				}
			}
			for _, a := range agents {
				if a.HasTag(tag) && !containsAgent(results, a.AgentID) {
					return false
				}
			}
			return true
		},
		genAgentSlice(),
		genTag(),
	))

	properties.TestingRun(t)
}

func TestDeleteUnknownAgentReturnsNotFound(t *testing.T) {
	st := New()
	err := st.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStatusUnknownAgentReturnsNotFound(t *testing.T) {
	st := New()
	err := st.UpdateStatus(context.Background(), "nope", manifest.StatusOnline, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStatusMutatesInPlace(t *testing.T) {
	st := New()
	ctx := context.Background()
	agent := &manifest.Agent{AgentID: "alpha", Status: manifest.StatusUnknown}
	require.NoError(t, st.Save(ctx, agent))

	require.NoError(t, st.UpdateStatus(ctx, "alpha", manifest.StatusOnline, time.Now()))

	got, err := st.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusOnline, got.Status)
	require.NotNil(t, got.LastSeen)
}

func agentsEqual(a, b *manifest.Agent) bool {
	return a.AgentID == b.AgentID &&
		a.DisplayName == b.DisplayName &&
		a.Version == b.Version &&
		a.RuntimeKind == b.RuntimeKind &&
		reflect.DeepEqual(a.Capabilities, b.Capabilities) &&
		reflect.DeepEqual(a.Tags, b.Tags) &&
		a.TrustTier == b.TrustTier &&
		a.Status == b.Status
}

func containsAgent(agents []*manifest.Agent, id string) bool {
	for _, a := range agents {
		if a.AgentID == id {
			return true
		}
	}
	return false
}

func genAgent() gopter.Gen {
	return gopter.CombineGens(
		genAgentID(),
		genTags(),
		genTrustTier(),
		genStatus(),
	).Map(func(vals []any) *manifest.Agent {
		return &manifest.Agent{
			AgentID:     vals[0].(string),
			DisplayName: vals[0].(string) + "-display",
			Version:     "1.0.0",
			RuntimeKind: "native",
			Tags:        vals[1].([]string),
			TrustTier:   vals[2].(manifest.TrustTier),
			Status:      vals[3].(manifest.Status),
		}
	})
}

func genAgentSlice() gopter.Gen {
	return gen.SliceOfN(5, genAgent()).Map(func(agents []*manifest.Agent) []*manifest.Agent {
		seen := make(map[string]bool)
		result := make([]*manifest.Agent, 0, len(agents))
		for i, a := range agents {
			if seen[a.AgentID] {
				a.AgentID = a.AgentID + "-" + string(rune('a'+i))
			}
			seen[a.AgentID] = true
			result = append(result, a)
		}
		return result
	})
}

func genAgentID() gopter.Gen {
	return gen.OneConstOf("alpha", "beta", "gamma", "delta", "epsilon")
}

func genTags() gopter.Gen {
	return gen.SliceOfN(2, gen.OneConstOf("chat", "code", "search", "billing", "support"))
}

func genTag() gopter.Gen {
	return gen.OneConstOf("chat", "code", "search", "billing", "support")
}

func genTrustTier() gopter.Gen {
	return gen.OneConstOf(manifest.TrustLocal, manifest.TrustOrg, manifest.TrustPublic)
}

func genStatus() gopter.Gen {
	return gen.OneConstOf(manifest.StatusOnline, manifest.StatusOffline, manifest.StatusDegraded, manifest.StatusUnknown)
}
