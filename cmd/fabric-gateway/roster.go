package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/adapters"
	"github.com/aethara/fabric-gateway/manifest"
)

// rosterEntry is one statically configured agent: its registration
// manifest plus the runtime_kind-implied adapter construction. There is
// no fabric.* operation for registration (spec.md §6's operation set is
// query/invocation only); an operator hands the gateway its starting
// roster at boot the same way it hands it a shared key or a storage
// backend selector.
type rosterEntry struct {
	manifest.Agent
}

// loadRoster reads and parses a JSON array of agent manifests from path.
// It constructs no adapters; seedRoster builds each entry's adapter from
// its RuntimeKind via buildAdapter at register time.
func loadRoster(path string) ([]rosterEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %q: %w", path, err)
	}
	var entries []rosterEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse roster %q: %w", path, err)
	}
	return entries, nil
}

// buildAdapter selects an adapter.Adapter implementation by the agent's
// RuntimeKind, per spec.md §4.3: "Distinct adapter variants exist per
// agent wire kind... Selection is by runtime_kind in the manifest."
func buildAdapter(agent manifest.Agent) (adapter.Adapter, error) {
	switch agent.RuntimeKind {
	case "fabric-native":
		return adapters.NewNative(agent.Endpoint.URI), nil
	case "a2a-http":
		return adapters.NewHTTPA2A(agent.Endpoint.URI), nil
	case "stub":
		return adapters.NewStub(agent), nil
	default:
		return nil, fmt.Errorf("agent %q: unknown runtime_kind %q", agent.AgentID, agent.RuntimeKind)
	}
}
