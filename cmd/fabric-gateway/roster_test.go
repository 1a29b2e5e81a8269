package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/adapters"
	"github.com/aethara/fabric-gateway/manifest"
)

func TestLoadRosterParsesAgentManifests(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.json")

	roster := []rosterEntry{
		{manifest.Agent{AgentID: "atlas-1", RuntimeKind: "fabric-native", Endpoint: manifest.Endpoint{URI: "http://atlas:9000"}}},
		{manifest.Agent{AgentID: "atlas-2", RuntimeKind: "stub"}},
	}
	data, err := json.Marshal(roster)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	entries, err := loadRoster(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "atlas-1", entries[0].AgentID)
	assert.Equal(t, "fabric-native", entries[0].RuntimeKind)
}

func TestLoadRosterRejectsMissingFile(t *testing.T) {
	_, err := loadRoster(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBuildAdapterSelectsByRuntimeKind(t *testing.T) {
	cases := []struct {
		kind string
		want any
	}{
		{"fabric-native", &adapters.Native{}},
		{"a2a-http", &adapters.HTTPA2A{}},
		{"stub", &adapters.Stub{}},
	}
	for _, c := range cases {
		ad, err := buildAdapter(manifest.Agent{AgentID: "x", RuntimeKind: c.kind, Endpoint: manifest.Endpoint{URI: "http://x"}})
		require.NoError(t, err)
		assert.IsType(t, c.want, ad)
	}
}

func TestBuildAdapterRejectsUnknownRuntimeKind(t *testing.T) {
	_, err := buildAdapter(manifest.Agent{AgentID: "x", RuntimeKind: "carrier-pigeon"})
	assert.Error(t, err)
}
