package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
	"github.com/aethara/fabric-gateway/trace"
)

func testEnvelope(capability, task string) adapter.Envelope {
	return adapter.Envelope{
		Trace:  trace.New(),
		Target: adapter.Target{Kind: "agent", ID: "atlas", Capability: capability, TimeoutMS: 5000},
		Input:  adapter.Input{Task: task},
	}
}

// TestHTTPA2ACallSendsTasksSendAndReturnsResult verifies Call issues a
// tasks/send JSON-RPC request carrying the capability and task, and
// decodes the raw result into the adapter.Result output map.
func TestHTTPA2ACallSendsTasksSendAndReturnsResult(t *testing.T) {
	var captured rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		resp := rpcResponse{JSONRPC: "2.0", ID: captured.ID, Result: json.RawMessage(`{"answer":"42"}`)}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	}))
	defer server.Close()

	a := NewHTTPA2A(server.URL)
	result, err := a.Call(context.Background(), testEnvelope("atlas.read", "what is the answer"))
	require.NoError(t, err)
	assert.Equal(t, "tasks/send", captured.Method)
	params := captured.Params.(map[string]any)
	assert.Equal(t, "atlas.read", params["skill"])
	assert.Equal(t, "42", result.Output["answer"])
}

// TestHTTPA2ACallMapsJSONRPCErrorsToFabricCodes verifies the JSON-RPC
// method-not-found and invalid-params codes translate to the closed
// taxonomy's CAPABILITY_NOT_FOUND and BAD_INPUT respectively.
func TestHTTPA2ACallMapsJSONRPCErrorsToFabricCodes(t *testing.T) {
	cases := []struct {
		rpcCode  int
		wantCode fabricerr.Code
	}{
		{rpcMethodNotFound, fabricerr.CodeCapabilityNotFound},
		{rpcInvalidParams, fabricerr.CodeBadInput},
		{-32000, fabricerr.CodeUpstreamError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("code_%d", tc.rpcCode), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req rpcRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: tc.rpcCode, Message: "boom"}}
				require.NoError(t, json.NewEncoder(w).Encode(&resp))
			}))
			defer server.Close()

			a := NewHTTPA2A(server.URL, WithRetryConfig(RetryConfig{MaxAttempts: 1}))
			_, err := a.Call(context.Background(), testEnvelope("atlas.read", "x"))
			require.Error(t, err)
			fe, ok := fabricerr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantCode, fe.Code)
		})
	}
}

// TestHTTPA2ACallRetriesServiceUnavailable verifies a 503 response is
// retried per the bounded backoff policy until a later attempt succeeds.
func TestHTTPA2ACallRetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	}))
	defer server.Close()

	a := NewHTTPA2A(server.URL, WithRetryConfig(fastRetryConfig()))
	_, err := a.Call(context.Background(), testEnvelope("atlas.read", "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

// TestHTTPA2AHealthReportsOfflineOnTransportFailure verifies Health never
// surfaces an error itself; an unreachable endpoint reports offline.
func TestHTTPA2AHealthReportsOfflineOnTransportFailure(t *testing.T) {
	a := NewHTTPA2A("http://127.0.0.1:1")
	status, err := a.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusOffline, status)
}

// TestHTTPA2AHealthParsesRemoteStatus verifies a well-formed agent/health
// response maps to the reported status.
func TestHTTPA2AHealthParsesRemoteStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "agent/health", req.Method)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"status":"degraded"}`)}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	}))
	defer server.Close()

	a := NewHTTPA2A(server.URL)
	status, err := a.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusDegraded, status)
}

// TestHTTPA2ADescribeConvertsAgentCard verifies the remote AgentCard's
// skills become manifest.Capability entries.
func TestHTTPA2ADescribeConvertsAgentCard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "agent/card", req.Method)
		card := agentCard{
			Name:    "Atlas",
			Version: "2.1.0",
			URL:     "https://atlas.example.com/a2a",
			Skills:  []agentCardSkill{{ID: "atlas.read", Description: "read records"}},
		}
		encoded, _ := json.Marshal(card)
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: encoded}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	}))
	defer server.Close()

	a := NewHTTPA2A(server.URL)
	agent, err := a.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Atlas", agent.DisplayName)
	require.Len(t, agent.Capabilities, 1)
	assert.Equal(t, "atlas.read", agent.Capabilities[0].Name)
}

// TestHTTPA2ACallStreamDeliversChunksThenTerminal verifies the SSE stream
// is decoded in order and ends with exactly one terminal event.
func TestHTTPA2ACallStreamDeliversChunksThenTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"token\",\"data\":{\"output\":{\"chunk\":1}}}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"final\",\"data\":{\"output\":{\"chunk\":2}}}\n\n")
	}))
	defer server.Close()

	a := NewHTTPA2A(server.URL)
	events, err := a.CallStream(context.Background(), testEnvelope("atlas.read", "x"))
	require.NoError(t, err)

	var got []adapter.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, adapter.EventChunk, got[0].Type())
	assert.Equal(t, adapter.EventTerminal, got[1].Type())
}
