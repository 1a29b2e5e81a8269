package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
)

// JSON-RPC error codes recognized from a remote A2A-protocol agent,
// mirrored from the A2A wire specification.
const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type (
	// HTTPA2AOption configures an HTTPA2A adapter.
	HTTPA2AOption func(*HTTPA2A)

	// HTTPA2A speaks JSON-RPC 2.0 over HTTP to a remote agent that
	// implements the A2A protocol (runtime_kind "a2a-http"). One instance
	// is bound to one agent's endpoint.
	HTTPA2A struct {
		endpoint string
		http     *http.Client
		headers  http.Header
		retry    RetryConfig
		id       atomic.Uint64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  any    `json:"params,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      uint64          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	agentCard struct {
		Name         string          `json:"name"`
		Description  string          `json:"description,omitempty"`
		URL          string          `json:"url"`
		Version      string          `json:"version"`
		Skills       []agentCardSkill `json:"skills"`
	}

	agentCardSkill struct {
		ID          string `json:"id"`
		Description string `json:"description,omitempty"`
	}
)

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("a2a error %d: %s", e.Code, e.Message)
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) HTTPA2AOption {
	return func(a *HTTPA2A) { a.http = c }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) HTTPA2AOption {
	return func(a *HTTPA2A) {
		if a.headers == nil {
			a.headers = make(http.Header)
		}
		a.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer
// token with every request.
func WithBearerToken(token string) HTTPA2AOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg RetryConfig) HTTPA2AOption {
	return func(a *HTTPA2A) { a.retry = cfg }
}

// NewHTTPA2A constructs an adapter.Adapter that speaks JSON-RPC 2.0 over
// HTTP to the agent at endpoint.
func NewHTTPA2A(endpoint string, opts ...HTTPA2AOption) *HTTPA2A {
	a := &HTTPA2A{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

var _ adapter.Adapter = (*HTTPA2A)(nil)

func (a *HTTPA2A) nextID() uint64 { return a.id.Add(1) }

func (a *HTTPA2A) do(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: a.nextID(), Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range a.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fabricerr.New(fabricerr.CodeTimeout, "a2a request deadline exceeded")
		}
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "a2a transport error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout {
			return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "a2a http status %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))
		}
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "a2a http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fabricerr.Wrap(err, fabricerr.CodeUpstreamError)
	}
	if rpcResp.Error != nil {
		return nil, rpcErrorToFabric(rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func rpcErrorToFabric(e *rpcError) error {
	switch e.Code {
	case rpcMethodNotFound:
		return fabricerr.New(fabricerr.CodeCapabilityNotFound, e.Message)
	case rpcInvalidParams:
		return fabricerr.New(fabricerr.CodeBadInput, e.Message)
	default:
		return fabricerr.New(fabricerr.CodeUpstreamError, e.Message)
	}
}

// Call invokes tasks/send on the remote endpoint, honoring the envelope's
// timeout and retrying transient upstream failures.
func (a *HTTPA2A) Call(ctx context.Context, envelope adapter.Envelope) (*adapter.Result, error) {
	ctx, cancel := withEnvelopeTimeout(ctx, envelope)
	defer cancel()

	var raw json.RawMessage
	err := withRetry(ctx, a.retry, func(ctx context.Context) error {
		var callErr error
		raw, callErr = a.do(ctx, "tasks/send", map[string]any{
			"skill":   envelope.Target.Capability,
			"task":    envelope.Input.Task,
			"context": envelope.Input.Context,
		})
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fabricerr.New(fabricerr.CodeTimeout, "a2a call exceeded target timeout")
		}
		return nil, err
	}

	var output map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &output); err != nil {
			return nil, fabricerr.Wrap(err, fabricerr.CodeUpstreamError)
		}
	}
	return &adapter.Result{Output: output}, nil
}

// CallStream invokes tasks/sendSubscribe and frames each server-sent event
// as a StreamEvent. The remote stream is not retried: partial output
// cannot be safely replayed, so a mid-stream failure surfaces as a single
// ErrorEvent.
func (a *HTTPA2A) CallStream(ctx context.Context, envelope adapter.Envelope) (<-chan adapter.StreamEvent, error) {
	ctx, cancel := withEnvelopeTimeout(ctx, envelope)

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "tasks/sendSubscribe",
		ID:      a.nextID(),
		Params: map[string]any{
			"skill":   envelope.Target.Capability,
			"task":    envelope.Input.Task,
			"context": envelope.Input.Context,
		},
	})
	if err != nil {
		cancel()
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, vs := range a.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "a2a stream transport error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "a2a stream http status %d", resp.StatusCode)
	}

	events := make(chan adapter.StreamEvent)
	traceID := envelope.Trace.TraceID
	go func() {
		defer cancel()
		defer close(events)
		defer func() { _ = resp.Body.Close() }()
		streamSSE(ctx, resp.Body, traceID, events)
	}()
	return events, nil
}

// Health invokes the agent/health method. A transport or status failure is
// treated as offline rather than surfaced as an error, matching the
// registry's expectation that Health never itself fails the sweep.
func (a *HTTPA2A) Health(ctx context.Context) (manifest.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := a.do(ctx, "agent/health", nil)
	if err != nil {
		return manifest.StatusOffline, nil
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Status == "" {
		return manifest.StatusOnline, nil
	}
	switch manifest.Status(body.Status) {
	case manifest.StatusOnline, manifest.StatusDegraded, manifest.StatusOffline:
		return manifest.Status(body.Status), nil
	default:
		return manifest.StatusUnknown, nil
	}
}

// Describe invokes agent/card and converts the returned AgentCard into the
// gateway's manifest.Agent shape.
func (a *HTTPA2A) Describe(ctx context.Context) (*manifest.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	raw, err := a.do(ctx, "agent/card", nil)
	if err != nil {
		return nil, err
	}
	var card agentCard
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, fabricerr.Wrap(err, fabricerr.CodeUpstreamError)
	}

	caps := make([]manifest.Capability, 0, len(card.Skills))
	for _, s := range card.Skills {
		caps = append(caps, manifest.Capability{Name: s.ID, Description: s.Description})
	}
	return &manifest.Agent{
		DisplayName:  card.Name,
		Description:  card.Description,
		Version:      card.Version,
		RuntimeKind:  "a2a-http",
		Endpoint:     manifest.Endpoint{Transport: "http", URI: card.URL},
		Capabilities: caps,
	}, nil
}
