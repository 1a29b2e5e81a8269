package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aethara/fabric-gateway/adapter"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/manifest"
)

type (
	// NativeOption configures a Native adapter.
	NativeOption func(*Native)

	// Native speaks the gateway's own JSON-over-HTTP envelope format
	// directly (runtime_kind "fabric-native"): the adapter.Envelope is
	// posted verbatim, and the remote gateway replies with the same
	// {ok, result, error} shape the dispatch core itself returns to its
	// own HTTP surface. Streaming calls post to the same endpoint with
	// response.stream set and read back the §4.5 SSE framing.
	Native struct {
		endpoint string
		http     *http.Client
		headers  http.Header
		retry    RetryConfig
	}

	nativeReply struct {
		OK     bool              `json:"ok"`
		Result map[string]any    `json:"result,omitempty"`
		Error  *nativeReplyError `json:"error,omitempty"`
	}

	nativeReplyError struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	}
)

// WithNativeHTTPClient overrides the underlying *http.Client.
func WithNativeHTTPClient(c *http.Client) NativeOption {
	return func(n *Native) { n.http = c }
}

// WithNativeHeader adds a static header to all outgoing requests.
func WithNativeHeader(name, value string) NativeOption {
	return func(n *Native) {
		if n.headers == nil {
			n.headers = make(http.Header)
		}
		n.headers.Add(name, value)
	}
}

// WithNativeRetryConfig overrides the default retry policy.
func WithNativeRetryConfig(cfg RetryConfig) NativeOption {
	return func(n *Native) { n.retry = cfg }
}

// NewNative constructs an adapter.Adapter that speaks the gateway's own
// wire protocol to a peer gateway or collaborator process at endpoint.
func NewNative(endpoint string, opts ...NativeOption) *Native {
	n := &Native{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

var _ adapter.Adapter = (*Native)(nil)

func (n *Native) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+path, bytes.NewReader(encoded))
	if err != nil {
		return fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range n.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := n.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fabricerr.New(fabricerr.CodeTimeout, "native call deadline exceeded")
		}
		return fabricerr.Newf(fabricerr.CodeUpstreamError, "native transport error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fabricerr.Newf(fabricerr.CodeUpstreamError, "native http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fabricerr.Wrap(err, fabricerr.CodeUpstreamError)
	}
	return nil
}

// Call posts the envelope to the peer's call endpoint and unwraps its
// {ok, result, error} reply.
func (n *Native) Call(ctx context.Context, envelope adapter.Envelope) (*adapter.Result, error) {
	ctx, cancel := withEnvelopeTimeout(ctx, envelope)
	defer cancel()

	var reply nativeReply
	err := withRetry(ctx, n.retry, func(ctx context.Context) error {
		return n.post(ctx, "/fabric/call", envelope, &reply)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fabricerr.New(fabricerr.CodeTimeout, "native call exceeded target timeout")
		}
		return nil, err
	}
	if !reply.OK {
		if reply.Error == nil {
			return nil, fabricerr.New(fabricerr.CodeUpstreamError, "native call failed with no error detail")
		}
		return nil, fabricerr.New(fabricerr.Code(reply.Error.Code), reply.Error.Message).WithDetails(reply.Error.Details)
	}
	return &adapter.Result{Output: reply.Result}, nil
}

// CallStream posts the envelope with response.stream forced true and
// frames the reply body as §4.5 server-sent events.
func (n *Native) CallStream(ctx context.Context, envelope adapter.Envelope) (<-chan adapter.StreamEvent, error) {
	ctx, cancel := withEnvelopeTimeout(ctx, envelope)

	streamEnvelope := envelope
	streamEnvelope.Response.Stream = true
	body, err := json.Marshal(streamEnvelope)
	if err != nil {
		cancel()
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/fabric/call", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fabricerr.Wrap(err, fabricerr.CodeInternalError)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, vs := range n.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := n.http.Do(req)
	if err != nil {
		cancel()
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "native stream transport error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fabricerr.Newf(fabricerr.CodeUpstreamError, "native stream http status %d", resp.StatusCode)
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

// Health posts to /fabric/health and returns offline rather than an error
// on any transport or decode failure.
func (n *Native) Health(ctx context.Context) (manifest.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var body struct {
		Status manifest.Status `json:"status"`
	}
	if err := n.post(ctx, "/fabric/health", struct{}{}, &body); err != nil {
		return manifest.StatusOffline, nil
	}
	if body.Status == "" {
		return manifest.StatusUnknown, nil
	}
	return body.Status, nil
}

// Describe posts to /fabric/describe and decodes the peer's self-reported
// manifest.Agent.
func (n *Native) Describe(ctx context.Context) (*manifest.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var agent manifest.Agent
	if err := n.post(ctx, "/fabric/describe", struct{}{}, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}
