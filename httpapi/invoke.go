package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/dispatch"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/stream"
	"github.com/aethara/fabric-gateway/trace"
)

// invokeBody is the wire shape of the single POST endpoint's request
// body, spec.md §6: {"name": string, "arguments": object}.
type invokeBody struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handleInvoke implements the single front-door endpoint: it decodes the
// request, authenticates it from the Authorization header, and routes to
// either the synchronous Dispatch path or, when arguments.stream is true,
// the streaming Stream path promoted to server-sent events.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body invokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, errorEnvelope(trace.New(), fabricerr.New(fabricerr.CodeBadInput, "malformed request body: "+err.Error())))
		return
	}
	if body.Name == "" {
		writeJSON(w, errorEnvelope(trace.New(), fabricerr.New(fabricerr.CodeBadInput, "name is required")))
		return
	}

	mode, token := authFromRequest(r)
	req := dispatch.Request{
		Op:       body.Name,
		Args:     body.Arguments,
		TraceID:  r.Header.Get("X-Trace-Id"),
		AuthMode: mode,
		Token:    token,
	}

	if streamRequested(body.Arguments) {
		s.handleStreamInvoke(w, r, req)
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, resp)
}

// handleStreamInvoke promotes the response to an event stream per
// spec.md §4.5/§6: data: <json>\n\n frames, flushed after every event.
func (s *Server) handleStreamInvoke(w http.ResponseWriter, r *http.Request, req dispatch.Request) {
	events, tr, err := s.dispatcher.Stream(r.Context(), req)
	if err != nil {
		writeJSON(w, errorEnvelope(tr, err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher := http.NewResponseController(w)
	if err := stream.WriteSSE(r.Context(), w, responseControllerFlusher{flusher}, events); err != nil {
		s.logger.Warn(r.Context(), "stream write interrupted", "error", err.Error(), "op", req.Op)
	}
}

// responseControllerFlusher adapts *http.ResponseController to
// stream.Flusher, swallowing the "not supported by this transport" error
// the controller returns for non-flushable writers (e.g. in tests against
// an httptest.ResponseRecorder wrapped without flush support).
type responseControllerFlusher struct {
	rc *http.ResponseController
}

func (f responseControllerFlusher) Flush() {
	_ = f.rc.Flush()
}

func streamRequested(args map[string]any) bool {
	v, ok := args["stream"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func authFromRequest(r *http.Request) (auth.Mode, string) {
	if cn := mutualTLSCommonName(r); cn != "" {
		return auth.ModeMutualTLS, cn
	}

	header := r.Header.Get("Authorization")
	token, _ := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)

	switch strings.ToLower(r.Header.Get("X-Auth-Mode")) {
	case "passport":
		return auth.ModePassport, token
	case "none":
		return auth.ModeNone, ""
	default:
		return auth.ModePreSharedKey, token
	}
}

func mutualTLSCommonName(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName
}

func errorEnvelope(tr trace.Context, err error) *dispatch.Response {
	fe := fabricerr.Wrap(err, fabricerr.CodeInternalError)
	return &dispatch.Response{OK: false, Error: fe, Trace: tr}
}

func writeJSON(w http.ResponseWriter, resp *dispatch.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
