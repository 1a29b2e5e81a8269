package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/aethara/fabric-gateway/dispatch"
)

// handleHealthz is a thin adapter over fabric.health (§4.8): it reports
// 200 with the aggregate snapshot body when the registry answers, and 503
// with the error envelope otherwise, matching common health-check
// convention (spec.md §6 CLI surface note: "non-zero on startup failure").
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Op: "fabric.health"})
	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStatusz is an alias for handleHealthz kept as a separate route so
// an embedder's load balancer and its operator dashboard can point at
// distinct paths without coupling their semantics.
func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	s.handleHealthz(w, r)
}
