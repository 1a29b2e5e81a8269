// Package httpapi implements the HTTP surface (C10): a minimal
// JSON-over-HTTP front door over the dispatch core. A single POST
// endpoint accepts {name, arguments} and returns the uniform
// {ok, result|error, trace} envelope; when arguments.stream is true and
// the target capability supports it, the response is promoted to a
// server-sent event stream instead. Thin GET endpoints expose the
// aggregate health snapshot.
//
// The surface is plain net/http, mirroring the teacher's own
// runtime/a2a server: a hand-wired multiplexer, not a third-party router.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/aethara/fabric-gateway/dispatch"
	"github.com/aethara/fabric-gateway/runtime/agent/telemetry"
)

// Server wraps a dispatch.Dispatcher with the HTTP transport spec.md §4.9
// and §6 describe.
type Server struct {
	dispatcher *dispatch.Dispatcher
	logger     telemetry.Logger

	addr       string
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server's structured logger. Defaults to a
// no-op logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer constructs an HTTP surface bound to addr (host:port, passed
// to http.Server.Addr) and routing every request through dispatcher.
func NewServer(addr string, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     telemetry.NewNoopLogger(),
		addr:       addr,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler builds the request multiplexer. It is exported separately from
// Run so tests can exercise the surface with httptest.NewServer/NewRequest
// without binding a real listener.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /statusz", s.handleStatusz)

	var handler http.Handler = mux
	handler = log.HTTP(ctx)(handler)
	return handler
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts the server down gracefully (mirroring the teacher's own
// handleHTTPServer: a context-driven goroutine pair plus a bounded
// Shutdown). The returned error is whatever ListenAndServe or Shutdown
// reported, or nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info(ctx, "http server listening", "addr", s.addr)
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "shutting down http server", "addr", s.addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}
