// Package server exposes the scheduler to operators: JSON-RPC 2.0 over HTTP
// and WebSocket, push notifications for post and sync events, and a
// liveness endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/slotpost/slotpost/pkg/logger"
)

// Server is the admin HTTP surface.
type Server struct {
	log      logger.Logger
	rpc      *RPCServer
	notifier *RPCNotifier
	router   chi.Router
	running  func() bool
	started  time.Time

	mu     sync.Mutex
	server *http.Server
}

// NewServer wires the router. notifier may be shared with the scheduler so
// that its events reach WebSocket clients; a nil notifier gets a private one.
func NewServer(l logger.Logger, cfg *RPCConfig, sched Scheduler, led LedgerReader, notifier *RPCNotifier) *Server {
	l = logger.OrNop(l)
	if notifier == nil {
		notifier = NewRPCNotifier(l)
	}
	s := &Server{
		log:      l,
		rpc:      NewRPCServer(cfg, sched, led),
		notifier: notifier,
		started:  time.Now(),
	}
	if sched != nil {
		s.running = func() bool { return sched.Status().Running }
	}
	s.router = s.routes(cfg.Secret)
	return s
}

func (s *Server) routes(secret string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Method(http.MethodPost, "/jsonrpc", requireToken(secret, s.rpc.bridge))
	r.Method(http.MethodGet, "/jsonrpc/ws", requireTokenOrQuery(secret, http.HandlerFunc(s.handleWebSocket)))
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notifier returns the push notifier used by WebSocket sessions.
func (s *Server) Notifier() *RPCNotifier {
	return s.notifier
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.running != nil {
		body["scheduler_running"] = s.running()
	}
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("server: listening on %s", l.Addr())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the RPC bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	defer s.rpc.Close()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
