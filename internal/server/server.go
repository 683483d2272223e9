// Package server exposes the interview engine's HTTP REST API to the UI.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/session"
	"github.com/jonathan/interview-orchestrator/internal/store"
)

// Server wires the session manager and stores behind the HTTP surface.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
	rubrics    store.RubricStore
	candidates store.CandidateStore
	autoReply  *agents.AutoReplyAgent
	logger     zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	Port       int
	Sessions   *session.Manager
	Rubrics    store.RubricStore
	Candidates store.CandidateStore
	AutoReply  *agents.AutoReplyAgent
	Logger     zerolog.Logger
}

// New creates a server instance and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		sessions:   cfg.Sessions,
		rubrics:    cfg.Rubrics,
		candidates: cfg.Candidates,
		autoReply:  cfg.AutoReply,
		logger:     cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/start", s.handleStart)
	mux.HandleFunc("POST /sessions/turn", s.handleTurn)
	mux.HandleFunc("GET /sessions/{id}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Run() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		errCh <- s.httpServer.Serve(listener)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-stop:
		s.logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// errorBody is the uniform error payload: a short reason code and a
// human-readable message. Provider error bodies and prompt text never
// appear here.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	s.jsonResponse(w, status, errorBody{Error: code, Message: message})
}
