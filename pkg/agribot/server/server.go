// Package server exposes the webhook HTTP surface: the WPPConnect event
// endpoint and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrovoice/agribot/pkg/agribot/wpp"
)

// EventHandler consumes inbound webhook events.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *wpp.Event)
	Pending() int
}

// Server is the webhook HTTP server.
type Server struct {
	handler EventHandler
	logger  *slog.Logger
	httpSrv *http.Server
}

// New creates the server on the given listen address.
func New(addr string, handler EventHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler: handler,
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("webhook server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// handleWebhook accepts one gateway event. The gateway treats non-200
// responses as delivery failures and retries aggressively, so every
// response is 200; the status field reports what happened.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		s.respond(w, "ignored")
		return
	}

	var evt wpp.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		s.logger.Debug("webhook payload not decodable", "error", err)
		s.respond(w, "ignored")
		return
	}

	s.handler.HandleEvent(r.Context(), &evt)
	s.respond(w, "received")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"pending": s.handler.Pending(),
	})
}

func (s *Server) respond(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// logRequests logs one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "latency", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
