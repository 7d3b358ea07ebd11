// Package server exposes the signaling hub over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/signaling"
)

// Server serves /ws, /health, /ice-servers, /status and /metrics.
type Server struct {
	cfg      *config.Config
	hub      *signaling.Hub
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

// New builds a Server. The hub must be running before requests arrive.
func New(cfg *config.Config, hub *signaling.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = hub.Metrics()
	}
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		metrics: m,
		log:     logger,
	}
	s.upgrader = s.newUpgrader()
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe listens on the configured address. It returns nil after
// Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("signaling server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight HTTP handlers.
// Hijacked websocket connections are closed by stopping the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
