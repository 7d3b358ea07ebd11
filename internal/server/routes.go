package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/origin"
	"github.com/BioHazard786/callrelay/internal/signaling"
	"github.com/BioHazard786/callrelay/internal/version"
)

// Status is the body of GET /status.
type Status struct {
	Version string             `json:"version"`
	Hub     signaling.Snapshot `json:"hub"`
	Metrics metrics.Snapshot   `json:"metrics"`
}

// ICEServersResponse is the body of GET /ice-servers.
type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.ServeWs)
	mux.HandleFunc("GET /ice-servers", s.handleICEServers)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return mux
}

func (s *Server) newUpgrader() websocket.Upgrader {
	allowed := s.cfg.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		Subprotocols:    signaling.Subprotocols,
		CheckOrigin: func(r *http.Request) bool {
			ok := origin.IsAllowed(r.Header.Get("Origin"), allowed)
			if !ok {
				s.log.Warn("rejected websocket origin", "origin", r.Header.Get("Origin"), "addr", r.RemoteAddr)
			}
			return ok
		},
	}
}

// ServeWs upgrades the request and hands the connection to the hub.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes the HTTP error itself.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("failed to upgrade connection", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := signaling.NewClient(s.hub, conn, signaling.ClientOptions{
		MaxMessageSize:    s.cfg.MaxMessageBytes,
		SendBuffer:        s.cfg.SendBuffer,
		MessagesPerSecond: s.cfg.MessagesPerSecond,
		MessageBurst:      s.cfg.MessageBurst,
		Logger:            s.log,
	})

	if !s.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// The pumps own the connection from here on.
	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, ICEServersResponse{ICEServers: s.cfg.ICEServers()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, Status{
		Version: version.Version,
		Hub:     snap,
		Metrics: s.metrics.Snapshot(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	err = s.metrics.WritePrometheus(w,
		metrics.Gauge{Name: "callrelay_participants", Help: "Participants that have joined the app.", Value: int64(snap.Participants)},
		metrics.Gauge{Name: "callrelay_participants_in_call", Help: "Participants currently in a room.", Value: int64(snap.InCall)},
		metrics.Gauge{Name: "callrelay_rooms_open", Help: "Open rooms.", Value: int64(snap.Rooms)},
		metrics.Gauge{Name: "callrelay_calls_pending", Help: "Random calls awaiting an answer.", Value: int64(snap.PendingCalls)},
	)
	if err != nil {
		s.log.Debug("write metrics", "err", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", "err", err)
	}
}
