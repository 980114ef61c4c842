// Package statusserver pushes live link-status snapshots to connected
// websocket clients: one read goroutine per connection, JSON text
// frames, write errors prune the client.
package statusserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/openairlink/airlink/internal/config"
)

// maxClients bounds concurrent status connections; a link monitor is a
// handful of dashboards, not a public endpoint.
const maxClients = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is one point-in-time link status push.
type Snapshot struct {
	Mode      string  `json:"mode"`
	Failsafe  bool    `json:"failsafe"`
	RSSIDBm   float64 `json:"rssi_dbm"`
	SNRDB     float64 `json:"snr_db"`
	LinkQuality uint8 `json:"link_quality"`
	At        string  `json:"at"`
}

// Server fans a Snapshot out to every connected websocket client.
type Server struct {
	addr string
	log  *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New prepares a status server; call Serve to start listening.
func New(cfg *config.Status) *Server {
	return &Server{
		addr:    cfg.ListenAddr,
		log:     slog.With("func", "statusserver.Server", "package", "statusserver"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Serve blocks, running the HTTP listener until it errors or the
// process exits. Run it in its own goroutine.
func (s *Server) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleWebSocket)

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("status server listening", "addr", s.addr)
	return http.Serve(netutil.LimitListener(l, maxClients), mux)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("status client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// The link only pushes; a client has nothing useful to say back, so
	// this just blocks on reads to detect the connection closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes snap to every connected client, dropping any that
// fail to write: each is closed and removed from the client set here.
func (s *Server) Broadcast(snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("failed to encode status snapshot", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.log.Debug("dropping status client after write error", "error", err)
			go conn.Close()
			delete(s.clients, conn)
		}
	}
}
