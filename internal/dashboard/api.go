package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dan-v/launchable/pkg/shared"
)

// Server serves the status API, a websocket feed and the status page
type Server struct {
	collector *StatusCollector
	mux       *http.ServeMux
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	interval  time.Duration
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewServer creates a status server pushing updates every interval
func NewServer(collector *StatusCollector, interval time.Duration) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	server := &Server{
		collector: collector,
		mux:       http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		clients:  make(map[*websocket.Conn]bool),
		interval: interval,
		shutdown: make(chan struct{}),
	}

	server.setupRoutes()
	go server.broadcastLoop()
	return server
}

// sameOrigin admits clients without an Origin header and browsers on a page
// served by this host. Other sites must not read the session output.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/output", s.handleOutput)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/", s.handleStaticFiles)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleStatus serves the complete status snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.collector.Collect())
}

// handleOutput serves only the recent remote output
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	lines := []OutputLine{}
	if s.collector.tail != nil {
		lines = s.collector.tail.Lines()
	}
	writeJSON(w, lines)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		shared.LogErrorf("Failed to encode status data: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleWebSocket registers a client for periodic status pushes
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		shared.LogErrorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	// Send the first snapshot before joining the broadcast set
	if data, err := json.Marshal(s.collector.Collect()); err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer s.removeClient(conn)

	// Reads only detect the client going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				shared.LogDebug("WebSocket client error: " + err.Error())
			}
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if s.clients[conn] {
		delete(s.clients, conn)
		conn.Close()
	}
	s.clientsMu.Unlock()
}

// broadcastLoop pushes a status snapshot to every client each interval
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcast()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Server) broadcast() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if len(s.clients) == 0 {
		return
	}

	data, err := json.Marshal(s.collector.Collect())
	if err != nil {
		shared.LogErrorf("Failed to encode status data: %v", err)
		return
	}

	for client := range s.clients {
		client.SetWriteDeadline(time.Now().Add(s.interval))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			shared.LogDebug("Dropping WebSocket client: " + err.Error())
			client.Close()
			delete(s.clients, client)
		}
	}
}

// Shutdown stops the broadcaster and closes all websocket clients
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.shutdown)

		s.clientsMu.Lock()
		for client := range s.clients {
			client.Close()
		}
		s.clients = make(map[*websocket.Conn]bool)
		s.clientsMu.Unlock()
	})
}

// Serve runs the status server on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, collector *StatusCollector) error {
	server := NewServer(collector, time.Second)
	defer server.Shutdown()

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	shared.LogNetworkf("Status page available at http://%s", addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
