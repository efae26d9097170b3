package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/state"
)

const (
	sseKeepaliveInterval = 30 * time.Second
	wsWriteTimeout       = 10 * time.Second
	wsPingInterval       = 30 * time.Second
	alertLogTailLines    = 100
	snapshotListCap      = 100
	alertListCap         = 50
)

// Server exposes the monitoring API: JSON state endpoints, the snapshot
// gallery and two push transports (SSE and WebSocket) backed by the same
// broadcaster.
type Server struct {
	store       *state.Store
	snapshots   *state.SnapshotIndex
	broadcaster *Broadcaster
	alertLog    string
	upgrader    websocket.Upgrader
}

// NewServer wires the API around the given store and broadcaster.
// alertLog may be empty if the log file handler is disabled.
func NewServer(store *state.Store, snapshots *state.SnapshotIndex, b *Broadcaster, alertLog string) *Server {
	return &Server{
		store:       store,
		snapshots:   snapshots,
		broadcaster: b,
		alertLog:    alertLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshots", s.handleSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/api/alert_log", s.handleAlertLog).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/{filename}", s.handleSnapshotFile).Methods(http.MethodGet)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.Stats())
}

// handleAlerts returns recent alerts in ascending timestamp order.
// limit clamps to the history cap.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := alertListCap
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}
	writeJSON(w, map[string]any{"alerts": s.store.RecentAlerts(limit)})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"snapshots": s.snapshots.List(snapshotListCap)})
}

func (s *Server) handleSnapshotFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if !s.snapshots.Contains(name) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.snapshots.Dir(), name))
}

// handleAlertLog returns the tail of the alert log file as plain lines.
func (s *Server) handleAlertLog(w http.ResponseWriter, _ *http.Request) {
	if s.alertLog == "" {
		writeJSON(w, map[string]any{"log": []string{}})
		return
	}
	data, err := os.ReadFile(s.alertLog)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, map[string]any{"log": []string{}})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read alert log")
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > alertLogTailLines {
		lines = lines[len(lines)-alertLogTailLines:]
	}
	writeJSON(w, map[string]any{"log": lines})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.UIState())
}

// handleSSE streams broadcaster events as Server-Sent Events. A comment
// keepalive is written every 30s so idle proxies keep the stream open.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	logger.Info("Dashboard", "SSE viewer #%d connected from %s", id, r.RemoteAddr)

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("Dashboard", "SSE viewer #%d disconnected", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				logger.Error("Dashboard", "failed to encode %s event: %v", ev.Event, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleWebSocket delivers the same event stream over a WebSocket. The
// read loop exists only to notice client-initiated closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Dashboard", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, events := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	logger.Info("Dashboard", "websocket viewer #%d connected from %s", id, r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Dashboard", "websocket viewer #%d disconnected", id)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Warn("Dashboard", "websocket viewer #%d write failed: %v", id, err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Dashboard", "failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>ZoneWatch</title></head>
<body>
<h1>ZoneWatch</h1>
<ul>
<li><a href="/api/state">/api/state</a></li>
<li><a href="/api/stats">/api/stats</a></li>
<li><a href="/api/alerts">/api/alerts</a></li>
<li><a href="/api/snapshots">/api/snapshots</a></li>
<li><a href="/api/alert_log">/api/alert_log</a></li>
<li><a href="/api/events">/api/events</a> (SSE)</li>
</ul>
</body>
</html>
`
