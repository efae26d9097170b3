package source

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/pkg/model"
)

type captureSink struct {
	mu     sync.Mutex
	events []model.DetectionEvent
}

func (s *captureSink) Offer(event model.DetectionEvent) bool {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return true
}

func (s *captureSink) wait(t *testing.T, n int) []model.DetectionEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.events) >= n {
			out := make([]model.DetectionEvent, len(s.events))
			copy(out, s.events)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeDetector is a WebSocket endpoint that pushes scripted messages to
// the first client and records what it receives back.
type fakeDetector struct {
	upgrader websocket.Upgrader
	messages []any

	mu       sync.Mutex
	received []map[string]any
}

func (d *fakeDetector) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				d.mu.Lock()
				d.received = append(d.received, msg)
				d.mu.Unlock()
			}
		}
	}()
	for _, msg := range d.messages {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
	// Keep the connection open so the client doesn't enter reconnect.
	time.Sleep(2 * time.Second)
	conn.Close()
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClientConvertsDetectionMessages(t *testing.T) {
	detector := &fakeDetector{messages: []any{
		map[string]any{
			"type":      "detection",
			"frame_id":  7,
			"timestamp": 1756000000.5,
			"elevated":  true,
			"boxes": []map[string]any{
				{"x1": 10, "y1": 20, "x2": 110, "y2": 220, "confidence": 0.87, "class_id": 16, "class_name": "dog"},
			},
			"processing_time": 0.04,
		},
	}}
	ts := httptest.NewServer(http.HandlerFunc(detector.handler))
	defer ts.Close()

	sink := &captureSink{}
	store := state.NewStore(10)
	c := NewClient(Config{URL: wsURL(ts)}, sink, store)
	c.Start()
	defer c.Stop()

	events := sink.wait(t, 1)
	ev := events[0]
	if ev.FrameID != 7 {
		t.Fatalf("frame id = %d, want 7", ev.FrameID)
	}
	if len(ev.Detections) != 1 {
		t.Fatalf("detections = %d, want 1", len(ev.Detections))
	}
	d := ev.Detections[0]
	if d.X1 != 10 || d.Y2 != 220 || d.ClassName != "dog" || d.Confidence != 0.87 {
		t.Fatalf("detection = %+v", d)
	}
	if ev.Timestamp.Unix() != 1756000000 {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestClientAttachesFramePayload(t *testing.T) {
	jpegBytes := []byte{0xff, 0xd8, 0xff, 0xd9}
	detector := &fakeDetector{messages: []any{
		map[string]any{
			"type":      "frame",
			"frame_id":  3,
			"timestamp": 1756000001.0,
			"image":     base64.StdEncoding.EncodeToString(jpegBytes),
		},
		map[string]any{
			"type":      "detection",
			"frame_id":  3,
			"timestamp": 1756000001.1,
			"boxes":     []map[string]any{},
		},
	}}
	ts := httptest.NewServer(http.HandlerFunc(detector.handler))
	defer ts.Close()

	sink := &captureSink{}
	store := state.NewStore(10)
	c := NewClient(Config{URL: wsURL(ts)}, sink, store)
	c.Start()
	defer c.Stop()

	events := sink.wait(t, 1)
	if string(events[0].FrameJPEG) != string(jpegBytes) {
		t.Fatalf("frame payload not attached to matching detection")
	}
	if got := store.Stats().FramesCaptured; got != 1 {
		t.Fatalf("frames_captured = %d, want 1", got)
	}
}

func TestClientReportsConnectionStatus(t *testing.T) {
	detector := &fakeDetector{}
	ts := httptest.NewServer(http.HandlerFunc(detector.handler))

	store := state.NewStore(10)
	c := NewClient(Config{URL: wsURL(ts), ReconnectMin: 10 * time.Millisecond}, &captureSink{}, store)
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for store.Status() != state.StatusConnected {
		if time.Now().After(deadline) {
			t.Fatalf("never reported connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Stop()
	ts.Close()
	if store.Status() != state.StatusDisconnected {
		t.Fatalf("status = %q after stop, want disconnected", store.Status())
	}
}

func TestClientAnswersPing(t *testing.T) {
	detector := &fakeDetector{messages: []any{
		map[string]any{"type": "ping", "timestamp": 1756000002.0},
	}}
	ts := httptest.NewServer(http.HandlerFunc(detector.handler))
	defer ts.Close()

	store := state.NewStore(10)
	c := NewClient(Config{URL: wsURL(ts)}, &captureSink{}, store)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		detector.mu.Lock()
		for _, msg := range detector.received {
			if msg["type"] == "pong" {
				if msg["ping_timestamp"] != 1756000002.0 {
					detector.mu.Unlock()
					t.Fatalf("pong echoes wrong ping timestamp: %v", msg)
				}
				detector.mu.Unlock()
				return
			}
		}
		detector.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("no pong received")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientReconnects(t *testing.T) {
	var mu sync.Mutex
	connections := 0

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()
		if n == 1 {
			// Drop the first connection immediately.
			conn.Close()
			return
		}
		time.Sleep(2 * time.Second)
		conn.Close()
	}))
	defer ts.Close()

	store := state.NewStore(10)
	c := NewClient(Config{
		URL:          wsURL(ts),
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, &captureSink{}, store)
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := connections
		mu.Unlock()
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect after a dropped connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
