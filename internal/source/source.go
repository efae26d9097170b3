// Package source feeds detection events from the upstream detector's
// WebSocket endpoint into the pipeline.
package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// Message types on the detector socket.
const (
	msgTypeFrame     = "frame"
	msgTypeDetection = "detection"
	msgTypeError     = "error"
	msgTypePing      = "ping"
	msgTypePong      = "pong"
)

// message is the union of everything the detector sends. Unused fields
// stay zero for other message types.
type message struct {
	Type           string  `json:"type"`
	FrameID        uint64  `json:"frame_id"`
	Timestamp      float64 `json:"timestamp"`
	Elevated       bool    `json:"elevated"`
	Boxes          []box   `json:"boxes"`
	ProcessingTime float64 `json:"processing_time"`
	Image          string  `json:"image"`
	ErrorType      string  `json:"error_type"`
	Message        string  `json:"message"`
}

type box struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Sink accepts detection events. *engine.Pipeline satisfies it.
type Sink interface {
	Offer(event model.DetectionEvent) bool
}

// Config configures the feed client.
type Config struct {
	URL          string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client maintains a connection to the detector, converting detection
// messages into pipeline events. Connection status transitions are
// recorded in the store so the dashboard can show them.
type Client struct {
	cfg   Config
	sink  Sink
	store *state.Store

	dialer *websocket.Dialer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	// lastFrame caches the most recent frame payload so detection events
	// can carry evidence for the snapshot handler.
	lastFrameID   uint64
	lastFrameJPEG []byte
}

// NewClient creates a feed client. It does not connect until Start.
func NewClient(cfg Config, sink Sink, store *state.Store) *Client {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		sink:  sink,
		store: store,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start launches the connect/read loop. Reconnects with exponential
// backoff between ReconnectMin and ReconnectMax.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(ctx)
}

// Stop disconnects and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.store.SetStatus(state.StatusDisconnected)

	backoff := c.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			logger.Warn("Source", "connect to %s failed: %v (retrying in %s)", c.cfg.URL, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.cfg.ReconnectMax)
			continue
		}

		logger.Info("Source", "connected to detector at %s", c.cfg.URL)
		c.store.SetStatus(state.StatusConnected)
		backoff = c.cfg.ReconnectMin

		c.readLoop(ctx, conn)
		conn.Close()
		c.store.SetStatus(state.StatusDisconnected)
	}
}

// readLoop consumes messages until the connection drops or ctx is done.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Source", "read failed: %v", err)
			}
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Error("Source", "malformed message: %v", err)
			continue
		}
		c.handle(conn, &msg)
	}
}

func (c *Client) handle(conn *websocket.Conn, msg *message) {
	switch msg.Type {
	case msgTypeFrame:
		c.handleFrame(msg)
	case msgTypeDetection:
		c.handleDetection(msg)
	case msgTypePing:
		pong, _ := json.Marshal(map[string]any{
			"type":           msgTypePong,
			"ping_timestamp": msg.Timestamp,
			"pong_timestamp": float64(time.Now().UnixNano()) / float64(time.Second),
		})
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
			logger.Warn("Source", "pong write failed: %v", err)
		}
	case msgTypeError:
		logger.Error("Source", "detector error (%s): %s", msg.ErrorType, msg.Message)
	default:
		logger.Debug("Source", "ignoring message type %q", msg.Type)
	}
}

func (c *Client) handleFrame(msg *message) {
	c.store.RecordFrameCaptured()
	if msg.Image == "" {
		return
	}
	jpeg, err := base64.StdEncoding.DecodeString(msg.Image)
	if err != nil {
		logger.Warn("Source", "frame %d: bad image payload: %v", msg.FrameID, err)
		return
	}
	c.mu.Lock()
	c.lastFrameID = msg.FrameID
	c.lastFrameJPEG = jpeg
	c.mu.Unlock()
	c.store.RecordFrameSent()
}

func (c *Client) handleDetection(msg *message) {
	event := model.DetectionEvent{
		FrameID:    msg.FrameID,
		Timestamp:  epochToTime(msg.Timestamp),
		Detections: make([]model.Detection, 0, len(msg.Boxes)),
	}
	// The detector timestamps when it sends the result, so round-trip
	// latency is measured from there.
	event.SentAt = event.Timestamp

	for _, b := range msg.Boxes {
		event.Detections = append(event.Detections, model.Detection{
			X1:         b.X1,
			Y1:         b.Y1,
			X2:         b.X2,
			Y2:         b.Y2,
			Confidence: b.Confidence,
			ClassID:    b.ClassID,
			ClassName:  b.ClassName,
		})
	}

	c.mu.Lock()
	if c.lastFrameID == msg.FrameID {
		event.FrameJPEG = c.lastFrameJPEG
	}
	c.mu.Unlock()

	c.sink.Offer(event)
}

func epochToTime(secs float64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(secs)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
