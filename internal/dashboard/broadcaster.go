// Package dashboard serves the live monitoring surface: the REST API,
// the push event fanout and the snapshot gallery.
package dashboard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/internal/metrics"
	"github.com/nodiggity/zonewatch/internal/state"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// Push event types delivered to viewers.
const (
	EventInitialState = "initial_state"
	EventStatsUpdate  = "stats_update"
	EventNewAlert     = "new_alert"
	EventStatusUpdate = "status_update"
)

// Event is the envelope delivered to every viewer, over either transport.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// viewerQueueSize bounds each viewer's delivery queue. On overflow the
// oldest queued event is dropped in favor of the new one, so a stalled
// viewer sees a gap rather than stalling the writer. Known tradeoff:
// slow viewers can miss intermediate stats updates.
const viewerQueueSize = 16

// Broadcaster fans state changes out to connected viewers. It implements
// state.Listener: alert and status changes are pushed immediately, stats
// changes are coalesced and flushed on a ticker.
type Broadcaster struct {
	mu      sync.Mutex
	viewers map[int]chan Event
	nextID  int
	stopped bool

	store    *state.Store
	metrics  *metrics.Metrics
	interval time.Duration

	statsDirty atomic.Bool
	stop       chan struct{}
}

// NewBroadcaster creates a broadcaster and attaches it to the store.
func NewBroadcaster(store *state.Store, m *metrics.Metrics, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	b := &Broadcaster{
		viewers:  make(map[int]chan Event),
		store:    store,
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
	}
	store.SetListener(b)
	return b
}

// Subscribe registers a new viewer. The returned channel first delivers
// one initial_state event reflecting the store at connection time, then
// only incremental events.
func (b *Broadcaster) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, viewerQueueSize)
	// Queued under the same lock broadcast() takes, so no incremental
	// event can precede the initial state.
	ch <- Event{Event: EventInitialState, Data: b.store.UIState()}
	b.viewers[id] = ch

	b.metrics.ViewersActive.Store(uint64(len(b.viewers)))
	b.metrics.ViewersTotal.Add(1)
	go b.store.SetViewerCount(len(b.viewers))

	logger.Debug("Broadcaster", "viewer #%d subscribed (total viewers: %d)", id, len(b.viewers))
	return id, ch
}

// Unsubscribe removes a viewer and closes its channel. Other viewers and
// the producer are unaffected.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.viewers[id]
	if !ok {
		return
	}
	close(ch)
	delete(b.viewers, id)

	b.metrics.ViewersActive.Store(uint64(len(b.viewers)))
	go b.store.SetViewerCount(len(b.viewers))

	logger.Debug("Broadcaster", "viewer #%d unsubscribed (remaining viewers: %d)", id, len(b.viewers))
}

// Start begins the coalesced stats flush loop.
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop halts the flush loop and disconnects all viewers.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.stopped {
		close(b.stop)
		b.stopped = true
		for id, ch := range b.viewers {
			close(ch)
			delete(b.viewers, id)
		}
	}
	b.mu.Unlock()
}

func (b *Broadcaster) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.statsDirty.Swap(false) {
				b.broadcast(Event{Event: EventStatsUpdate, Data: b.store.Stats()})
			}
		}
	}
}

// StatsUpdated implements state.Listener. Stats churn per frame, so the
// update is coalesced and flushed on the next tick.
func (b *Broadcaster) StatsUpdated(model.Stats) {
	b.statsDirty.Store(true)
}

// AlertRecorded implements state.Listener.
func (b *Broadcaster) AlertRecorded(alert model.Alert) {
	b.broadcast(Event{Event: EventNewAlert, Data: alert})
}

// StatusChanged implements state.Listener.
func (b *Broadcaster) StatusChanged(status string) {
	b.broadcast(Event{Event: EventStatusUpdate, Data: map[string]string{"status": status}})
}

func (b *Broadcaster) broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.viewers {
		select {
		case ch <- event:
		default:
			// Viewer queue full: drop its oldest event, keep the new one.
			select {
			case <-ch:
				b.metrics.ViewerQueueDrops.Add(1)
				logger.Debug("Broadcaster", "viewer #%d slow, dropped oldest queued event", id)
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
		b.metrics.EventsBroadcast.Add(1)
	}
}

// ViewerCount returns the number of connected viewers.
func (b *Broadcaster) ViewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}
