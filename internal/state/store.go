// Package state holds the authoritative in-memory dashboard state: running
// statistics, bounded alert history and the snapshot retention index.
package state

import (
	"time"

	"github.com/nodiggity/zonewatch/internal/logger"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// Listener receives change notifications after a store mutation commits.
// Callbacks run outside the store lock and must not block.
type Listener interface {
	StatsUpdated(stats model.Stats)
	AlertRecorded(alert model.Alert)
	StatusChanged(status string)
}

// Detection backend connection states.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// UIState is a point-in-time copy of the full dashboard state.
type UIState struct {
	Stats            model.Stats   `json:"stats"`
	RecentAlerts     []model.Alert `json:"recent_alerts"`
	ServerStatus     string        `json:"server_status"`
	ConnectedClients int           `json:"connected_clients"`
	LastUpdate       time.Time     `json:"last_update"`
}

const (
	// latencyWindow bounds the rolling latency sample used for the
	// average latency gauge.
	latencyWindow = 100

	// mutateWait bounds how long a mutation waits for the store lock
	// before the operation is dropped rather than stalling the pipeline.
	mutateWait = 250 * time.Millisecond
)

// Store is the single authoritative state record. All mutations are
// serialized through its lock; reads return copies so callers never
// observe a partially-applied update.
type Store struct {
	mu rwTryMutex

	start      time.Time
	historyCap int

	framesCaptured     uint64
	framesSent         uint64
	detectionsReceived uint64
	elevatedCount      uint64
	alertsTriggered    uint64

	history []model.Alert

	latencies []time.Duration

	fpsSince   time.Time
	fpsCount   int
	currentFPS float64

	status      string
	viewerCount int
	lastUpdate  time.Time

	listener Listener
}

// NewStore creates a store with the given alert history cap.
func NewStore(historyCap int) *Store {
	if historyCap <= 0 {
		historyCap = 50
	}
	now := time.Now()
	return &Store{
		start:      now,
		historyCap: historyCap,
		fpsSince:   now,
		status:     StatusDisconnected,
		lastUpdate: now,
	}
}

// SetListener attaches the change listener. Call before the pipeline starts.
func (s *Store) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// RecordFrameCaptured counts one captured camera frame.
func (s *Store) RecordFrameCaptured() {
	s.mutate("RecordFrameCaptured", func() {
		s.framesCaptured++
	})
}

// RecordFrameSent counts one frame shipped to the detection backend.
func (s *Store) RecordFrameSent() {
	s.mutate("RecordFrameSent", func() {
		s.framesSent++
	})
}

// RecordDetection counts one processed detection event. latency is the
// round-trip time for the frame, zero when unknown.
func (s *Store) RecordDetection(count int, elevated bool, latency time.Duration) {
	s.mutate("RecordDetection", func() {
		s.detectionsReceived++
		if elevated {
			s.elevatedCount++
		}
		if latency > 0 {
			s.latencies = append(s.latencies, latency)
			if len(s.latencies) > latencyWindow {
				s.latencies = s.latencies[1:]
			}
		}

		s.fpsCount++
		if elapsed := time.Since(s.fpsSince); elapsed >= time.Second {
			s.currentFPS = float64(s.fpsCount) / elapsed.Seconds()
			s.fpsCount = 0
			s.fpsSince = time.Now()
		}
	})
}

// RecordAlert appends an alert to the bounded history. History stays in
// non-decreasing timestamp order; the oldest entries are truncated from
// the front once the cap is exceeded.
func (s *Store) RecordAlert(alert model.Alert) {
	var recorded bool
	s.mutate("RecordAlert", func() {
		s.alertsTriggered++
		s.history = append(s.history, alert)
		if len(s.history) > s.historyCap {
			s.history = s.history[len(s.history)-s.historyCap:]
		}
		recorded = true
	})
	if recorded {
		if l := s.listenerRef(); l != nil {
			l.AlertRecorded(alert)
		}
	}
}

// SetStatus updates the detection backend connection status.
func (s *Store) SetStatus(status string) {
	var changed bool
	s.mutate("SetStatus", func() {
		if s.status != status {
			s.status = status
			changed = true
		}
	})
	if changed {
		if l := s.listenerRef(); l != nil {
			l.StatusChanged(status)
		}
	}
}

// SetViewerCount records the number of connected live viewers.
func (s *Store) SetViewerCount(n int) {
	s.mutate("SetViewerCount", func() {
		s.viewerCount = n
	})
}

// Stats returns a copy of the current statistics.
func (s *Store) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() model.Stats {
	var avgLatency float64
	if len(s.latencies) > 0 {
		var sum time.Duration
		for _, d := range s.latencies {
			sum += d
		}
		avgLatency = float64(sum.Milliseconds()) / float64(len(s.latencies))
	}

	return model.Stats{
		FramesCaptured:     s.framesCaptured,
		FramesSent:         s.framesSent,
		DetectionsReceived: s.detectionsReceived,
		ElevatedCount:      s.elevatedCount,
		AlertsTriggered:    s.alertsTriggered,
		CurrentFPS:         s.currentFPS,
		AvgLatencyMs:       avgLatency,
		UptimeSeconds:      time.Since(s.start).Seconds(),
	}
}

// RecentAlerts returns up to limit alerts, oldest first. limit is clamped
// to the history cap.
func (s *Store) RecentAlerts(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.historyCap {
		limit = s.historyCap
	}
	start := 0
	if len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]model.Alert, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Status returns the detection backend connection status.
func (s *Store) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// UIState returns a consistent copy of the complete dashboard state.
func (s *Store) UIState() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]model.Alert, len(s.history))
	copy(alerts, s.history)

	return UIState{
		Stats:            s.statsLocked(),
		RecentAlerts:     alerts,
		ServerStatus:     s.status,
		ConnectedClients: s.viewerCount,
		LastUpdate:       s.lastUpdate,
	}
}

// mutate applies fn under the write lock, waiting at most mutateWait for
// exclusivity. On contention the single operation is dropped with an error
// log; the process never stalls on store contention. Successful mutations
// notify the listener with a fresh stats copy.
func (s *Store) mutate(op string, fn func()) {
	if !s.mu.LockTimeout(mutateWait) {
		logger.Error("StateStore", "%s dropped: could not acquire store lock within %v", op, mutateWait)
		return
	}
	fn()
	s.lastUpdate = time.Now()
	stats := s.statsLocked()
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.StatsUpdated(stats)
	}
}

func (s *Store) listenerRef() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}
