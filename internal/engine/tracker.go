// Package engine implements the alert decision core: per-zone temporal
// confirmation, per-zone cooldown suppression and ordered, failure-isolated
// dispatch to the configured alert handlers.
package engine

import (
	"sync"
	"time"
)

// zoneState is the runtime state of a single zone. Each zone owns its own
// lock; zones never share counters or cooldown timers.
type zoneState struct {
	mu          sync.Mutex
	consecutive int
	latched     bool
	lastAlert   time.Time
}

type zoneSet struct {
	zones map[string]*zoneState
}

func newZoneSet(zoneIDs []string) *zoneSet {
	set := &zoneSet{zones: make(map[string]*zoneState, len(zoneIDs))}
	for _, id := range zoneIDs {
		set.zones[id] = &zoneState{}
	}
	return set
}

// Tracker decides when a zone transitions from quiet to confirmed.
//
// Confirmation is edge-triggered: a zone confirms exactly on the frame its
// consecutive elevated counter first reaches the threshold, and cannot
// confirm again until a non-elevated frame resets it. When retrigger is
// enabled a zone that stays elevated keeps reporting confirmation and the
// cooldown gate alone decides when it may fire again.
type Tracker struct {
	set       *zoneSet
	threshold int
	retrigger bool
}

// NewTracker creates a tracker for the given zones.
func NewTracker(zoneIDs []string, threshold int, retrigger bool) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{
		set:       newZoneSet(zoneIDs),
		threshold: threshold,
		retrigger: retrigger,
	}
}

// Observe records one frame's elevated flag for a zone and reports whether
// the zone is confirmed on this frame. Unknown zones are ignored.
func (t *Tracker) Observe(zoneID string, elevated bool) bool {
	zs, ok := t.set.zones[zoneID]
	if !ok {
		return false
	}

	zs.mu.Lock()
	defer zs.mu.Unlock()

	if !elevated {
		zs.consecutive = 0
		zs.latched = false
		return false
	}

	zs.consecutive++
	if zs.consecutive == t.threshold && !zs.latched {
		zs.latched = true
		return true
	}
	if zs.latched && t.retrigger {
		return true
	}
	return false
}

// Consecutive returns the current consecutive elevated count for a zone.
func (t *Tracker) Consecutive(zoneID string) int {
	zs, ok := t.set.zones[zoneID]
	if !ok {
		return 0
	}
	zs.mu.Lock()
	defer zs.mu.Unlock()
	return zs.consecutive
}
