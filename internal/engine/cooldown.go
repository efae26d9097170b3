package engine

import (
	"sync"
	"time"
)

// CooldownGate enforces a minimum interval between successive dispatched
// alerts for each zone, independently of other zones.
type CooldownGate struct {
	mu          sync.Mutex
	cooldownFor func(zoneID string) time.Duration
	lastAlert   map[string]time.Time
}

// NewCooldownGate creates a gate. cooldownFor resolves the effective
// cooldown for a zone (per-zone override or global default).
func NewCooldownGate(cooldownFor func(zoneID string) time.Duration) *CooldownGate {
	return &CooldownGate{
		cooldownFor: cooldownFor,
		lastAlert:   make(map[string]time.Time),
	}
}

// Allow reports whether a zone is clear to alert at the given time. True
// when the zone has never alerted or its cooldown has fully elapsed.
func (g *CooldownGate) Allow(zoneID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok := g.lastAlert[zoneID]
	if !ok {
		return true
	}
	return now.Sub(last) >= g.cooldownFor(zoneID)
}

// MarkDispatched stamps the last alert time for the zones that were
// actually dispatched. Called only after all gate checks for the alert
// have passed.
func (g *CooldownGate) MarkDispatched(zoneIDs []string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range zoneIDs {
		g.lastAlert[id] = now
	}
}
