package alerting

import (
	"sync"
	"time"
)

type cooldownKey struct {
	ruleID   string
	entityID string
}

// CooldownTracker holds the last firing time per (rule, entity). It lives in
// memory; the engine restores it from stored firings on startup.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: make(map[cooldownKey]time.Time)}
}

// TryFire records now as the last firing and returns true when the pair has
// never fired or its cooldown has elapsed. Otherwise it returns false and
// leaves the timestamp untouched. The check and the update are atomic.
func (c *CooldownTracker) TryFire(ruleID, entityID string, cooldown time.Duration, now time.Time) bool {
	key := cooldownKey{ruleID: ruleID, entityID: entityID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// Restore records at as the pair's last firing unless a later one is
// already known. It reports whether the entry changed.
func (c *CooldownTracker) Restore(ruleID, entityID string, at time.Time) bool {
	key := cooldownKey{ruleID: ruleID, entityID: entityID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && !at.After(last) {
		return false
	}
	c.last[key] = at
	return true
}

// LastFired returns the last firing time of the pair.
func (c *CooldownTracker) LastFired(ruleID, entityID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[cooldownKey{ruleID: ruleID, entityID: entityID}]
	return t, ok
}

// Forget drops every entry of a rule.
func (c *CooldownTracker) Forget(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.last {
		if k.ruleID == ruleID {
			delete(c.last, k)
		}
	}
}

// Len returns the number of tracked pairs.
func (c *CooldownTracker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
