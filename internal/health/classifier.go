// Package health derives a health state for every entity from its samples.
package health

import (
	"strings"
	"sync"
	"time"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/runtime"
	"github.com/homeops/opswatch/internal/sampler"
)

// State is an entity health state.
type State string

const (
	StateRunningHealthy   State = "running-healthy"
	StateRunningUnhealthy State = "running-unhealthy"
	StateRestarting       State = "restarting"
	StateStopped          State = "stopped"
	StateError            State = "error"
	StateUnreachable      State = "unreachable"
)

// MetricContainerStatus is the pseudo-metric rules use to match on State.
const MetricContainerStatus = "container_status"

// States lists every state in display order.
var States = []State{
	StateRunningHealthy,
	StateRunningUnhealthy,
	StateRestarting,
	StateStopped,
	StateError,
	StateUnreachable,
}

// ParseState matches a state name case-insensitively.
func ParseState(name string) (State, bool) {
	for _, s := range States {
		if strings.EqualFold(string(s), strings.TrimSpace(name)) {
			return s, true
		}
	}
	return "", false
}

// Transition is a state change of one entity.
type Transition struct {
	EntityID string    `json:"entity_id"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason"`
}

type entityHealth struct {
	state         State
	since         time.Time
	misses        int
	restartCount  int
	haveRestart   bool
	ceilingStreak int
}

// Classifier is safe for concurrent use.
type Classifier struct {
	unreachableAfter int
	memoryCeiling    float64

	mu       sync.Mutex
	entities map[string]*entityHealth
}

func New(cfg conf.HealthSettings) *Classifier {
	after := cfg.UnreachableAfter
	if after < 1 {
		after = 3
	}
	ceiling := cfg.MemoryCeilingPercent
	if ceiling <= 0 {
		ceiling = 98
	}
	return &Classifier{
		unreachableAfter: after,
		memoryCeiling:    ceiling,
		entities:         make(map[string]*entityHealth),
	}
}

func (c *Classifier) entity(id string) *entityHealth {
	e, ok := c.entities[id]
	if !ok {
		e = &entityHealth{state: StateUnreachable}
		c.entities[id] = e
	}
	return e
}

// Observe classifies a successful sample and reports a transition when the
// state changed.
func (c *Classifier) Observe(s sampler.MetricSample) (Transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entity(s.EntityID)
	e.misses = 0
	prev := e.state

	restarted := false
	if rc, ok := s.Value(runtime.MetricRestartCount); ok {
		n := int(rc)
		if e.haveRestart && n > e.restartCount {
			restarted = true
		}
		e.restartCount = n
		e.haveRestart = true
	}

	breached := false
	if mem, ok := s.Value(runtime.MetricMemoryPercent); ok && mem >= c.memoryCeiling {
		breached = true
		e.ceilingStreak++
	} else {
		e.ceilingStreak = 0
	}

	next, reason := c.classify(prev, s, restarted, breached, e.ceilingStreak)
	return c.move(e, s.EntityID, next, s.At, reason)
}

func (c *Classifier) classify(prev State, s sampler.MetricSample, restarted, breached bool, streak int) (State, string) {
	switch {
	case s.State == runtime.StateDead:
		return StateError, "runtime reports dead"
	case s.State == runtime.StateRestarting:
		return StateRestarting, "runtime reports restarting"
	case !s.Running:
		return StateStopped, "not running (" + s.State + ")"
	}

	if restarted && (prev == StateRunningHealthy || prev == StateRunningUnhealthy || prev == StateRestarting) {
		return StateRestarting, "restart count increased"
	}

	switch {
	case s.Health == runtime.HealthUnhealthy:
		return StateRunningUnhealthy, "health check unhealthy"
	case streak >= 2:
		return StateRunningUnhealthy, "memory above safety ceiling"
	case prev == StateRunningUnhealthy && breached:
		return StateRunningUnhealthy, "memory above safety ceiling"
	default:
		return StateRunningHealthy, "running"
	}
}

// Miss records a tick without a sample for the entity.
func (c *Classifier) Miss(entityID string, at time.Time) (Transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entity(entityID)
	e.misses++
	if e.misses < c.unreachableAfter {
		return Transition{}, false
	}
	return c.move(e, entityID, StateUnreachable, at, "no sample for consecutive ticks")
}

func (c *Classifier) move(e *entityHealth, id string, next State, at time.Time, reason string) (Transition, bool) {
	if next == e.state {
		return Transition{}, false
	}
	t := Transition{EntityID: id, From: e.state, To: next, At: at, Reason: reason}
	e.state = next
	e.since = at
	return t, true
}

// State returns the entity's state; unknown entities are unreachable.
func (c *Classifier) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entities[id]; ok {
		return e.state
	}
	return StateUnreachable
}

// Since returns when the entity entered its current state.
func (c *Classifier) Since(id string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entities[id]; ok {
		return e.since
	}
	return time.Time{}
}

// Snapshot returns a copy of every entity's state.
func (c *Classifier) Snapshot() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.entities))
	for id, e := range c.entities {
		out[id] = e.state
	}
	return out
}

// Counts returns the number of entities per state.
func (c *Classifier) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(States))
	for _, e := range c.entities {
		out[string(e.state)]++
	}
	return out
}
