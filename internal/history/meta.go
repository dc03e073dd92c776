package history

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Meta-alert kinds.
const (
	MetaHistoryUnreachable = "history-store-unreachable"
	MetaRuntimeUnreachable = "runtime-unreachable"
)

// MetaAlert is a systemic failure notice about the engine itself.
type MetaAlert struct {
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	RaisedAt  time.Time  `json:"raised_at"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
}

// Active reports whether the alert has not been cleared.
func (m MetaAlert) Active() bool { return m.ClearedAt == nil }

// MetaAlertBoard tracks at most one active meta-alert per kind and notifies
// a listener on every raise and clear.
type MetaAlertBoard struct {
	mu       sync.Mutex
	active   map[string]MetaAlert
	listener func(MetaAlert)
}

func NewMetaAlertBoard() *MetaAlertBoard {
	return &MetaAlertBoard{active: make(map[string]MetaAlert)}
}

// OnChange registers the listener. It is called without the board lock held.
func (b *MetaAlertBoard) OnChange(fn func(MetaAlert)) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

// Raise activates kind. It returns false when kind is already active.
func (b *MetaAlertBoard) Raise(kind, message string, at time.Time) bool {
	b.mu.Lock()
	if _, ok := b.active[kind]; ok {
		b.mu.Unlock()
		return false
	}
	m := MetaAlert{Kind: kind, Message: message, RaisedAt: at}
	b.active[kind] = m
	fn := b.listener
	b.mu.Unlock()

	if fn != nil {
		fn(m)
	}
	return true
}

// Clear deactivates kind. It returns false when kind was not active.
func (b *MetaAlertBoard) Clear(kind string, at time.Time) bool {
	b.mu.Lock()
	m, ok := b.active[kind]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.active, kind)
	cleared := at
	m.ClearedAt = &cleared
	fn := b.listener
	b.mu.Unlock()

	if fn != nil {
		fn(m)
	}
	return true
}

// IsActive reports whether kind is raised.
func (b *MetaAlertBoard) IsActive(kind string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[kind]
	return ok
}

// Active returns the raised meta-alerts, oldest first.
func (b *MetaAlertBoard) Active() []MetaAlert {
	b.mu.Lock()
	out := make([]MetaAlert, 0, len(b.active))
	for _, m := range b.active {
		out = append(out, m)
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(a, b MetaAlert) int {
		if c := a.RaisedAt.Compare(b.RaisedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return out
}
