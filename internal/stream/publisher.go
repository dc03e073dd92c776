package stream

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/history"
	"github.com/homeops/opswatch/internal/logger"
	"github.com/homeops/opswatch/internal/observability"
	"github.com/homeops/opswatch/internal/ringbuf"
)

// Subscription interval bounds.
const (
	MinInterval = time.Second
	MaxInterval = 30 * time.Second
)

// eventLogCapacity bounds the events kept for incremental pushes. A
// subscriber that falls further behind is resynced with a snapshot.
const eventLogCapacity = 1024

type eventKind int

const (
	eventFiring eventKind = iota
	eventTransition
	eventMeta
)

type event struct {
	seq        uint64
	kind       eventKind
	firing     entities.AlertFiring
	transition health.Transition
	meta       history.MetaAlert
}

type entityEntry struct {
	view EntityView
	seq  uint64
}

// Publisher holds the latest engine state and pushes it to subscribers.
type Publisher struct {
	log     logger.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	seq      uint64
	entities map[string]*entityEntry
	events   *ringbuf.Ring[event]
	evicted  uint64 // seq of the newest event dropped from events
	recent   *ringbuf.Ring[entities.AlertFiring]
	meta     map[string]history.MetaAlert
	subs     map[*Subscription]struct{}
	closed   bool
}

// NewPublisher creates a publisher keeping cfg.RecentFirings firings for
// snapshots.
func NewPublisher(cfg conf.StreamSettings, log logger.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		log:      log.Module("stream"),
		metrics:  metrics,
		now:      time.Now,
		entities: make(map[string]*entityEntry),
		events:   ringbuf.New[event](eventLogCapacity),
		recent:   ringbuf.New[entities.AlertFiring](max(cfg.RecentFirings, 1)),
		meta:     make(map[string]history.MetaAlert),
		subs:     make(map[*Subscription]struct{}),
	}
}

// SetClock replaces the time source stamped on messages.
func (p *Publisher) SetClock(now func() time.Time) { p.now = now }

// UpdateEntities stores the latest entity views. Entities whose view did
// not change are not marked for the next push. Entities absent from views
// are kept as they are.
func (p *Publisher) UpdateEntities(views []EntityView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range views {
		if cur, ok := p.entities[v.ID]; ok {
			unchanged := cur.view.sameAs(v)
			cur.view = v
			if unchanged {
				continue
			}
			p.seq++
			cur.seq = p.seq
			continue
		}
		p.seq++
		p.entities[v.ID] = &entityEntry{view: v, seq: p.seq}
	}
}

// PublishFiring records a completed firing.
func (p *Publisher) PublishFiring(f entities.AlertFiring) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.Push(f)
	p.appendLocked(event{kind: eventFiring, firing: f})
}

// PublishTransition records a health state change.
func (p *Publisher) PublishTransition(t health.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendLocked(event{kind: eventTransition, transition: t})
}

// PublishMetaAlert records a raised or cleared meta-alert.
func (p *Publisher) PublishMetaAlert(m history.MetaAlert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Active() {
		p.meta[m.Kind] = m
	} else {
		delete(p.meta, m.Kind)
	}
	p.appendLocked(event{kind: eventMeta, meta: m})
}

func (p *Publisher) appendLocked(e event) {
	p.seq++
	e.seq = p.seq
	if old, dropped := p.events.Push(e); dropped {
		p.evicted = old.seq
	}
}

// Snapshot returns the full current state.
func (p *Publisher) Snapshot() Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Publisher) snapshotLocked() Message {
	msg := Message{
		Type:       TypeSnapshot,
		Seq:        p.seq,
		At:         p.now(),
		Status:     p.statusLocked(),
		Entities:   make([]EntityView, 0, len(p.entities)),
		MetaAlerts: p.activeMetaLocked(),
	}
	for _, e := range p.entities {
		msg.Entities = append(msg.Entities, e.view)
	}
	sortEntities(msg.Entities)

	msg.Firings = p.recent.Items()
	slices.Reverse(msg.Firings)
	return msg
}

// update builds the changes after cursor. ok is false when events after
// cursor were already evicted and the subscriber needs a snapshot.
func (p *Publisher) updateLocked(cursor uint64) (msg Message, ok bool) {
	msg = Message{
		Type:   TypeUpdate,
		Seq:    p.seq,
		At:     p.now(),
		Status: p.statusLocked(),
	}
	if cursor == p.seq {
		return msg, true
	}

	for _, e := range p.entities {
		if e.seq > cursor {
			v := e.view
			v.Window = nil
			msg.Entities = append(msg.Entities, v)
		}
	}
	sortEntities(msg.Entities)

	if p.evicted > cursor {
		return Message{}, false
	}
	events := p.events.Items()
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.seq <= cursor {
			break
		}
		switch e.kind {
		case eventFiring:
			msg.Firings = append(msg.Firings, e.firing)
		case eventTransition:
			msg.Transitions = append(msg.Transitions, e.transition)
		case eventMeta:
			msg.MetaAlerts = append(msg.MetaAlerts, e.meta)
		}
	}
	// Firings newest first; transitions and meta changes in order.
	slices.Reverse(msg.Transitions)
	slices.Reverse(msg.MetaAlerts)
	return msg, true
}

func (p *Publisher) statusLocked() string {
	if len(p.meta) > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (p *Publisher) activeMetaLocked() []history.MetaAlert {
	out := make([]history.MetaAlert, 0, len(p.meta))
	for _, m := range p.meta {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b history.MetaAlert) int { return a.RaisedAt.Compare(b.RaisedAt) })
	return out
}

func sortEntities(views []EntityView) {
	slices.SortFunc(views, func(a, b EntityView) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// Subscribers returns the number of open subscriptions.
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Subscribe opens a subscription pushing at most once per interval. The
// first message on C is always a full snapshot.
func (p *Publisher) Subscribe(interval time.Duration) (*Subscription, error) {
	if interval < MinInterval || interval > MaxInterval {
		return nil, errors.Newf("update interval %s outside %s-%s", interval, MinInterval, MaxInterval).
			Component("stream").
			Category(errors.CategoryValidation).
			Context("field", "interval_ms").
			Build()
	}
	return p.subscribe(interval)
}

func (p *Publisher) subscribe(interval time.Duration) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		pub:      p,
		interval: interval,
		c:        make(chan Message, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return nil, errors.NewStd("publisher closed")
	}
	snap := p.snapshotLocked()
	sub.cursor = snap.Seq
	sub.c <- snap
	p.subs[sub] = struct{}{}
	n := len(p.subs)
	p.mu.Unlock()

	p.metrics.SetStreamSubscribers(n)
	p.log.Debug("stream subscriber added",
		logger.Duration("interval", interval),
		logger.Int("subscribers", n))

	go sub.run()
	return sub, nil
}

func (p *Publisher) remove(sub *Subscription) {
	p.mu.Lock()
	delete(p.subs, sub)
	n := len(p.subs)
	p.mu.Unlock()
	p.metrics.SetStreamSubscribers(n)
}

// Close ends every subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	subs := make([]*Subscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Subscription delivers messages on C until closed.
type Subscription struct {
	pub      *Publisher
	interval time.Duration
	c        chan Message
	cursor   uint64 // owned by run

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the message channel. It is closed after Close.
func (s *Subscription) C() <-chan Message { return s.c }

// Interval returns the push interval.
func (s *Subscription) Interval() time.Duration { return s.interval }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription and waits for its push loop to exit. A
// push in progress is abandoned.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.pub.remove(s)
	})
}

func (s *Subscription) run() {
	defer close(s.done)
	defer close(s.c)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.push()
		}
	}
}

// push sends everything after the cursor. When the consumer has not read
// the previous message the cursor stays put and the next tick sends the
// combined changes.
func (s *Subscription) push() {
	s.pub.mu.RLock()
	msg, ok := s.pub.updateLocked(s.cursor)
	if !ok {
		msg = s.pub.snapshotLocked()
	}
	s.pub.mu.RUnlock()

	if msg.Type == TypeUpdate && msg.empty() {
		s.cursor = msg.Seq
		return
	}

	select {
	case s.c <- msg:
		s.cursor = msg.Seq
	case <-s.ctx.Done():
	default:
	}
}
