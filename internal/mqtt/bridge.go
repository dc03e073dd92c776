package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/homeops/opswatch/internal/datastore/entities"
	"github.com/homeops/opswatch/internal/health"
	"github.com/homeops/opswatch/internal/logger"
)

// Engine availability payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	publishTimeout = 5 * time.Second
	// queueSize bounds the messages waiting for the publish worker.
	queueSize = 512
)

// FiringsTopic is where completed firings are published.
func FiringsTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/firings"
}

// EntityStateTopic is the retained health state topic of one entity.
func EntityStateTopic(prefix, entityID string) string {
	return strings.TrimSuffix(prefix, "/") + "/entities/" + topicSegment(entityID) + "/state"
}

// StatusTopic carries the engine's online/offline status.
func StatusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

// topicSegment strips characters that would change the topic structure.
func topicSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}

// StatePayload is published on an entity's state topic.
type StatePayload struct {
	EntityID string       `json:"entity_id"`
	State    health.State `json:"state"`
	Previous health.State `json:"previous"`
	Reason   string       `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

type outbound struct {
	topic   string
	payload []byte
	retain  bool
}

// Bridge publishes engine events to MQTT. Publish failures are logged;
// they never fail the pipeline. The Queue methods hand messages to a single
// worker, so a slow broker never stalls the caller and per-topic order is
// kept.
type Bridge struct {
	client Client
	prefix string
	log    logger.Logger

	queue  chan outbound
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

func NewBridge(client Client, prefix string, log logger.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client: client,
		prefix: prefix,
		log:    log.Module("mqtt"),
		queue:  make(chan outbound, queueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the publish worker.
func (b *Bridge) Start() {
	b.startOnce.Do(func() { go b.run() })
}

func (b *Bridge) run() {
	defer close(b.done)
	for msg := range b.queue {
		_ = b.publish(b.ctx, msg.topic, msg.payload, msg.retain)
	}
}

// Close stops accepting queued messages and waits until the worker has
// published what is left. When ctx ends first the remaining messages are
// abandoned and ctx.Err() is returned.
func (b *Bridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
	b.Start()
	defer b.cancel()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.cancel()
		<-b.done
		return ctx.Err()
	}
}

// QueueFiring queues f for the firings topic.
func (b *Bridge) QueueFiring(f entities.AlertFiring) {
	payload, err := json.Marshal(f)
	if err != nil {
		b.log.Warn("mqtt payload encoding failed", logger.String("firing_id", f.ID), logger.Error(err))
		return
	}
	b.enqueue(outbound{topic: FiringsTopic(b.prefix), payload: payload})
}

// QueueTransition queues the entity's new state for its retained topic.
func (b *Bridge) QueueTransition(t health.Transition) {
	payload, err := statePayload(t)
	if err != nil {
		b.log.Warn("mqtt payload encoding failed", logger.String("entity", t.EntityID), logger.Error(err))
		return
	}
	b.enqueue(outbound{topic: EntityStateTopic(b.prefix, t.EntityID), payload: payload, retain: true})
}

func (b *Bridge) enqueue(msg outbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- msg:
	default:
		b.log.Warn("mqtt queue full, dropping message", logger.String("topic", msg.topic))
	}
}

// PublishFiring publishes f as JSON to the firings topic.
func (b *Bridge) PublishFiring(ctx context.Context, f entities.AlertFiring) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.publish(ctx, FiringsTopic(b.prefix), payload, false)
}

// PublishTransition publishes the new state retained so late subscribers
// see the current state.
func (b *Bridge) PublishTransition(ctx context.Context, t health.Transition) error {
	payload, err := statePayload(t)
	if err != nil {
		return err
	}
	return b.publish(ctx, EntityStateTopic(b.prefix, t.EntityID), payload, true)
}

func statePayload(t health.Transition) ([]byte, error) {
	return json.Marshal(StatePayload{
		EntityID: t.EntityID,
		State:    t.To,
		Previous: t.From,
		Reason:   t.Reason,
		At:       t.At,
	})
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.PublishWithRetain(ctx, topic, string(payload), retain); err != nil {
		b.log.Warn("mqtt publish failed", logger.String("topic", topic), logger.Error(err))
		return err
	}
	return nil
}
