package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolens/masterqc/internal/logging"
)

// Handler receives events for one topic. Handlers run on the publisher's
// goroutine and must return quickly; anything slow belongs behind a
// buffered channel (see StreamTopic).
type Handler func(Event)

type subscriber struct {
	id uint64
	fn Handler
}

// Bus is a synchronous in-process pub/sub bus with per-topic fan-out.
// Events for one topic are delivered in publish order. A handler panic is
// recovered and counted so one bad subscriber cannot take down a publisher.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	nextID atomic.Uint64
	logger *slog.Logger

	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerPanics atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]subscriber),
		logger: logging.ForService("events"),
	}
}

// Subscription identifies one handler registration.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.topic, s.id)
	s.bus = nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, fn Handler) *Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i := range subs {
		if subs[i].id == id {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Publish delivers the event to every subscriber of the topic, in
// subscription order, and returns how many handlers ran. The event's
// timestamp is filled in when zero.
func (b *Bus) Publish(topic string, ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	subs := b.topics[topic]
	// Snapshot so handlers may subscribe/unsubscribe without deadlock.
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for i := range snapshot {
		b.deliver(topic, snapshot[i], ev)
	}
	return len(snapshot)
}

func (b *Bus) deliver(topic string, sub subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.logger.Error("event handler panicked",
				"topic", topic,
				"subscriber_id", sub.id,
				"panic", r)
		}
	}()
	sub.fn(ev)
	b.delivered.Add(1)
}

// PublishJobUpdate fans a job event out to its job topic, its project topic
// when the event names one, and the catch-all topic, in that order.
func (b *Bus) PublishJobUpdate(ev Event) {
	if ev.Type == "" {
		ev.Type = TypeJobUpdate
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.JobID != "" {
		b.Publish(TopicJob(ev.JobID), ev)
	}
	if ev.ProjectID != "" {
		b.Publish(TopicProject(ev.ProjectID), ev)
	}
	b.Publish(TopicAll, ev)
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subscribers := 0
	for _, subs := range b.topics {
		subscribers += len(subs)
	}
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerPanics: b.handlerPanics.Load(),
		Subscribers:   subscribers,
	}
}
