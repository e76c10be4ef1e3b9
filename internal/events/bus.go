package events

import (
	"sync"
)

// Topics published by jan-core components.
const (
	TopicMCPUpdated      = "mcp.updated"
	TopicSettingsUpdated = "settings.updated"
	TopicModelLoading    = "model.loading"
)

// Event is a single published notification.
type Event struct {
	Topic   string
	Payload any
}

// Subscription is a handle to an active subscription. Events arrive on C
// until Unsubscribe is called, after which C is closed.
type Subscription struct {
	C chan Event

	topic string
	bus   *Bus
	once  sync.Once
}

// Unsubscribe removes the subscription from the bus and closes C. Removal
// and close happen under the bus write lock so no publisher can be sending
// on C while it closes.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s)
	s.once.Do(func() { close(s.C) })
}

// Bus is an in-process publish/subscribe channel. Subscribers receive events
// on a buffered channel; a subscriber that falls behind drops events rather
// than blocking publishers.
type Bus struct {
	subs map[string][]*Subscription
	mu   sync.RWMutex
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a subscriber for a topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		C:     make(chan Event, 16),
		topic: topic,
		bus:   b,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers an event to all subscribers of its topic. The read lock
// is held across the sends: sends are non-blocking, and a channel can only
// close under the write lock, so a send never hits a closed channel.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, sub := range b.subs[topic] {
		select {
		case sub.C <- ev:
		default:
			// Slow subscriber, drop rather than stall the publisher.
		}
	}
}

// Close unsubscribes every subscriber. The bus is unusable afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.C) })
		}
	}
	b.subs = make(map[string][]*Subscription)
}

func (b *Bus) removeLocked(target *Subscription) {
	subs := b.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
