package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeResult             EventType = "result"
	EventTypeWorkerRegistered   EventType = "worker_registered"
	EventTypeWorkerUnregistered EventType = "worker_unregistered"
	EventTypeWorkerEvicted      EventType = "worker_evicted"
)

const (
	TopicResults = "results"
	TopicWorkers = "workers"
)

type Event struct {
	Topic     string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: topic
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a topic
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[topic] = append(b.subs[topic], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[topic]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the topic
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers, ok := b.subs[e.Topic]
	if !ok {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking the dispatcher
			b.logger.Warn("event bus channel full, dropping event", "topic", e.Topic, "type", e.Type)
		}
	}
}

// Subscribers returns the number of live subscriptions on a topic.
func (b *EventBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
