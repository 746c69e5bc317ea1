package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"riskcore/internal/ids"
	"riskcore/internal/ports"
)

const defaultQueueSize = 256

// Bus is an in-process pub/sub dispatcher. It is the one structure in the
// core touched by multiple concurrent producers (price feed, execution,
// operator signals). Each subscriber gets its own buffered channel so a
// slow or failed subscriber cannot affect the others.
type Bus struct {
	logger ports.Logger
	queue  chan Event

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int

	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

type subscriber struct {
	types map[Type]struct{} // empty means all types
	ch    chan Event
}

func (s *subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// NewBus creates a bus with a bounded publish queue and starts its
// dispatch loop. queueSize <= 0 selects the default.
func NewBus(queueSize int, logger ports.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bus{
		logger: logger,
		queue:  make(chan Event, queueSize),
		subs:   make(map[int]*subscriber),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Publish enqueues an event without blocking. The event is stamped with a
// ULID and the publish time. Returns false when the queue is full and the
// event was dropped.
func (b *Bus) Publish(evtType Type, payload any) bool {
	evt := Event{
		ID:      ids.New(),
		Type:    evtType,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	select {
	case b.queue <- evt:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn(context.Background(), "Event bus queue full, dropping event", map[string]interface{}{
			"type":         string(evtType),
			"droppedTotal": b.dropped.Load(),
		})
		return false
	}
}

// Subscribe registers a subscriber for the given event types (none means
// every type). The returned channel is buffered with the given size; a
// full subscriber buffer drops events for that subscriber only. The
// second return value unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{
		types: make(map[Type]struct{}, len(types)),
		ch:    make(chan Event, buffer),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Close under the write lock so no fanout send can race it.
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Dropped returns the number of events dropped at the publish queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the dispatch loop. Events already queued are delivered
// first. Publish after Close silently drops.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)
	})
}

func (b *Bus) dispatch() {
	for {
		select {
		case evt := <-b.queue:
			b.fanout(evt)
		case <-b.done:
			// Drain what was queued before shutdown.
			for {
				select {
				case evt := <-b.queue:
					b.fanout(evt)
				default:
					return
				}
			}
		}
	}
}

// fanout delivers to every current subscriber. Sends are non-blocking:
// a subscriber that cannot keep up loses events without holding back the
// dispatch loop or its peers.
func (b *Bus) fanout(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debug(context.Background(), "Subscriber buffer full, skipping delivery", map[string]interface{}{
				"type": string(evt.Type),
			})
		}
	}
}
