package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// subscription は購読者ごとの設定
type subscription struct {
	types []EventType // 空なら全イベント
}

func (s subscription) accepts(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus is a simple pub/sub event bus
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]subscription
	bufferSize  int
	published   atomic.Uint64
	dropped     atomic.Uint64
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer creates a bus whose subscriber channels hold size events
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{
		subscribers: make(map[chan Event]subscription),
		bufferSize:  size,
	}
}

// Subscribe returns a channel that receives events of the given types
// (all events when no type is given)
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[ch] = subscription{types: types}
	return ch
}

// Unsubscribe removes a subscriber channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish sends an event to all matching subscribers
// Non-blocking: if a subscriber's buffer is full, the event is dropped for that subscriber
// A nil bus discards the event
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, sub := range b.subscribers {
		if !sub.accepts(event.Type) {
			continue
		}
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Published returns the number of published events
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Dropped returns the number of deliveries dropped on full buffers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
