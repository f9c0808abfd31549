package events

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. Publish never
// blocks; events beyond the buffer are dropped for that subscriber.
const subscriberBuffer = 64

// Broadcaster fans events out to subscribers, filtered by event kind.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]map[string]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]map[string]struct{})}
}

// Subscribe registers a subscriber for the given kinds. With no kinds the
// subscriber receives every event. The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(kinds ...string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	var filter map[string]struct{}
	if len(kinds) > 0 {
		filter = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			filter[k] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to every matching subscriber. Non-blocking: events
// are dropped for slow consumers.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if filter != nil {
			if _, ok := filter[e.Kind]; !ok {
				continue
			}
		}
		select {
		case ch <- e:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Further Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
