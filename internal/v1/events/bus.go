// Package events is a process-wide observability bus (§4.7): the
// dispatcher publishes the outcome of each monolith message and the
// upstream bridges publish a marker for each inbound frame, and zero or
// more subscribers (currently just /api/state/stream) drain it. Publish never blocks the caller -- a slow
// or absent subscriber only ever loses its own events.
package events

import "sync"

// Event is a single observability record. Fields carries whatever the
// publisher thought was worth reporting; Kind names the event type so a
// subscriber can filter cheaply (e.g. "ws" for frame direction markers).
type Event struct {
	Kind   string
	Fields map[string]any
}

// Bus fans Publish calls out to every current Subscribe-r.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]chan Event
	nextID   int
	bufferSz int
}

// NewBus creates an empty bus. bufferSz bounds each subscriber's queue;
// Publish drops for a subscriber whose queue is full rather than block.
func NewBus(bufferSz int) *Bus {
	if bufferSz <= 0 {
		bufferSz = 64
	}
	return &Bus{subs: make(map[int]chan Event), bufferSz: bufferSz}
}

// Subscribe registers a new listener and returns its id (for
// Unsubscribe) and the channel it will receive events on.
func (b *Bus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSz)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener. The channel is closed so a ranging
// reader terminates.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans out an event to every subscriber, dropping for any whose
// queue is full.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// WSFrame publishes a WS frame direction marker: {event:"ws", node_id,
// direction:"tx"|"rx"} (§4.7).
func (b *Bus) WSFrame(nodeID string, direction string) {
	b.Publish(Event{Kind: "ws", Fields: map[string]any{
		"node_id":   nodeID,
		"direction": direction,
	}})
}
