package state

import "github.com/dyc3/ott-balancer/internal/v1/protocol"

// Room is the balancer-side record for one loaded room (§3). It is born
// when first loaded -- explicitly by a monolith, or implicitly on first
// client join against an unconfirmed locator -- and dies on explicit
// unload, gossip reconciliation dropping it, or its monolith's eviction.
type Room struct {
	Name     protocol.RoomName
	Clients  map[protocol.ClientId]struct{}
	Metadata *protocol.RoomMetadata // nil until Loaded/Gossip confirms it

	subscribers map[protocol.ClientId]chan []byte
}

func newRoom(name protocol.RoomName) *Room {
	return &Room{
		Name:        name,
		Clients:     make(map[protocol.ClientId]struct{}),
		subscribers: make(map[protocol.ClientId]chan []byte),
	}
}

// subscribe registers a fresh broadcast channel for a client joining this
// room. Must be called with the Context write lock held (room mutation).
func (r *Room) subscribe(id protocol.ClientId) chan []byte {
	ch := make(chan []byte, dataQueueSize)
	r.subscribers[id] = ch
	return ch
}

// unsubscribe drops a client's broadcast channel without closing it --
// the client session owns its lifetime and may still be draining it.
func (r *Room) unsubscribe(id protocol.ClientId) {
	delete(r.subscribers, id)
}

// broadcast fans raw bytes out to every subscriber, dropping for any
// subscriber whose queue is full rather than blocking the room (§5, §8
// scenario 6). Safe under a read lock: it only reads r.subscribers and
// performs non-blocking sends.
func (r *Room) broadcast(payload []byte) {
	for _, ch := range r.subscribers {
		select {
		case ch <- payload:
		default:
		}
	}
}

// UserCount returns the number of clients currently in this room.
func (r *Room) UserCount() int { return len(r.Clients) }
