// Package state holds the routing Context: the single source of truth
// for clients, monoliths, the room→locator map, and the per-region
// monolith index (§3, §4.4). The dispatcher is the only intended writer;
// everything else either reads through Context's exported methods or
// sends messages to the dispatcher (§3 invariants, §5).
package state

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/dyc3/ott-balancer/internal/v1/berror"
	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/selection"
	"go.uber.org/zap"
)

// Context is the shared routing state. All mutation methods take the
// write lock and complete without suspending on socket I/O; downstream
// notifications go through bounded, non-blocking channel sends so a
// wedged consumer can never stall a mutation (§5).
type Context struct {
	mu sync.RWMutex

	clients           map[protocol.ClientId]*Client
	monoliths         map[protocol.MonolithId]*Monolith
	locators          map[protocol.RoomName]protocol.RoomLocator
	monolithsByRegion map[string]map[protocol.MonolithId]struct{}

	policy selection.Policy
	region string
}

// ClientLink is what a client session uses to talk to the rest of the
// core (§4.4): a sender for its own traffic upstream, a receiver for its
// room's broadcasts, a receiver for messages addressed to it directly,
// and a receiver for a dispatcher-initiated close.
type ClientLink struct {
	ClientId  protocol.ClientId
	Upstream  chan<- ClientFrame
	Broadcast <-chan []byte
	Unicast   <-chan []byte
	Closing   <-chan CloseFrame
}

// NewContext creates an empty routing context using the given selection
// policy (§4.5) and the balancer's own configured region.
func NewContext(policy selection.Policy, region string) *Context {
	return &Context{
		clients:           make(map[protocol.ClientId]*Client),
		monoliths:         make(map[protocol.MonolithId]*Monolith),
		locators:          make(map[protocol.RoomName]protocol.RoomLocator),
		monolithsByRegion: make(map[string]map[protocol.MonolithId]struct{}),
		policy:            policy,
		region:            region,
	}
}

// AddMonolith registers a newly handshaken upstream connection.
func (c *Context) AddMonolith(id protocol.MonolithId, region string, conn discovery.ConnectionConfig, proxyPort uint16) *Monolith {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := newMonolith(id, region, conn, proxyPort)
	c.monoliths[id] = m
	if c.monolithsByRegion[region] == nil {
		c.monolithsByRegion[region] = make(map[protocol.MonolithId]struct{})
	}
	c.monolithsByRegion[region][id] = struct{}{}
	return m
}

// RemoveMonolith evicts a departed monolith: it is dropped from every
// index, every locator pointing at it is cleared, and every client whose
// room lived on it is closed with CloseAway (§4.4 eviction).
func (c *Context) RemoveMonolith(id protocol.MonolithId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.monoliths[id]
	if !ok {
		return
	}
	delete(c.monoliths, id)
	if bucket, ok := c.monolithsByRegion[m.Region]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(c.monolithsByRegion, m.Region)
		}
	}

	for name, room := range m.Rooms {
		if loc, ok := c.locators[name]; ok && loc.MonolithId == id {
			delete(c.locators, name)
		}
		for cid := range room.Clients {
			if cl, ok := c.clients[cid]; ok {
				c.closeClient(cl, protocol.CloseAway, protocol.CloseAwayReason)
				delete(c.clients, cid)
			}
		}
	}
}

// JoinClient implements §4.4's join-client algorithm: route to the
// room's existing monolith, or select one and provisionally claim the
// room; subscribe to the room's broadcast; admit the client; then send
// B2M.Join strictly after the subscription exists.
func (c *Context) JoinClient(id protocol.ClientId, room protocol.RoomName, token string) (*ClientLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var target *Monolith
	if loc, ok := c.locators[room]; ok {
		m, ok := c.monoliths[loc.MonolithId]
		if !ok {
			return nil, berror.New(berror.NotFound, "room locator points at a missing monolith")
		}
		target = m
	} else {
		candidates := c.candidatesLocked()
		if len(candidates) == 0 {
			return nil, berror.New(berror.NotFound, "no monoliths available")
		}
		chosen := c.policy.Select(room, candidates, c.region)
		m, ok := c.monoliths[chosen]
		if !ok {
			return nil, berror.New(berror.Fatal, "selection policy returned an unknown monolith")
		}
		target = m
		c.locators[room] = protocol.RoomLocator{MonolithId: target.Id, LoadEpoch: protocol.EpochUnconfirmed}
		target.Rooms[room] = newRoom(room)
	}

	r, ok := target.Rooms[room]
	if !ok {
		// Defensive: an established locator should always have a Room
		// record on its target (§3 invariants); recover rather than panic.
		r = newRoom(room)
		target.Rooms[room] = r
	}
	broadcastCh := r.subscribe(id)

	cl := newClient(id, room, token)
	c.clients[id] = cl
	r.Clients[id] = struct{}{}

	payload, err := protocol.EncodeB2MJoin(protocol.B2MJoin{Room: room, Client: id, Token: token})
	if err != nil {
		return nil, berror.Wrap(berror.Fatal, "encode join", err)
	}
	c.sendTo(target, payload)

	return &ClientLink{
		ClientId:  id,
		Upstream:  target.ClientMsgs,
		Broadcast: broadcastCh,
		Unicast:   cl.Unicast,
		Closing:   cl.Closing,
	}, nil
}

// LeaveClient removes a client from its room and the context, and sends
// B2M.Leave if the room's monolith is still present.
func (c *Context) LeaveClient(id protocol.ClientId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.clients[id]
	if !ok {
		return
	}
	delete(c.clients, id)

	loc, ok := c.locators[cl.Room]
	if !ok {
		return
	}
	mon, ok := c.monoliths[loc.MonolithId]
	if !ok {
		return
	}
	if r, ok := mon.Rooms[cl.Room]; ok {
		delete(r.Clients, id)
		r.unsubscribe(id)
	}
	payload, err := protocol.EncodeB2MLeave(protocol.B2MLeave{Client: id})
	if err != nil {
		logging.Error(nil, "encode leave", zap.Error(err))
		return
	}
	c.sendTo(mon, payload)
}

// AddOrSync implements the duplicate-load arbitration protocol (§4.4).
func (c *Context) AddOrSync(source protocol.MonolithId, meta protocol.RoomMetadata, epoch protocol.LoadEpoch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addOrSyncLocked(source, meta, epoch)
}

func (c *Context) addOrSyncLocked(source protocol.MonolithId, meta protocol.RoomMetadata, epoch protocol.LoadEpoch) error {
	sourceMon, ok := c.monoliths[source]
	if !ok {
		return berror.New(berror.NotFound, "add-or-sync: unknown source monolith")
	}

	if existing, ok := c.locators[meta.Name]; ok && existing.MonolithId != source {
		switch {
		case existing.LoadEpoch < epoch:
			// The incoming load is newer: evict the previous owner and
			// hand the room to the source monolith.
			if prev, ok := c.monoliths[existing.MonolithId]; ok {
				c.sendUnload(prev, meta.Name)
			}
			c.locators[meta.Name] = protocol.RoomLocator{MonolithId: source, LoadEpoch: epoch}
			c.registerRoom(sourceMon, meta)
			return nil
		case existing.LoadEpoch > epoch:
			// The incoming load is stale: tell the source to unload and
			// report failure so the caller can log it.
			c.sendUnload(sourceMon, meta.Name)
			return berror.New(berror.StaleLoad, fmt.Sprintf(
				"stale load for room %q at epoch %d (existing epoch %d on a different monolith)",
				meta.Name, epoch, existing.LoadEpoch))
		default:
			// Same epoch from two different monoliths: first wins. Sync
			// metadata on the existing owner; the locator is untouched.
			logging.Warn(nil, "duplicate load at equal epoch, first wins",
				zap.String("room", string(meta.Name)), zap.Uint32("epoch", uint32(epoch)))
			if existingMon, ok := c.monoliths[existing.MonolithId]; ok {
				c.registerRoom(existingMon, meta)
			}
			return nil
		}
	}

	c.locators[meta.Name] = protocol.RoomLocator{MonolithId: source, LoadEpoch: epoch}
	c.registerRoom(sourceMon, meta)
	return nil
}

// Gossip reconciles a monolith's full room set against one gossip frame:
// every listed room is add-or-synced, then every room this monolith
// holds that wasn't listed is removed with CloseAgain (§4.4).
func (c *Context) Gossip(source protocol.MonolithId, entries []protocol.M2BGossipEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mon, ok := c.monoliths[source]
	if !ok {
		return berror.New(berror.NotFound, "gossip: unknown monolith")
	}

	seen := make(map[protocol.RoomName]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Room.Name] = struct{}{}
		if err := c.addOrSyncLocked(source, e.Room, e.LoadEpoch); err != nil {
			logging.Warn(nil, "gossip add-or-sync failed", zap.String("room", string(e.Room.Name)), zap.Error(err))
		}
	}
	for name := range mon.Rooms {
		if _, ok := seen[name]; !ok {
			c.removeRoomLocked(mon, name, protocol.CloseAgain, protocol.CloseAgainReason)
		}
	}
	return nil
}

// RemoveRoom handles an explicit M2B.Unloaded from the given monolith.
func (c *Context) RemoveRoom(source protocol.MonolithId, name protocol.RoomName) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mon, ok := c.monoliths[source]
	if !ok {
		return berror.New(berror.NotFound, "unload: unknown monolith")
	}
	c.removeRoomLocked(mon, name, protocol.CloseAgain, protocol.CloseAgainReason)
	return nil
}

func (c *Context) removeRoomLocked(mon *Monolith, name protocol.RoomName, code int, reason string) {
	room, ok := mon.Rooms[name]
	if !ok {
		return
	}
	delete(mon.Rooms, name)
	if loc, ok := c.locators[name]; ok && loc.MonolithId == mon.Id {
		delete(c.locators, name)
	}
	for cid := range room.Clients {
		if cl, ok := c.clients[cid]; ok {
			c.closeClient(cl, code, reason)
			delete(c.clients, cid)
		}
	}
}

func (c *Context) registerRoom(m *Monolith, meta protocol.RoomMetadata) {
	r, ok := m.Rooms[meta.Name]
	if !ok {
		r = newRoom(meta.Name)
		m.Rooms[meta.Name] = r
	}
	metaCopy := meta
	r.Metadata = &metaCopy
}

// Kick closes a single client's socket with a monolith-supplied reason
// code (M2B.Kick).
func (c *Context) Kick(id protocol.ClientId, reason uint16) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl, ok := c.clients[id]
	if !ok {
		return berror.New(berror.NotFound, "kick: unknown client")
	}
	c.closeClient(cl, int(reason), "kicked")
	return nil
}

// BroadcastRoomMsg fans an application payload out to every client in a
// room, looked up on the sending monolith specifically (§4.4).
func (c *Context) BroadcastRoomMsg(source protocol.MonolithId, room protocol.RoomName, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mon, ok := c.monoliths[source]
	if !ok {
		return berror.New(berror.NotFound, "room_msg: unknown monolith")
	}
	r, ok := mon.Rooms[room]
	if !ok {
		return berror.New(berror.NotFound, "room_msg: unknown room")
	}
	r.broadcast(payload)
	return nil
}

// UnicastRoomMsg delivers an application payload to one client in a room.
func (c *Context) UnicastRoomMsg(source protocol.MonolithId, room protocol.RoomName, clientId protocol.ClientId, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mon, ok := c.monoliths[source]
	if !ok {
		return berror.New(berror.NotFound, "room_msg: unknown monolith")
	}
	if _, ok := mon.Rooms[room]; !ok {
		return berror.New(berror.NotFound, "room_msg: unknown room")
	}
	cl, ok := c.clients[clientId]
	if !ok {
		return berror.New(berror.NotFound, "room_msg: unknown client")
	}
	select {
	case cl.Unicast <- payload:
	default:
		logging.Warn(nil, "dropping unicast room_msg, client queue full", zap.String("client", clientId.String()))
	}
	return nil
}

// LookupLocator returns the current locator for a room, if any.
func (c *Context) LookupLocator(room protocol.RoomName) (protocol.RoomLocator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.locators[room]
	return loc, ok
}

// MonolithByID returns a monolith record by id.
func (c *Context) MonolithByID(id protocol.MonolithId) (*Monolith, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.monoliths[id]
	return m, ok
}

// ProxyTarget resolves the monolith an HTTP request for room should be
// proxied to: the room's existing locator if any, otherwise whatever the
// selection policy would pick -- without creating a locator, since a
// plain HTTP request carries no room-join semantics (§4.6).
func (c *Context) ProxyTarget(room protocol.RoomName, preferredRegion string) (*Monolith, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if loc, ok := c.locators[room]; ok {
		m, ok := c.monoliths[loc.MonolithId]
		return m, ok
	}
	candidates := c.candidatesLocked()
	if len(candidates) == 0 {
		return nil, false
	}
	id := c.policy.Select(room, candidates, preferredRegion)
	m, ok := c.monoliths[id]
	return m, ok
}

// AnyMonolith picks a monolith uniformly at random, preferring the given
// region when its bucket is non-empty (§4.6 "other" path).
func (c *Context) AnyMonolith(preferredRegion string) (*Monolith, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if preferredRegion != "" {
		if bucket, ok := c.monolithsByRegion[preferredRegion]; ok && len(bucket) > 0 {
			return c.monoliths[randomFromSet(bucket)], true
		}
	}
	if len(c.monoliths) == 0 {
		return nil, false
	}
	ids := make([]protocol.MonolithId, 0, len(c.monoliths))
	for id := range c.monoliths {
		ids = append(ids, id)
	}
	return c.monoliths[ids[rand.IntN(len(ids))]], true
}

// PublicRooms aggregates public-visibility room metadata across every
// monolith, capped at limit (§4.6 room list).
func (c *Context) PublicRooms(limit int) []protocol.RoomMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]protocol.RoomMetadata, 0, limit)
	for _, m := range c.monoliths {
		for _, r := range m.Rooms {
			if r.Metadata == nil || r.Metadata.Visibility != protocol.VisibilityPublic {
				continue
			}
			out = append(out, *r.Metadata)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// candidatesLocked builds the selection.Candidate view of the current
// monolith set. Caller must hold at least a read lock.
func (c *Context) candidatesLocked() []selection.Candidate {
	candidates := make([]selection.Candidate, 0, len(c.monoliths))
	for id, m := range c.monoliths {
		candidates = append(candidates, selection.Candidate{Id: id, Region: m.Region, RoomCount: len(m.Rooms)})
	}
	return candidates
}

// sendTo writes a pre-encoded frame to a monolith's outbound channel,
// dropping (and logging) rather than blocking if it is full.
func (c *Context) sendTo(m *Monolith, payload []byte) {
	select {
	case m.Outbound <- payload:
	default:
		logging.Warn(nil, "dropping outbound frame, monolith queue full", zap.String("monolith", m.Id.String()))
	}
}

func (c *Context) sendUnload(m *Monolith, room protocol.RoomName) {
	payload, err := protocol.EncodeB2MUnload(protocol.B2MUnload{Room: room})
	if err != nil {
		logging.Error(nil, "encode unload", zap.Error(err))
		return
	}
	c.sendTo(m, payload)
}

func (c *Context) closeClient(cl *Client, code int, reason string) {
	select {
	case cl.Closing <- CloseFrame{Code: code, Reason: reason}:
	default:
	}
}

func randomFromSet(set map[protocol.MonolithId]struct{}) protocol.MonolithId {
	n := rand.IntN(len(set))
	i := 0
	for id := range set {
		if i == n {
			return id
		}
		i++
	}
	var zero protocol.MonolithId
	return zero
}
