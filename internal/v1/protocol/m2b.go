package protocol

import "encoding/json"

// Monolith→Balancer message type tags.
const (
	M2BTypeInit    = "init"
	M2BTypeLoaded  = "loaded"
	M2BTypeUnloaded = "unloaded"
	M2BTypeGossip  = "gossip"
	M2BTypeRoomMsg = "room_msg"
	M2BTypeKick    = "kick"
)

// RoomVisibility mirrors the room metadata's visibility field. Only
// "public" rooms are surfaced by the room-list endpoint.
type RoomVisibility string

const (
	VisibilityPublic   RoomVisibility = "public"
	VisibilityUnlisted RoomVisibility = "unlisted"
	VisibilityPrivate  RoomVisibility = "private"
)

// RoomMetadata is the balancer-side snapshot of a room's application
// state, refreshed whenever the owning monolith sends Loaded or Gossip.
type RoomMetadata struct {
	Name          RoomName       `json:"name"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Visibility    RoomVisibility `json:"visibility"`
	QueueMode     string         `json:"queueMode,omitempty"`
	CurrentSource string         `json:"currentSource,omitempty"`
	UserCount     int            `json:"userCount"`
}

// M2BInit is the monolith's reply to B2MInit. Its arrival within 20s
// completes the upstream handshake. Id becomes this connection's
// MonolithId -- a reconnect always yields a new one.
type M2BInit struct {
	Id     MonolithId `json:"id"`
	Region string     `json:"region"`
	Port   uint16     `json:"port"`
}

// M2BLoaded announces a room has been loaded (or reloaded) on the sending
// monolith at the given epoch. Drives add-or-sync arbitration.
type M2BLoaded struct {
	Room      RoomMetadata `json:"room"`
	LoadEpoch LoadEpoch    `json:"load_epoch"`
}

// M2BUnloaded announces a room has been unloaded by the sending monolith.
type M2BUnloaded struct {
	Name RoomName `json:"name"`
}

// M2BGossipEntry is one room in a full-reconciliation gossip frame.
type M2BGossipEntry struct {
	Room      RoomMetadata `json:"room"`
	LoadEpoch LoadEpoch    `json:"load_epoch"`
}

// M2BGossip is a full reconciliation of every room a monolith currently
// holds. Any room this monolith has that is absent from Rooms is removed.
type M2BGossip struct {
	Rooms []M2BGossipEntry `json:"rooms"`
}

// M2BRoomMsg relays an application message. If ClientId is nil it is
// broadcast to the room; otherwise it is unicast.
type M2BRoomMsg struct {
	Room     RoomName        `json:"room"`
	ClientId *ClientId       `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// M2BKick asks the balancer to close a client's socket with the given
// library close code.
type M2BKick struct {
	ClientId ClientId `json:"client_id"`
	Reason   uint16   `json:"reason"`
}

func DecodeM2BInit(e Envelope) (M2BInit, error) {
	var m M2BInit
	err := e.Into(&m)
	return m, err
}

func DecodeM2BLoaded(e Envelope) (M2BLoaded, error) {
	var m M2BLoaded
	err := e.Into(&m)
	return m, err
}

func DecodeM2BUnloaded(e Envelope) (M2BUnloaded, error) {
	var m M2BUnloaded
	err := e.Into(&m)
	return m, err
}

func DecodeM2BGossip(e Envelope) (M2BGossip, error) {
	var m M2BGossip
	err := e.Into(&m)
	return m, err
}

func DecodeM2BRoomMsg(e Envelope) (M2BRoomMsg, error) {
	var m M2BRoomMsg
	err := e.Into(&m)
	return m, err
}

func DecodeM2BKick(e Envelope) (M2BKick, error) {
	var m M2BKick
	err := e.Into(&m)
	return m, err
}
