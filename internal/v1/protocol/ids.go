// Package protocol defines the wire messages exchanged between the
// balancer and monoliths (B2M/M2B) and between the balancer and clients
// (C2B), plus the identifiers and locator types shared across the core.
package protocol

import "github.com/google/uuid"

// RoomName is an opaque, case-sensitive room identifier. "list" is
// reserved: it names the room-listing endpoint and is never a valid room.
type RoomName string

// ListRoomName is the reserved name that triggers room-list aggregation
// instead of routing to a monolith.
const ListRoomName RoomName = "list"

// IsReserved reports whether this name can never be a real room.
func (n RoomName) IsReserved() bool {
	return n == ListRoomName
}

// ClientId uniquely identifies a connected client, minted locally when
// the client's auth handshake completes.
type ClientId uuid.UUID

// NewClientId mints a fresh ClientId.
func NewClientId() ClientId { return ClientId(uuid.New()) }

func (id ClientId) String() string { return uuid.UUID(id).String() }

// MarshalText renders the id the way uuid.UUID does (a quoted string in
// JSON), since a defined type over [16]byte does not inherit it.
func (id ClientId) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText parses a quoted UUID string into this ClientId.
func (id *ClientId) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

// MonolithId uniquely identifies a monolith connection. Every reconnect
// gets a new MonolithId because the id is minted by the monolith and sent
// in its Init frame; the balancer never tries to preserve identity across
// reconnects.
type MonolithId uuid.UUID

func NewMonolithId() MonolithId { return MonolithId(uuid.New()) }

func (id MonolithId) String() string { return uuid.UUID(id).String() }

// MarshalText renders the id the way uuid.UUID does (a quoted string in
// JSON), since a defined type over [16]byte does not inherit it.
func (id MonolithId) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText parses a quoted UUID string into this MonolithId.
func (id *MonolithId) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

// BalancerId identifies this balancer process to the monoliths it talks
// to, sent once per upstream connection in B2M.Init.
type BalancerId uuid.UUID

func NewBalancerId() BalancerId { return BalancerId(uuid.New()) }

func (id BalancerId) String() string { return uuid.UUID(id).String() }

// MarshalText renders the id the way uuid.UUID does (a quoted string in
// JSON), since a defined type over [16]byte does not inherit it.
func (id BalancerId) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText parses a quoted UUID string into this BalancerId.
func (id *BalancerId) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

// LoadEpoch is a monotone counter minted by a monolith each time it loads
// a room, used only to arbitrate duplicate loads across monoliths. The
// balancer trusts ordering only within a single monolith's epoch space;
// cross-monolith comparisons are a magnitude heuristic, not a total order.
type LoadEpoch uint32

// EpochUnconfirmed is the sentinel used for a room locator that has been
// provisionally assigned to a monolith but not yet acknowledged via
// Loaded or Gossip.
const EpochUnconfirmed LoadEpoch = ^LoadEpoch(0)

// RoomLocator names the monolith currently authoritative for a room, plus
// the load epoch used to arbitrate simultaneous loads of the same room.
type RoomLocator struct {
	MonolithId MonolithId
	LoadEpoch  LoadEpoch
}
