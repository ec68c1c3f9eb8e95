package protocol

import "encoding/json"

// Balancer→Monolith message type tags.
const (
	B2MTypeInit      = "init"
	B2MTypeLoad      = "load"
	B2MTypeJoin      = "join"
	B2MTypeLeave     = "leave"
	B2MTypeClientMsg = "client_msg"
	B2MTypeUnload    = "unload"
)

// B2MInit announces this balancer to a newly dialed monolith. Always the
// first frame sent on a fresh upstream connection.
type B2MInit struct {
	BalancerId BalancerId `json:"balancer_id"`
}

// B2MLoad asks a monolith to load a room it does not yet hold. Unused by
// the dispatcher's own admission path (rooms are loaded implicitly by
// Join against an unconfirmed locator) but kept for explicit preloading.
type B2MLoad struct {
	Room RoomName `json:"room"`
}

// B2MJoin tells the target monolith a client has been routed to one of
// its rooms. Always sent after the client has been subscribed to the
// room's broadcast (see state.Context.JoinClient).
type B2MJoin struct {
	Room   RoomName `json:"room"`
	Client ClientId `json:"client"`
	Token  string   `json:"token"`
}

// B2MLeave tells a monolith a client has left one of its rooms.
type B2MLeave struct {
	Client ClientId `json:"client"`
}

// B2MClientMsg forwards an opaque client payload upstream, tagged with
// the originating client. Payload bytes are never re-serialized.
type B2MClientMsg struct {
	ClientId ClientId        `json:"client_id"`
	Payload  json.RawMessage `json:"payload"`
}

// B2MUnload tells a monolith to drop a room, either because a newer load
// superseded it or because the room is being evicted.
type B2MUnload struct {
	Room RoomName `json:"room"`
}

func EncodeB2MInit(m B2MInit) ([]byte, error)           { return Encode(B2MTypeInit, m) }
func EncodeB2MLoad(m B2MLoad) ([]byte, error)           { return Encode(B2MTypeLoad, m) }
func EncodeB2MJoin(m B2MJoin) ([]byte, error)           { return Encode(B2MTypeJoin, m) }
func EncodeB2MLeave(m B2MLeave) ([]byte, error)         { return Encode(B2MTypeLeave, m) }
func EncodeB2MClientMsg(m B2MClientMsg) ([]byte, error) { return Encode(B2MTypeClientMsg, m) }
func EncodeB2MUnload(m B2MUnload) ([]byte, error)       { return Encode(B2MTypeUnload, m) }
