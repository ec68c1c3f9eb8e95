package state

import (
	"net/http"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
)

// closeQueueSize bounds the close-signal channel; it only ever carries
// one frame so a client is never evicted twice.
const closeQueueSize = 1

// CloseFrame is a close code/reason pair, delivered to a client session
// when the dispatcher decides to evict or kick it.
type CloseFrame struct {
	Code   int
	Reason string
}

// Client is the balancer-side record for one authenticated end user
// connection (§3). It is created when auth completes and destroyed on
// disconnect, monolith eviction, or explicit kick.
type Client struct {
	Id    protocol.ClientId
	Room  protocol.RoomName
	Token string

	// Unicast carries messages addressed directly to this client (an
	// M2B.RoomMsg with a client_id, or none -- Kick closes use Closing
	// instead). Drained by the client session's bridge loop.
	Unicast chan []byte

	// Closing carries a single CloseFrame when the dispatcher evicts or
	// kicks this client. Buffered so the send from within a write-locked
	// mutation never blocks.
	Closing chan CloseFrame
}

func newClient(id protocol.ClientId, room protocol.RoomName, token string) *Client {
	return &Client{
		Id:      id,
		Room:    room,
		Token:   token,
		Unicast: make(chan []byte, dataQueueSize),
		Closing: make(chan CloseFrame, closeQueueSize),
	}
}

// Monolith is the balancer-side record for one upstream connection (§3).
// It is born when the upstream handshake completes and dies when the
// upstream socket ends and cannot be reconnected.
type Monolith struct {
	Id        protocol.MonolithId
	Region    string
	Conn      discovery.ConnectionConfig
	ProxyPort uint16

	// Rooms this monolith currently holds, keyed by room name.
	Rooms map[protocol.RoomName]*Room

	// Outbound carries pre-encoded B2M frames (Init/Load/Join/Leave/
	// Unload) to the upstream connection's write side. Written to by the
	// dispatcher and state mutation methods; read by the upstream bridge.
	Outbound chan []byte

	// ClientMsgs is the per-monolith channel client sessions use to send
	// their traffic upstream, tagged with the originating client id, so
	// many clients can multiplex onto one upstream socket without going
	// through the dispatcher for ordinary frames.
	ClientMsgs chan ClientFrame

	// HTTPClient proxies non-WS requests to this monolith's proxy_port.
	// Redirects are disabled: the balancer is not a browser and a
	// redirect response should pass through to the caller untouched.
	HTTPClient *http.Client
}

// ClientFrame tags an opaque client payload with its origin, the shape
// carried on Monolith.ClientMsgs.
type ClientFrame struct {
	ClientId protocol.ClientId
	Payload  []byte
}

func newMonolith(id protocol.MonolithId, region string, conn discovery.ConnectionConfig, proxyPort uint16) *Monolith {
	return &Monolith{
		Id:        id,
		Region:    region,
		Conn:      conn,
		ProxyPort: proxyPort,
		Rooms:     make(map[protocol.RoomName]*Room),
		Outbound:  make(chan []byte, dataQueueSize),
		ClientMsgs: make(chan ClientFrame, dataQueueSize),
		HTTPClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}
