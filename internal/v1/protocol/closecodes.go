package protocol

// Close codes used on the client-facing WebSocket (§6). The 4000/4004
// range is balancer-private per RFC 6455 §7.4.2; 1001/1013 are standard
// library codes reused for their stock meaning ("going away", "try again
// later").
const (
	// CloseBadAuth is sent when a client's first frame isn't a valid Auth
	// frame, or it doesn't arrive within the 20s handshake window.
	CloseBadAuth = 4004

	// CloseRejected is sent when an upstream monolith's handshake fails
	// (bad or missing Init) and, by convention, reused for other
	// balancer-side protocol rejections of a client.
	CloseRejected = 4000

	// CloseAway is sent to every client on a monolith whose upstream
	// connection has ended (§4.4 eviction).
	CloseAway = 1001

	// CloseAgain is sent to clients of a room that was explicitly
	// unloaded, or dropped during gossip reconciliation.
	CloseAgain = 1013
)

// CloseAwayReason and CloseAgainReason are the standard human-readable
// reasons paired with CloseAway/CloseAgain in §8's scenarios.
const (
	CloseAwayReason  = "Monolith disconnect"
	CloseAgainReason = "Room unloaded"
)
