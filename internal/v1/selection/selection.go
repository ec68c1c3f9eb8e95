// Package selection implements §4.5's monolith selection policies, used
// whenever a brand-new room has no existing locator.
package selection

import "github.com/dyc3/ott-balancer/internal/v1/protocol"

// Candidate is the subset of monolith state a Policy needs to pick a
// target. It is passed by value so policies never touch state.Context
// locks directly.
type Candidate struct {
	Id        protocol.MonolithId
	Region    string
	RoomCount int
}

// Policy picks a monolith to host a newly-joined room. Chosen once at
// startup (§4.5) and never swapped at runtime.
type Policy interface {
	// Select returns the id of the chosen monolith. candidates is never
	// empty; callers are responsible for the "no monoliths" 503 case.
	Select(room protocol.RoomName, candidates []Candidate, preferredRegion string) protocol.MonolithId
}
