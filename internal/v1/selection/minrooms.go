package selection

import "github.com/dyc3/ott-balancer/internal/v1/protocol"

// MinRooms picks the monolith with the fewest rooms, preferring the
// balancer's configured region when any candidate is in it and falling
// back to a global minimum otherwise. Ties are broken arbitrarily (first
// encountered in iteration order).
type MinRooms struct{}

func (MinRooms) Select(_ protocol.RoomName, candidates []Candidate, preferredRegion string) protocol.MonolithId {
	if preferredRegion != "" {
		if id, ok := minRoomsIn(candidates, preferredRegion); ok {
			return id
		}
	}
	id, _ := minRoomsIn(candidates, "")
	return id
}

// minRoomsIn scans candidates restricted to region (or all, if region is
// empty) and returns the id with the fewest rooms.
func minRoomsIn(candidates []Candidate, region string) (protocol.MonolithId, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if region != "" && c.Region != region {
			continue
		}
		if !found || c.RoomCount < best.RoomCount {
			best = c
			found = true
		}
	}
	return best.Id, found
}
