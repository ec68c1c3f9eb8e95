package selection

import (
	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/dyc3/ott-balancer/internal/v1/protocol"
)

// HashRing assigns each room to a monolith by consistent (rendezvous)
// hashing of the room name onto the current set of monolith ids, one node
// per monolith, so that adding or removing a monolith only reshuffles the
// rooms hashed to it rather than the whole room set. This is the same
// hashing primitive go-redis's ring client uses to shard keys across
// nodes, promoted here from an indirect dependency to a direct one.
type HashRing struct{}

func (HashRing) Select(room protocol.RoomName, candidates []Candidate, _ string) protocol.MonolithId {
	nodes := make([]string, len(candidates))
	byString := make(map[string]protocol.MonolithId, len(candidates))
	for i, c := range candidates {
		s := c.Id.String()
		nodes[i] = s
		byString[s] = c.Id
	}

	r := rendezvous.New(nodes, xxhash.Sum64String)
	return byString[r.Lookup(string(room))]
}
