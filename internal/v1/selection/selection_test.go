package selection

import (
	"testing"

	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
)

func candidate(id protocol.MonolithId, region string, rooms int) Candidate {
	return Candidate{Id: id, Region: region, RoomCount: rooms}
}

func TestMinRooms_PrefersRegion(t *testing.T) {
	inRegion := protocol.NewMonolithId()
	outRegion := protocol.NewMonolithId()
	candidates := []Candidate{
		candidate(outRegion, "eu-west", 0),
		candidate(inRegion, "us-east", 3),
	}

	got := MinRooms{}.Select("room", candidates, "us-east")
	assert.Equal(t, inRegion, got, "should prefer the in-region monolith even though it has more rooms")
}

func TestMinRooms_FallsBackGlobally(t *testing.T) {
	onlyCandidate := protocol.NewMonolithId()
	candidates := []Candidate{candidate(onlyCandidate, "eu-west", 2)}

	got := MinRooms{}.Select("room", candidates, "us-east")
	assert.Equal(t, onlyCandidate, got)
}

func TestMinRooms_PicksFewestRooms(t *testing.T) {
	fewer := protocol.NewMonolithId()
	more := protocol.NewMonolithId()
	candidates := []Candidate{
		candidate(more, "us-east", 5),
		candidate(fewer, "us-east", 1),
	}

	got := MinRooms{}.Select("room", candidates, "")
	assert.Equal(t, fewer, got)
}

func TestHashRing_Deterministic(t *testing.T) {
	ids := []protocol.MonolithId{protocol.NewMonolithId(), protocol.NewMonolithId(), protocol.NewMonolithId()}
	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = candidate(id, "us-east", 0)
	}

	ring := HashRing{}
	first := ring.Select("movie-night", candidates, "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ring.Select("movie-night", candidates, ""))
	}
}

func TestHashRing_DistributesAcrossNodes(t *testing.T) {
	ids := []protocol.MonolithId{protocol.NewMonolithId(), protocol.NewMonolithId(), protocol.NewMonolithId()}
	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = candidate(id, "us-east", 0)
	}

	ring := HashRing{}
	seen := make(map[protocol.MonolithId]struct{})
	for i := 0; i < 200; i++ {
		room := protocol.RoomName(string(rune('a' + i%26)))
		seen[ring.Select(room, candidates, "")] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "26 distinct room names should land on more than one node")
}
