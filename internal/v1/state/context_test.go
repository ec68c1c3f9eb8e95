package state

import (
	"testing"
	"time"

	"github.com/dyc3/ott-balancer/internal/v1/berror"
	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *Context {
	return NewContext(selection.MinRooms{}, "us-east")
}

func addMonolith(c *Context, region string) protocol.MonolithId {
	id := protocol.NewMonolithId()
	c.AddMonolith(id, region, discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)
	return id
}

func drain(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("expected a frame, got none")
		return nil
	}
}

func TestJoinClient_SelectsAndRoutes(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	link, err := c.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	require.NoError(t, err)
	require.NotNil(t, link)

	loc, ok := c.LookupLocator("movie-night")
	require.True(t, ok)
	assert.Equal(t, mon, loc.MonolithId)
	assert.Equal(t, protocol.EpochUnconfirmed, loc.LoadEpoch)

	m, ok := c.MonolithByID(mon)
	require.True(t, ok)
	payload := drain(t, m.Outbound)
	env, err := protocol.DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.B2MTypeJoin, env.Type)
}

func TestJoinClient_NoMonolithsReturnsNotFound(t *testing.T) {
	c := newTestContext()
	_, err := c.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	require.Error(t, err)
	assert.True(t, berror.Is(err, berror.NotFound))
}

func TestJoinClient_ReusesExistingLocator(t *testing.T) {
	c := newTestContext()
	first := addMonolith(c, "us-east")
	addMonolith(c, "us-east") // a second monolith that should NOT win the already-claimed room

	// Establish the room on `first` before any client joins it.
	require.NoError(t, c.AddOrSync(first, protocol.RoomMetadata{Name: "movie-night", Visibility: protocol.VisibilityPublic}, 5))

	_, err := c.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	require.NoError(t, err)

	loc, ok := c.LookupLocator("movie-night")
	require.True(t, ok)
	assert.Equal(t, first, loc.MonolithId, "join must route to the room's existing locator, not re-select")
	assert.Equal(t, protocol.LoadEpoch(5), loc.LoadEpoch, "join against an existing locator must not reset its epoch")
}

func TestAddOrSync_NewerEpochWins(t *testing.T) {
	c := newTestContext()
	older := addMonolith(c, "us-east")
	newer := addMonolith(c, "us-east")

	require.NoError(t, c.AddOrSync(older, protocol.RoomMetadata{Name: "r1"}, 1))
	require.NoError(t, c.AddOrSync(newer, protocol.RoomMetadata{Name: "r1"}, 2))

	loc, ok := c.LookupLocator("r1")
	require.True(t, ok)
	assert.Equal(t, newer, loc.MonolithId)
	assert.Equal(t, protocol.LoadEpoch(2), loc.LoadEpoch)

	olderMon, _ := c.MonolithByID(older)
	payload := drain(t, olderMon.Outbound)
	env, err := protocol.DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.B2MTypeUnload, env.Type, "the superseded monolith must be told to unload")
}

func TestAddOrSync_StaleEpochRejected(t *testing.T) {
	c := newTestContext()
	first := addMonolith(c, "us-east")
	second := addMonolith(c, "us-east")

	require.NoError(t, c.AddOrSync(first, protocol.RoomMetadata{Name: "r1"}, 5))

	err := c.AddOrSync(second, protocol.RoomMetadata{Name: "r1"}, 1)
	require.Error(t, err)
	assert.True(t, berror.Is(err, berror.StaleLoad))

	loc, _ := c.LookupLocator("r1")
	assert.Equal(t, first, loc.MonolithId, "the stale source must not win the locator")

	secondMon, _ := c.MonolithByID(second)
	payload := drain(t, secondMon.Outbound)
	env, err := protocol.DecodeEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.B2MTypeUnload, env.Type, "the stale source must be told to unload its own attempt")
}

func TestAddOrSync_EqualEpochFirstWins(t *testing.T) {
	c := newTestContext()
	first := addMonolith(c, "us-east")
	second := addMonolith(c, "us-east")

	require.NoError(t, c.AddOrSync(first, protocol.RoomMetadata{Name: "r1", Title: "old"}, 3))
	require.NoError(t, c.AddOrSync(second, protocol.RoomMetadata{Name: "r1", Title: "new"}, 3))

	loc, _ := c.LookupLocator("r1")
	assert.Equal(t, first, loc.MonolithId)
}

func TestRemoveMonolith_ClosesItsClients(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	id := protocol.NewClientId()
	link, err := c.JoinClient(id, "movie-night", "tok")
	require.NoError(t, err)

	c.RemoveMonolith(mon)

	select {
	case cf := <-link.Closing:
		assert.Equal(t, protocol.CloseAway, cf.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a close frame for the evicted client")
	}

	_, ok := c.LookupLocator("movie-night")
	assert.False(t, ok, "locator must be cleared on eviction")
}

func TestGossip_RemovesUnlistedRooms(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	id := protocol.NewClientId()
	link, err := c.JoinClient(id, "stale-room", "tok")
	require.NoError(t, err)
	require.NoError(t, c.AddOrSync(mon, protocol.RoomMetadata{Name: "stale-room"}, 1))

	require.NoError(t, c.Gossip(mon, []protocol.M2BGossipEntry{
		{Room: protocol.RoomMetadata{Name: "fresh-room"}, LoadEpoch: 1},
	}))

	select {
	case cf := <-link.Closing:
		assert.Equal(t, protocol.CloseAgain, cf.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a close frame for the room dropped by gossip")
	}

	_, ok := c.LookupLocator("stale-room")
	assert.False(t, ok)
	_, ok = c.LookupLocator("fresh-room")
	assert.True(t, ok)
}

func TestBroadcastRoomMsg_FansOutToSubscribers(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	idA := protocol.NewClientId()
	idB := protocol.NewClientId()
	linkA, err := c.JoinClient(idA, "movie-night", "tok")
	require.NoError(t, err)
	linkB, err := c.JoinClient(idB, "movie-night", "tok")
	require.NoError(t, err)

	require.NoError(t, c.BroadcastRoomMsg(mon, "movie-night", []byte(`{"hello":"world"}`)))

	assert.Equal(t, []byte(`{"hello":"world"}`), drain(t, linkA.Broadcast))
	assert.Equal(t, []byte(`{"hello":"world"}`), drain(t, linkB.Broadcast))
}

func TestUnicastRoomMsg_DeliversToOneClient(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	idA := protocol.NewClientId()
	idB := protocol.NewClientId()
	_, err := c.JoinClient(idA, "movie-night", "tok")
	require.NoError(t, err)
	linkB, err := c.JoinClient(idB, "movie-night", "tok")
	require.NoError(t, err)

	require.NoError(t, c.UnicastRoomMsg(mon, "movie-night", idB, []byte("direct")))
	assert.Equal(t, []byte("direct"), drain(t, linkB.Unicast))
}

func TestPublicRooms_OnlyAggregatesPublicVisibility(t *testing.T) {
	c := newTestContext()
	mon := addMonolith(c, "us-east")

	require.NoError(t, c.AddOrSync(mon, protocol.RoomMetadata{Name: "open", Visibility: protocol.VisibilityPublic}, 1))
	require.NoError(t, c.AddOrSync(mon, protocol.RoomMetadata{Name: "secret", Visibility: protocol.VisibilityPrivate}, 2))

	rooms := c.PublicRooms(50)
	require.Len(t, rooms, 1)
	assert.Equal(t, protocol.RoomName("open"), rooms[0].Name)
}

func TestKick_ClosesNamedClient(t *testing.T) {
	c := newTestContext()
	addMonolith(c, "us-east")

	id := protocol.NewClientId()
	link, err := c.JoinClient(id, "movie-night", "tok")
	require.NoError(t, err)

	require.NoError(t, c.Kick(id, 4100))
	cf := <-link.Closing
	assert.Equal(t, 4100, cf.Code)
}

func TestAnyMonolith_PrefersRegionBucket(t *testing.T) {
	c := newTestContext()
	inRegion := addMonolith(c, "us-east")
	addMonolith(c, "eu-west")

	for i := 0; i < 20; i++ {
		m, ok := c.AnyMonolith("us-east")
		require.True(t, ok)
		assert.Equal(t, inRegion, m.Id)
	}
}
