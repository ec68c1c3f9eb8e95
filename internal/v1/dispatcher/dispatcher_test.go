package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/selection"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningDispatcher(t *testing.T) (*Dispatcher, *state.Context, func()) {
	t.Helper()
	ctx := state.NewContext(selection.MinRooms{}, "us-east")
	bus := events.NewBus(16)
	d := New(ctx, bus)

	runCtx, cancel := context.WithCancel(context.Background())
	go d.Run(runCtx)
	return d, ctx, cancel
}

func TestDispatcher_RegisterAndJoin(t *testing.T) {
	d, ctx, cancel := newRunningDispatcher(t)
	defer cancel()

	mon := d.RegisterMonolith(protocol.NewMonolithId(), "us-east", discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)
	require.NotNil(t, mon)

	link, err := d.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	require.NoError(t, err)
	require.NotNil(t, link)

	loc, ok := ctx.LookupLocator("movie-night")
	require.True(t, ok)
	assert.Equal(t, mon.Id, loc.MonolithId)
}

func TestDispatcher_JoinWithoutMonolithsFails(t *testing.T) {
	d, _, cancel := newRunningDispatcher(t)
	defer cancel()

	_, err := d.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	assert.Error(t, err)
}

func TestDispatcher_HandleMonolithMessage_Loaded(t *testing.T) {
	d, ctx, cancel := newRunningDispatcher(t)
	defer cancel()

	mon := d.RegisterMonolith(protocol.NewMonolithId(), "us-east", discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)

	env, err := encodeEnvelope(protocol.M2BTypeLoaded, protocol.M2BLoaded{
		Room:      protocol.RoomMetadata{Name: "movie-night", Visibility: protocol.VisibilityPublic},
		LoadEpoch: 1,
	})
	require.NoError(t, err)
	d.HandleMonolithMessage(mon.Id, env)

	require.Eventually(t, func() bool {
		_, ok := ctx.LookupLocator("movie-night")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_HandleMonolithMessage_UnknownType(t *testing.T) {
	d, _, cancel := newRunningDispatcher(t)
	defer cancel()

	mon := d.RegisterMonolith(protocol.NewMonolithId(), "us-east", discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)
	d.HandleMonolithMessage(mon.Id, protocol.Envelope{Type: "unknown", Payload: []byte(`{}`)})

	// The dispatcher goroutine must keep processing after an unknown
	// frame type rather than wedging on it.
	_, err := d.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	assert.NoError(t, err)
}

func TestDispatcher_HandleMonolithMessage_ReInitIsIgnored(t *testing.T) {
	d, _, cancel := newRunningDispatcher(t)
	defer cancel()

	mon := d.RegisterMonolith(protocol.NewMonolithId(), "us-east", discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)

	env, err := encodeEnvelope(protocol.M2BTypeInit, protocol.M2BInit{Id: mon.Id, Region: "us-east", Port: 9000})
	require.NoError(t, err)
	d.HandleMonolithMessage(mon.Id, env)

	// A post-handshake Init is benign; the dispatcher must keep processing
	// rather than treat it as a protocol violation.
	_, err = d.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	assert.NoError(t, err)
}

func TestDispatcher_RemoveMonolithEvictsClients(t *testing.T) {
	d, ctx, cancel := newRunningDispatcher(t)
	defer cancel()

	mon := d.RegisterMonolith(protocol.NewMonolithId(), "us-east", discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}, 9000)
	link, err := d.JoinClient(protocol.NewClientId(), "movie-night", "tok")
	require.NoError(t, err)

	d.RemoveMonolith(mon.Id)

	select {
	case <-link.Closing:
	case <-time.After(time.Second):
		t.Fatal("expected client to be closed when its monolith is removed")
	}

	_, ok := ctx.MonolithByID(mon.Id)
	assert.False(t, ok)
}

func encodeEnvelope(typ string, payload any) (protocol.Envelope, error) {
	raw, err := protocol.Encode(typ, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.DecodeEnvelope(raw)
}
