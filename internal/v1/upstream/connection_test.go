package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/selection"
	"github.com/dyc3/ott-balancer/internal/v1/state"
)

var testUpgrader = websocket.Upgrader{}

func cfgFromServer(t *testing.T, srv *httptest.Server) discovery.ConnectionConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return discovery.ConnectionConfig{Host: u.Hostname(), Port: uint16(port)}
}

func newRunningDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	ctx := state.NewContext(selection.MinRooms{}, "us-east")
	d := dispatcher.New(ctx, events.NewBus(16))
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(runCtx)
	return d
}

func TestConnection_ConnectAndHandshake_Success(t *testing.T) {
	monId := protocol.NewMonolithId()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		_, _, err = ws.ReadMessage() // the b2m init frame
		require.NoError(t, err)

		payload, err := protocol.Encode(protocol.M2BTypeInit, protocol.M2BInit{Id: monId, Region: "us-east", Port: 9000})
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	d := newRunningDispatcher(t)
	c := &connection{
		cfg:        cfgFromServer(t, srv),
		balancerId: protocol.NewBalancerId(),
		dispatcher: d,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m, ws, err := c.connectAndHandshake(ctx)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, monId, m.Id)
	assert.Equal(t, "us-east", m.Region)
	assert.EqualValues(t, 9000, m.ProxyPort)
}

func TestConnection_ConnectAndHandshake_RejectsWrongFirstFrame(t *testing.T) {
	closeCode := make(chan int, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		ws.SetCloseHandler(func(code int, text string) error {
			closeCode <- code
			return nil
		})

		_, _, err = ws.ReadMessage()
		require.NoError(t, err)

		payload, err := protocol.Encode(protocol.M2BTypeLoaded, protocol.M2BLoaded{Room: protocol.RoomMetadata{Name: "x"}, LoadEpoch: 1})
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

		ws.ReadMessage() // drive the close handler
	}))
	defer srv.Close()

	d := newRunningDispatcher(t)
	c := &connection{
		cfg:        cfgFromServer(t, srv),
		balancerId: protocol.NewBalancerId(),
		dispatcher: d,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := c.connectAndHandshake(ctx)
	assert.Error(t, err, "a non-init first frame must fail the handshake")

	select {
	case code := <-closeCode:
		assert.Equal(t, protocol.CloseRejected, code, "a failed handshake must close with the library's rejection code")
	case <-time.After(time.Second):
		t.Fatal("expected the balancer to send a close frame, got none")
	}
}

func TestConnection_ConnectAndHandshake_DialFailureIsTransient(t *testing.T) {
	d := newRunningDispatcher(t)
	c := &connection{
		cfg:        discovery.ConnectionConfig{Host: "127.0.0.1", Port: 1},
		balancerId: protocol.NewBalancerId(),
		dispatcher: d,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := c.connectAndHandshake(ctx)
	assert.Error(t, err)
}
