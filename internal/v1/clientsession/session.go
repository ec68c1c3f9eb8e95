// Package clientsession runs one task per accepted client WebSocket
// (§4.3): an auth handshake, registration with the dispatcher, and a
// bidirectional bridge between the client socket and its ClientLink.
package clientsession

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/metrics"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"go.uber.org/zap"
)

const (
	authWait  = 20 * time.Second
	writeWait = 10 * time.Second
)

// Handle upgrades c's request to a WebSocket and runs the session to
// completion. room is the target room name taken from the route
// (/api/room/:name). Blocks until the client disconnects.
func Handle(c *gin.Context, d *dispatcher.Dispatcher, room protocol.RoomName, allowedOrigins []string) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "client ws upgrade failed", zap.Error(err))
		return
	}

	id := protocol.NewClientId()
	run(conn, d, id, room)
}

func validateOrigin(r *http.Request, allowed []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return &originRejected{origin: origin}
}

type originRejected struct{ origin string }

func (e *originRejected) Error() string { return "origin not allowed: " + e.origin }

// run owns conn end to end: the auth handshake, then the bridge, then
// teardown. It never returns until the session is over.
func run(conn *websocket.Conn, d *dispatcher.Dispatcher, id protocol.ClientId, room protocol.RoomName) {
	defer conn.Close()

	token, err := awaitAuth(conn)
	if err != nil {
		logging.Warn(nil, "client auth handshake failed", zap.String("client", id.String()), zap.Error(err))
		closeWith(conn, protocol.CloseBadAuth, "auth required")
		return
	}

	link, err := d.JoinClient(id, room, token)
	if err != nil {
		logging.Warn(nil, "client join rejected", zap.String("client", id.String()), zap.String("room", string(room)), zap.Error(err))
		closeWith(conn, protocol.CloseRejected, "join rejected")
		return
	}
	defer d.LeaveClient(id)

	metrics.WebSocketFrames.WithLabelValues("client", "rx").Inc()
	bridge(conn, link, id)
}

func awaitAuth(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(authWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	auth, err := protocol.DecodeC2BAuth(data)
	if err != nil || auth.Action != protocol.C2BTypeAuth || auth.Token == "" {
		return "", &badAuthFrame{}
	}
	conn.SetReadDeadline(time.Time{})
	return auth.Token, nil
}

type badAuthFrame struct{}

func (e *badAuthFrame) Error() string { return "first frame was not a valid auth frame" }

// bridge multiplexes the client socket and its ClientLink until either
// side ends: client frames go upstream tagged with id; link frames
// (broadcast, unicast, dispatcher-initiated close) go to the socket.
func bridge(conn *websocket.Conn, link *state.ClientLink, id protocol.ClientId) {
	readErrs := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrs <- err
				return
			}
			metrics.WebSocketFrames.WithLabelValues("client", "rx").Inc()
			select {
			case link.Upstream <- state.ClientFrame{ClientId: id, Payload: data}:
			default:
				logging.Warn(nil, "client upstream channel full, dropping frame", zap.String("client", id.String()))
			}
		}
	}()

	for {
		select {
		case err := <-readErrs:
			if err != nil {
				logging.Warn(nil, "client socket read ended", zap.String("client", id.String()), zap.Error(err))
			}
			return
		case payload, ok := <-link.Broadcast:
			if !ok {
				return
			}
			if !write(conn, payload) {
				return
			}
		case payload, ok := <-link.Unicast:
			if !ok {
				return
			}
			if !write(conn, payload) {
				return
			}
		case cf, ok := <-link.Closing:
			if !ok {
				return
			}
			closeWith(conn, cf.Code, cf.Reason)
			return
		}
	}
}

func write(conn *websocket.Conn, payload []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	metrics.WebSocketFrames.WithLabelValues("client", "tx").Inc()
	return true
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteMessage(websocket.CloseMessage, msg)
}
