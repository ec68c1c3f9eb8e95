package upstream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dyc3/ott-balancer/internal/v1/berror"
	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"go.uber.org/zap"
)

const (
	dialBackoff    = 5 * time.Second
	handshakeWait  = 20 * time.Second
	restartPause   = 1 * time.Second
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
)

// connection owns the lifecycle of one monolith's upstream socket:
// dial, handshake, bridge, and -- after a transient failure or the end of
// an established socket -- restart itself until its context is cancelled.
// A handshake protocol violation ends the task for good.
type connection struct {
	cfg        discovery.ConnectionConfig
	balancerId protocol.BalancerId
	dispatcher *dispatcher.Dispatcher
	bus        *events.Bus
}

// run dials, handshakes, and bridges cfg's endpoint in a loop, retrying
// on transient failure, until ctx is cancelled (the endpoint left
// discovery) or the monolith violates the handshake protocol.
func (c *connection) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, ws, err := c.connectAndHandshake(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if berror.Is(err, berror.ProtocolViolation) {
				logging.Warn(nil, "upstream handshake rejected, giving up on endpoint",
					zap.String("url", c.cfg.URL()), zap.Error(err))
				return
			}
			logging.Warn(nil, "upstream handshake failed, retrying",
				zap.String("url", c.cfg.URL()), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dialBackoff):
			}
			continue
		}

		c.bridge(ctx, m, ws)
		c.dispatcher.RemoveMonolith(m.Id)

		select {
		case <-ctx.Done():
			return
		case <-time.After(restartPause):
		}
	}
}

func (c *connection) connectAndHandshake(ctx context.Context) (*state.Monolith, *websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeWait)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL(), nil)
	if err != nil {
		return nil, nil, berror.Wrap(berror.Transient, "dial monolith", err)
	}

	initPayload, err := protocol.EncodeB2MInit(protocol.B2MInit{BalancerId: c.balancerId})
	if err != nil {
		ws.Close()
		return nil, nil, berror.Wrap(berror.Fatal, "encode b2m init", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, initPayload); err != nil {
		ws.Close()
		return nil, nil, berror.Wrap(berror.Transient, "write b2m init", err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		rejectHandshake(ws)
		return nil, nil, berror.Wrap(berror.Transient, "read m2b init", err)
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil || env.Type != protocol.M2BTypeInit {
		rejectHandshake(ws)
		return nil, nil, berror.New(berror.ProtocolViolation, "expected m2b init as first frame")
	}
	init, err := protocol.DecodeM2BInit(env)
	if err != nil {
		rejectHandshake(ws)
		return nil, nil, berror.Wrap(berror.ProtocolViolation, "decode m2b init", err)
	}

	ws.SetReadDeadline(time.Time{})
	m := c.dispatcher.RegisterMonolith(init.Id, init.Region, c.cfg, init.Port)
	logging.Info(nil, "monolith handshake complete",
		zap.String("monolith", init.Id.String()), zap.String("region", init.Region))
	return m, ws, nil
}

// rejectHandshake closes ws with the library's handshake-rejection code
// (§4.2, §8) rather than a bare TCP close, so a conformant monolith sees
// why the balancer gave up on it.
func rejectHandshake(ws *websocket.Conn) {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(protocol.CloseRejected, "handshake failed")
	ws.WriteMessage(websocket.CloseMessage, msg)
	ws.Close()
}

// bridge multiplexes m.Outbound (control frames) and m.ClientMsgs
// (ordinary client traffic) onto ws, and feeds every inbound frame to
// the dispatcher, until the socket ends.
func (c *connection) bridge(ctx context.Context, m *state.Monolith, ws *websocket.Conn) {
	defer ws.Close()

	readErrs := make(chan error, 1)
	go c.readLoop(ctx, m, ws, readErrs)

	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrs:
			if err != nil {
				logging.Warn(nil, "upstream socket read ended", zap.String("monolith", m.Id.String()), zap.Error(err))
			}
			return
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case payload := <-m.Outbound:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case frame := <-m.ClientMsgs:
			payload, err := protocol.EncodeB2MClientMsg(protocol.B2MClientMsg{ClientId: frame.ClientId, Payload: frame.Payload})
			if err != nil {
				logging.Error(nil, "encode b2m client_msg", zap.Error(err))
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context, m *state.Monolith, ws *websocket.Conn, errs chan<- error) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			logging.Warn(nil, "malformed m2b frame", zap.String("monolith", m.Id.String()), zap.Error(err))
			continue
		}
		if c.bus != nil {
			c.bus.WSFrame(m.Id.String(), "rx")
		}
		c.dispatcher.HandleMonolithMessage(m.Id, env)
	}
}
