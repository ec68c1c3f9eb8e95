// Package dispatcher is the sole writer of the shared routing state
// (§4.4, §5): every external event -- a client connecting, a monolith
// completing its handshake, a monolith sending a control frame, either
// side disconnecting -- arrives on one of a small set of bounded admission
// channels and is applied to state.Context from a single goroutine.
package dispatcher

import (
	"context"

	"github.com/dyc3/ott-balancer/internal/v1/berror"
	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/metrics"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"github.com/dyc3/ott-balancer/internal/v1/state"
	"go.uber.org/zap"
)

// Admission/message queue sizes (§5): small for admission so a burst of
// connects backpressures the accepting loop, larger for steady-state
// monolith traffic.
const (
	admissionQueueSize = 20
	messageQueueSize   = 100
)

type joinReq struct {
	id    protocol.ClientId
	room  protocol.RoomName
	token string
	reply chan joinReply
}

type joinReply struct {
	link *state.ClientLink
	err  error
}

type monolithAddReq struct {
	id        protocol.MonolithId
	region    string
	conn      discovery.ConnectionConfig
	proxyPort uint16
	reply     chan *state.Monolith
}

type monolithMsg struct {
	source protocol.MonolithId
	env    protocol.Envelope
}

// Dispatcher owns state.Context and serializes every mutation through
// Run's select loop.
type Dispatcher struct {
	ctx *state.Context
	bus *events.Bus

	joins          chan joinReq
	leaves         chan protocol.ClientId
	monolithAdds   chan monolithAddReq
	monolithGone   chan protocol.MonolithId
	monolithMsgs   chan monolithMsg
}

// New creates a Dispatcher over the given routing context.
func New(ctx *state.Context, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		ctx:          ctx,
		bus:          bus,
		joins:        make(chan joinReq, admissionQueueSize),
		leaves:       make(chan protocol.ClientId, admissionQueueSize),
		monolithAdds: make(chan monolithAddReq, admissionQueueSize),
		monolithGone: make(chan protocol.MonolithId, admissionQueueSize),
		monolithMsgs: make(chan monolithMsg, messageQueueSize),
	}
}

// Run processes events until ctx is cancelled. It is the only goroutine
// that ever calls a state.Context mutation method.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.joins:
			link, err := d.ctx.JoinClient(req.id, req.room, req.token)
			if err == nil {
				metrics.IncClientConnection()
			}
			metrics.DispatcherEvents.WithLabelValues("join", statusOf(err)).Inc()
			req.reply <- joinReply{link: link, err: err}
		case id := <-d.leaves:
			d.ctx.LeaveClient(id)
			metrics.DecClientConnection()
			metrics.DispatcherEvents.WithLabelValues("leave", "ok").Inc()
		case req := <-d.monolithAdds:
			m := d.ctx.AddMonolith(req.id, req.region, req.conn, req.proxyPort)
			metrics.IncMonolithConnection()
			metrics.DispatcherEvents.WithLabelValues("monolith_add", "ok").Inc()
			req.reply <- m
		case id := <-d.monolithGone:
			d.ctx.RemoveMonolith(id)
			metrics.DecMonolithConnection()
			metrics.DispatcherEvents.WithLabelValues("monolith_remove", "ok").Inc()
		case msg := <-d.monolithMsgs:
			d.handleMonolithMsg(msg)
		}
	}
}

func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// JoinClient submits a client join request and blocks for the dispatcher's
// reply. The admission channel is bounded, so this call backpressures a
// caller when the dispatcher is saturated rather than growing unbounded.
func (d *Dispatcher) JoinClient(id protocol.ClientId, room protocol.RoomName, token string) (*state.ClientLink, error) {
	reply := make(chan joinReply, 1)
	d.joins <- joinReq{id: id, room: room, token: token, reply: reply}
	r := <-reply
	return r.link, r.err
}

// LeaveClient submits a client departure; fire-and-forget.
func (d *Dispatcher) LeaveClient(id protocol.ClientId) {
	d.leaves <- id
}

// RegisterMonolith submits a newly handshaken monolith and blocks for its
// Monolith record.
func (d *Dispatcher) RegisterMonolith(id protocol.MonolithId, region string, conn discovery.ConnectionConfig, proxyPort uint16) *state.Monolith {
	reply := make(chan *state.Monolith, 1)
	d.monolithAdds <- monolithAddReq{id: id, region: region, conn: conn, proxyPort: proxyPort, reply: reply}
	return <-reply
}

// RemoveMonolith submits a monolith departure; fire-and-forget.
func (d *Dispatcher) RemoveMonolith(id protocol.MonolithId) {
	d.monolithGone <- id
}

// HandleMonolithMessage submits a decoded control frame from a monolith
// for processing on the dispatcher goroutine.
func (d *Dispatcher) HandleMonolithMessage(source protocol.MonolithId, env protocol.Envelope) {
	d.monolithMsgs <- monolithMsg{source: source, env: env}
}

func (d *Dispatcher) handleMonolithMsg(msg monolithMsg) {
	var err error
	switch msg.env.Type {
	case protocol.M2BTypeLoaded:
		var m protocol.M2BLoaded
		if err = msg.env.Into(&m); err == nil {
			err = d.ctx.AddOrSync(msg.source, m.Room, m.LoadEpoch)
		}
	case protocol.M2BTypeUnloaded:
		var m protocol.M2BUnloaded
		if err = msg.env.Into(&m); err == nil {
			err = d.ctx.RemoveRoom(msg.source, m.Name)
		}
	case protocol.M2BTypeGossip:
		var m protocol.M2BGossip
		if err = msg.env.Into(&m); err == nil {
			err = d.ctx.Gossip(msg.source, m.Rooms)
		}
	case protocol.M2BTypeRoomMsg:
		var m protocol.M2BRoomMsg
		if err = msg.env.Into(&m); err == nil {
			if m.ClientId != nil {
				err = d.ctx.UnicastRoomMsg(msg.source, m.Room, *m.ClientId, []byte(m.Payload))
			} else {
				err = d.ctx.BroadcastRoomMsg(msg.source, m.Room, []byte(m.Payload))
			}
		}
	case protocol.M2BTypeKick:
		var m protocol.M2BKick
		if err = msg.env.Into(&m); err == nil {
			err = d.ctx.Kick(m.ClientId, m.Reason)
		}
	case protocol.M2BTypeInit:
		// A monolith re-sends Init only as a benign post-handshake
		// artifact; log and ignore it rather than treating it as a
		// protocol violation.
		logging.Info(nil, "ignoring post-handshake init", zap.String("monolith", msg.source.String()))
	default:
		err = berror.New(berror.ProtocolViolation, "unknown m2b frame type: "+msg.env.Type)
	}

	status := "ok"
	if err != nil {
		status = "error"
		if berror.Is(err, berror.StaleLoad) {
			status = "stale_load"
		}
		logging.Warn(nil, "monolith message failed",
			zap.String("type", msg.env.Type), zap.String("monolith", msg.source.String()), zap.Error(err))
	}
	metrics.DispatcherEvents.WithLabelValues(msg.env.Type, status).Inc()
	if d.bus != nil {
		d.bus.Publish(events.Event{Kind: "m2b", Fields: map[string]any{
			"type":     msg.env.Type,
			"monolith": msg.source.String(),
			"status":   status,
		}})
	}
}
