// Package upstream owns the balancer's outbound connections to
// monoliths: discovering endpoints, dialing and handshaking each one,
// and bridging its socket to the dispatcher and to client traffic
// (§4.2, §4.3).
package upstream

import (
	"context"
	"sync"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/dispatcher"
	"github.com/dyc3/ott-balancer/internal/v1/events"
	"github.com/dyc3/ott-balancer/internal/v1/logging"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
	"go.uber.org/zap"
)

// Manager supervises one connection task per discovered endpoint,
// starting and stopping them as discovery.Source reports deltas.
type Manager struct {
	balancerId protocol.BalancerId
	dispatcher *dispatcher.Dispatcher
	bus        *events.Bus

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewManager creates a Manager for the given dispatcher.
func NewManager(balancerId protocol.BalancerId, d *dispatcher.Dispatcher, bus *events.Bus) *Manager {
	return &Manager{
		balancerId: balancerId,
		dispatcher: d,
		bus:        bus,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Run consumes discovery deltas until src closes or ctx is cancelled,
// spawning and tearing down per-endpoint connection tasks as it goes.
func (m *Manager) Run(ctx context.Context, src discovery.Source) {
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return
		case delta, ok := <-src.Deltas():
			if !ok {
				m.stopAll()
				return
			}
			for _, cfg := range delta.Added {
				m.start(ctx, cfg)
			}
			for _, cfg := range delta.Removed {
				m.stop(cfg)
			}
		}
	}
}

func (m *Manager) start(parent context.Context, cfg discovery.ConnectionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cfg.URL()
	if _, exists := m.cancels[key]; exists {
		return
	}
	connCtx, cancel := context.WithCancel(parent)
	m.cancels[key] = cancel

	conn := &connection{
		cfg:        cfg,
		balancerId: m.balancerId,
		dispatcher: m.dispatcher,
		bus:        m.bus,
	}
	go conn.run(connCtx)
	logging.Info(nil, "upstream endpoint added", zap.String("url", key))
}

func (m *Manager) stop(cfg discovery.ConnectionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cfg.URL()
	if cancel, ok := m.cancels[key]; ok {
		cancel()
		delete(m.cancels, key)
		logging.Info(nil, "upstream endpoint removed", zap.String("url", key))
	}
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = make(map[string]context.CancelFunc)
}
