package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/dyc3/ott-balancer/internal/v1/discovery/static"
	"github.com/dyc3/ott-balancer/internal/v1/protocol"
)

func (m *Manager) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

func TestManager_RunStartsTaskOnAdd(t *testing.T) {
	d := newRunningDispatcher(t)
	m := NewManager(protocol.NewBalancerId(), d, nil)
	src := static.New()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(runCtx, src)

	cfg := discovery.ConnectionConfig{Host: "127.0.0.1", Port: 1}
	src.Add(cfg)

	require.Eventually(t, func() bool {
		return m.cancelCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_RunStopsTaskOnRemove(t *testing.T) {
	d := newRunningDispatcher(t)
	m := NewManager(protocol.NewBalancerId(), d, nil)
	src := static.New()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(runCtx, src)

	cfg := discovery.ConnectionConfig{Host: "127.0.0.1", Port: 1}
	src.Add(cfg)
	require.Eventually(t, func() bool { return m.cancelCount() == 1 }, time.Second, 10*time.Millisecond)

	src.Remove(cfg)
	require.Eventually(t, func() bool { return m.cancelCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_StartIsIdempotentForSameEndpoint(t *testing.T) {
	d := newRunningDispatcher(t)
	m := NewManager(protocol.NewBalancerId(), d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := discovery.ConnectionConfig{Host: "127.0.0.1", Port: 1}
	m.start(ctx, cfg)
	m.start(ctx, cfg)

	assert.Equal(t, 1, m.cancelCount(), "starting the same endpoint twice must not spawn a second task")
}

func TestManager_RunStopsAllOnContextCancel(t *testing.T) {
	d := newRunningDispatcher(t)
	m := NewManager(protocol.NewBalancerId(), d, nil)
	src := static.New()
	defer src.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	go m.Run(runCtx, src)

	src.Add(discovery.ConnectionConfig{Host: "127.0.0.1", Port: 1})
	require.Eventually(t, func() bool { return m.cancelCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return m.cancelCount() == 0 }, time.Second, 10*time.Millisecond)
}
