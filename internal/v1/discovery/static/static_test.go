package static

import (
	"testing"
	"time"

	"github.com/dyc3/ott-balancer/internal/v1/discovery"
	"github.com/stretchr/testify/assert"
)

func TestSource_AddEmitsDelta(t *testing.T) {
	s := New()
	defer s.Close()

	cfg := discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}
	go s.Add(cfg)

	select {
	case delta := <-s.Deltas():
		assert.Equal(t, []discovery.ConnectionConfig{cfg}, delta.Added)
		assert.Empty(t, delta.Removed)
	case <-time.After(time.Second):
		t.Fatal("expected a delta")
	}
}

func TestSource_RemoveEmitsDelta(t *testing.T) {
	s := New()
	defer s.Close()

	cfg := discovery.ConnectionConfig{Host: "10.0.0.1", Port: 8080}
	go s.Remove(cfg)

	select {
	case delta := <-s.Deltas():
		assert.Equal(t, []discovery.ConnectionConfig{cfg}, delta.Removed)
		assert.Empty(t, delta.Added)
	case <-time.After(time.Second):
		t.Fatal("expected a delta")
	}
}

func TestSource_CloseStopsDeltas(t *testing.T) {
	s := New()
	require := assert.New(t)
	require.NoError(s.Close())

	_, ok := <-s.Deltas()
	require.False(ok, "Deltas channel should be closed")
}

func TestSource_CloseIsIdempotent(t *testing.T) {
	s := New()
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestConnectionConfig_URL(t *testing.T) {
	cfg := discovery.ConnectionConfig{Host: "monolith.internal", Port: 9000}
	assert.Equal(t, "ws://monolith.internal:9000", cfg.URL())
}
