// Package static implements discovery.Source over a fixed, manually
// updated endpoint set. It is the in-process analogue of the original
// "manual" discovery method (simple enough to stay in scope as a worked
// contract example) and is what the balancer's own tests use to drive
// the upstream connection manager without a real network.
package static

import "github.com/dyc3/ott-balancer/internal/v1/discovery"

// Source is a discovery.Source whose deltas are pushed explicitly by
// calling Add/Remove. Safe to use from one goroutine (tests); production
// discovery providers are out of scope for this module.
type Source struct {
	deltas chan discovery.Delta
	closed chan struct{}
}

// New creates an empty static source.
func New() *Source {
	return &Source{
		deltas: make(chan discovery.Delta, 16),
		closed: make(chan struct{}),
	}
}

func (s *Source) Deltas() <-chan discovery.Delta { return s.deltas }

// Add announces a new endpoint.
func (s *Source) Add(cfg discovery.ConnectionConfig) {
	select {
	case s.deltas <- discovery.Delta{Added: []discovery.ConnectionConfig{cfg}}:
	case <-s.closed:
	}
}

// Remove announces an endpoint's departure.
func (s *Source) Remove(cfg discovery.ConnectionConfig) {
	select {
	case s.deltas <- discovery.Delta{Removed: []discovery.ConnectionConfig{cfg}}:
	case <-s.closed:
	}
}

func (s *Source) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
		close(s.deltas)
	}
	return nil
}
