package state

import "github.com/dyc3/ott-balancer/internal/v1/protocol"

// MonolithSummary is one monolith's entry in a Context snapshot.
type MonolithSummary struct {
	Id        protocol.MonolithId `json:"id"`
	Region    string              `json:"region"`
	ProxyPort uint16              `json:"proxy_port"`
	Rooms     []RoomSummary       `json:"rooms"`
}

// RoomSummary is one room's entry in a Context snapshot.
type RoomSummary struct {
	Name      protocol.RoomName `json:"name"`
	LoadEpoch protocol.LoadEpoch `json:"load_epoch"`
	Clients   int               `json:"clients"`
}

// Snapshot is the whole-context view served by /api/state (§4.6).
type Snapshot struct {
	Region    string            `json:"region"`
	Monoliths []MonolithSummary `json:"monoliths"`
	Clients   int               `json:"clients"`
}

// MonolithCount returns the number of currently connected monoliths.
func (c *Context) MonolithCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.monoliths)
}

// RoomCount returns the number of rooms currently loaded across every
// monolith.
func (c *Context) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.monoliths {
		n += len(m.Rooms)
	}
	return n
}

// Snapshot renders the whole routing context as a JSON-ready value
// (§4.6's /api/state).
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{Region: c.region, Clients: len(c.clients)}
	for id, m := range c.monoliths {
		ms := MonolithSummary{Id: id, Region: m.Region, ProxyPort: m.ProxyPort}
		for name, r := range m.Rooms {
			loc := c.locators[name]
			ms.Rooms = append(ms.Rooms, RoomSummary{Name: name, LoadEpoch: loc.LoadEpoch, Clients: len(r.Clients)})
		}
		out.Monoliths = append(out.Monoliths, ms)
	}
	return out
}
