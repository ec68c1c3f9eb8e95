package state

// Channel buffer sizes (§5). Admission queues (new-client/new-monolith)
// are small and backpressure the accepting loop when full; data queues
// (broadcast, unicast, upstream traffic) are larger and drop for a single
// slow subscriber rather than block the sender.
const (
	admissionQueueSize = 20
	dataQueueSize      = 100
)
