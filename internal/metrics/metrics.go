package metrics

import "sync"

// Event names. Everything the relay counts is an event label on a single
// counter metric; see PrometheusHandler.
const (
	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"

	ClientJoined     = "client_joined"
	ClientLeft       = "client_left"
	ClientSuperseded = "client_superseded"

	SignalForwarded      = "signal_forwarded"
	SignalDropNoTarget   = "signal_drop_no_target"
	SignalDropUntargeted = "signal_drop_untargeted"

	DecodeError = "decode_error"
	SendFailure = "send_failure"
	RateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay intentionally does not pull in a metrics client library; the
// counters it needs are flat event totals, and keeping the registry in-process
// keeps routing logic trivially testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
