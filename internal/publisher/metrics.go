package publisher

import "sync"

// Metrics is the publisher's owned counter set. One instance is created
// per Publisher at construction and shared with nothing else; reads and
// writes are serialized by a single mutex.
type Metrics struct {
	mu        sync.Mutex
	published int64
	retried   int64
	failed    int64
	backedUp  int64
}

// NewMetrics creates an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) incPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *Metrics) incRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

func (m *Metrics) incFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *Metrics) incBackedUp() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backedUp++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Published int64
	Retried   int64
	Failed    int64
	BackedUp  int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Published: m.published,
		Retried:   m.retried,
		Failed:    m.failed,
		BackedUp:  m.backedUp,
	}
}
