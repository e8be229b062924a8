package clock

import (
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Clock Interface
// --------------------------------------------------------------------------

// Clock abstracts time retrieval so that TTL computation is deterministic
// during log replay and in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// --------------------------------------------------------------------------
// Wall Clock
// --------------------------------------------------------------------------

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by the system wall clock.
func Real() Clock { return realClock{} }

// --------------------------------------------------------------------------
// Mock Clock
// --------------------------------------------------------------------------

// Mock is a Clock that reports the wall-clock time until Set is called,
// after which it reports the fixed time until Reset.
//
// The server owns a single Mock shared by the store and all databases.
// During write-ahead log replay the router pins it to each record's logged
// timestamp so that TTLs computed during replay reflect the original
// execution time, not "now".
//
// Thread-safety: all methods are safe for concurrent use.
type Mock struct {
	mu    sync.RWMutex
	fixed *time.Time
}

// NewMock creates a Mock that initially follows the wall clock.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fixed != nil {
		return *m.fixed
	}
	return time.Now()
}

// Set pins the clock to the given time.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = &t
}

// Reset reverts the clock to wall-clock time.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed = nil
}
