package bgpspeak

import (
	"sync"
	"time"
)

// Clock is a monotonic time source. The engine never calls time.Now()
// directly so a host can substitute a manually-advanced test double; see
// TestClock.
type Clock interface {
	Now() time.Time
}

// systemClock is the default Clock, backed by the real wall clock. There is
// no third-party "fake clock" library in the retrieved pack (the teacher
// relies directly on time.Timer, which this engine cannot use since it never
// blocks); stdlib time.Time comparisons are the simplest faithful
// implementation and are used here without apology.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is the default, real-time Clock.
var SystemClock Clock = systemClock{}

// TestClock is a Clock whose value only changes when Set or Advance is
// called. It is safe for concurrent use.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock returns a TestClock initialized to t.
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{now: t}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to t.
func (c *TestClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
