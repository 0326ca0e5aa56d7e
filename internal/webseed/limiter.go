package webseed

import (
	"time"
)

const (
	// MaxConnections is the number of parallel requests a healthy webseed may run.
	MaxConnections = 4
	// BlocksPerTask is how many blocks each admitted request should cover.
	BlocksPerTask = 64

	maxConsecutiveFailures = 4
	failurePause           = 120 * time.Second
)

// limiter decides how many requests may run against one webseed.
// It allows MaxConnections parallel requests while the server behaves,
// drops to 1 after a failure until data arrives again,
// and refuses everything for failurePause after maxConsecutiveFailures failures in a row.
//
// All methods must be called with session lock held.
type limiter struct {
	now         func() time.Time
	pausedUntil time.Time
	active      int
	failures    int
}

func (l *limiter) maxActive() int {
	if l.failures > 0 {
		return 1
	}

	return MaxConnections
}

func (l *limiter) paused() bool {
	return l.now().Before(l.pausedUntil)
}

func (l *limiter) tryAdmit() bool {
	if l.paused() || l.active >= l.maxActive() {
		return false
	}

	l.active++
	return true
}

func (l *limiter) release(success bool) {
	if l.active <= 0 {
		panic("webseed: release without admitted request")
	}

	l.active--

	if success {
		return
	}

	l.failures++
	if l.failures >= maxConsecutiveFailures {
		l.pausedUntil = l.now().Add(failurePause)
	}
}

func (l *limiter) gotData() {
	l.failures = 0
	l.pausedUntil = time.Time{}
}

func (l *limiter) capacity() (slots int, blocks int) {
	if l.paused() {
		return 0, 0
	}

	slots = max(l.maxActive()-l.active, 0)

	return slots, slots * BlocksPerTask
}
