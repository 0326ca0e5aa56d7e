package webseed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newLimiter() (*limiter, *fakeClock) {
	c := &fakeClock{t: time.Unix(1700000000, 0)}
	return &limiter{now: c.now}, c
}

func TestLimiterCapacity(t *testing.T) {
	l, _ := newLimiter()

	slots, blocks := l.capacity()
	require.Equal(t, MaxConnections, slots)
	require.Equal(t, MaxConnections*BlocksPerTask, blocks)

	for i := 0; i < MaxConnections; i++ {
		require.True(t, l.tryAdmit())
	}

	require.False(t, l.tryAdmit())

	slots, blocks = l.capacity()
	require.Zero(t, slots)
	require.Zero(t, blocks)

	l.release(true)
	require.Equal(t, MaxConnections-1, l.active)
	require.True(t, l.tryAdmit())
}

func TestLimiterReleaseWithoutAdmit(t *testing.T) {
	l, _ := newLimiter()

	require.Panics(t, func() { l.release(true) })
	require.Zero(t, l.active)
}

func TestLimiterSingleSlotAfterFailure(t *testing.T) {
	l, _ := newLimiter()

	require.True(t, l.tryAdmit())
	l.release(false)

	slots, _ := l.capacity()
	require.Equal(t, 1, slots)

	require.True(t, l.tryAdmit())
	require.False(t, l.tryAdmit())

	l.gotData()
	require.True(t, l.tryAdmit())
}

func TestLimiterPause(t *testing.T) {
	l, clock := newLimiter()

	for i := 0; i < maxConsecutiveFailures; i++ {
		require.True(t, l.tryAdmit())
		l.release(false)
	}

	require.False(t, l.tryAdmit())
	slots, blocks := l.capacity()
	require.Zero(t, slots)
	require.Zero(t, blocks)

	clock.advance(failurePause - time.Second)
	require.False(t, l.tryAdmit())

	clock.advance(time.Second)
	require.True(t, l.tryAdmit())
	require.False(t, l.tryAdmit(), "still limited to one request until data arrives")
}

func TestLimiterDataLiftsPause(t *testing.T) {
	l, _ := newLimiter()

	for i := 0; i < maxConsecutiveFailures; i++ {
		require.True(t, l.tryAdmit())
		l.release(false)
	}
	require.False(t, l.tryAdmit())

	l.gotData()
	require.Zero(t, l.failures)

	slots, _ := l.capacity()
	require.Equal(t, MaxConnections, slots)
}

func TestLimiterNeverNegative(t *testing.T) {
	l, clock := newLimiter()

	var admitted int
	for i := 0; i < 1000; i++ {
		switch i % 7 {
		case 0, 1, 3:
			if l.tryAdmit() {
				admitted++
			}
		case 2, 5:
			if admitted > 0 {
				l.release(i%2 == 0)
				admitted--
			}
		case 4:
			clock.advance(time.Minute)
		case 6:
			if admitted > 0 {
				l.gotData()
			}
		}

		require.GreaterOrEqual(t, l.active, 0)
		require.Equal(t, admitted, l.active)
		require.LessOrEqual(t, l.active, MaxConnections)
	}
}
