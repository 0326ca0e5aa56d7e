package bandwidth

import (
	"sync"
	"time"

	"github.com/mxk/go-flowrate/flowrate"
	"golang.org/x/time/rate"
)

type Direction uint8

const (
	Up Direction = iota
	Down
)

// Bandwidth is a node of the speed accounting tree. Bytes consumed by a node are
// also consumed by all its parents.
type Bandwidth struct {
	parent *Bandwidth
	// only download direction is limited
	limiter *rate.Limiter

	raw   [2]*flowrate.Monitor
	piece [2]*flowrate.Monitor

	lastPiece [2]time.Time

	m sync.RWMutex
}

func New(parent *Bandwidth) *Bandwidth {
	b := &Bandwidth{
		parent:  parent,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}

	for _, dir := range []Direction{Up, Down} {
		b.raw[dir] = flowrate.New(time.Second, time.Second)
		b.piece[dir] = flowrate.New(time.Second, time.Second)
	}

	return b
}

func (b *Bandwidth) Parent() *Bandwidth {
	return b.parent
}

// NotifyConsumed records n bytes moved in dir at time now.
// isPieceData is false for protocol overhead.
func (b *Bandwidth) NotifyConsumed(dir Direction, n int, isPieceData bool, now time.Time) {
	for node := b; node != nil; node = node.parent {
		node.raw[dir].Update(n)
		if isPieceData {
			node.piece[dir].Update(n)
			node.m.Lock()
			node.lastPiece[dir] = now
			node.m.Unlock()
		}
	}
}

// PieceSpeed returns current piece data speed in bytes per second.
func (b *Bandwidth) PieceSpeed(dir Direction) int64 {
	return b.piece[dir].Status().CurRate
}

func (b *Bandwidth) RawSpeed(dir Direction) int64 {
	return b.raw[dir].Status().CurRate
}

func (b *Bandwidth) PieceBytes(dir Direction) int64 {
	return b.piece[dir].Status().Bytes
}

func (b *Bandwidth) LastPieceAt(dir Direction) time.Time {
	b.m.RLock()
	defer b.m.RUnlock()

	return b.lastPiece[dir]
}

// SetDownloadLimit sets a limit in bytes per second, 0 means unlimited.
func (b *Bandwidth) SetDownloadLimit(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		b.limiter.SetLimit(rate.Inf)
		b.limiter.SetBurst(0)
		return
	}

	b.limiter.SetLimit(rate.Limit(bytesPerSecond))
	b.limiter.SetBurst(int(bytesPerSecond))
}

// Limiter returns the download limiter of this node.
func (b *Bandwidth) Limiter() *rate.Limiter {
	return b.limiter
}

// Limiters returns download limiters from this node up to the root.
func (b *Bandwidth) Limiters() []*rate.Limiter {
	var l []*rate.Limiter
	for node := b; node != nil; node = node.parent {
		l = append(l, node.limiter)
	}
	return l
}
