package storage

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	"hermod/internal/block"
)

type writeJob struct {
	data      []byte
	done      func()
	torrentID uint32
	block     uint32
}

// Cache writes blocks to disk on a single background goroutine.
// Writes and their completion callbacks run in submission order.
type Cache struct {
	log     zerolog.Logger
	onError func(torrentID uint32, err error)
	layouts map[uint32]*Layout
	cond    *sync.Cond
	stopped chan struct{}
	queue   []writeJob
	m       sync.Mutex
	writing uint32
	busy    bool
	closed  bool
}

// NewCache starts the writer. onError is called from the writer goroutine when a block fails to be written,
// the block completion callback is not called in that case.
func NewCache(onError func(torrentID uint32, err error)) *Cache {
	c := &Cache{
		log:     log.With().Str("component", "cache").Logger(),
		onError: onError,
		layouts: make(map[uint32]*Layout),
		stopped: make(chan struct{}),
	}

	c.cond = sync.NewCond(&c.m)

	go c.run()

	return c
}

func (c *Cache) Register(torrentID uint32, l *Layout) {
	c.m.Lock()
	c.layouts[torrentID] = l
	c.m.Unlock()
}

// Unregister drops pending writes of torrent and waits for its in-flight write.
// Files of torrent are not touched by the cache once it returns.
// It may be called with the session lock held, completion callbacks run after the wait is released.
func (c *Cache) Unregister(torrentID uint32) {
	c.m.Lock()
	defer c.m.Unlock()

	delete(c.layouts, torrentID)
	for c.busy && c.writing == torrentID {
		c.cond.Wait()
	}
}

// WriteBlock queues data of block b to be written. It never blocks.
func (c *Cache) WriteBlock(torrentID uint32, b uint32, data []byte, done func()) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return
	}

	c.queue = append(c.queue, writeJob{torrentID: torrentID, block: b, data: data, done: done})
	c.cond.Broadcast()
}

// Close writes all pending blocks and stops the writer.
func (c *Cache) Close() {
	c.m.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.m.Unlock()

	<-c.stopped
}

func (c *Cache) run() {
	defer close(c.stopped)

	for {
		c.m.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}

		if len(c.queue) == 0 {
			c.m.Unlock()
			return
		}

		job := c.queue[0]
		c.queue[0] = writeJob{}
		c.queue = c.queue[1:]
		l := c.layouts[job.torrentID]
		if l == nil {
			c.m.Unlock()
			continue
		}

		c.busy = true
		c.writing = job.torrentID
		c.m.Unlock()

		err := l.WriteAt(job.data, int64(job.block)*block.Size)

		c.m.Lock()
		c.busy = false
		c.cond.Broadcast()
		c.m.Unlock()

		c.finish(job, err)
	}
}

func (c *Cache) finish(job writeJob, err error) {
	if err != nil {
		c.log.Err(err).Uint32("torrent", job.torrentID).Uint32("block", job.block).Msg("failed to write block")
		if c.onError != nil {
			c.onError(job.torrentID, err)
		}
		return
	}

	if job.done == nil {
		return
	}

	var pc panics.Catcher
	pc.Try(job.done)
	if r := pc.Recovered(); r != nil {
		c.log.Error().Err(r.AsError()).Uint32("torrent", job.torrentID).Uint32("block", job.block).Msg("panic in block write callback")
	}
}
