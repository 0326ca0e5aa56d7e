package webseed

import (
	"context"
	"sync"

	"hermod/internal/bandwidth"
	"hermod/internal/block"
	"hermod/internal/transport"
)

// Torrent is what a webseed needs to know about the torrent it downloads.
type Torrent interface {
	ID() uint32
	BlockInfo() block.Info
	IsRunning() bool
	IsDone() bool
	HasBlock(b uint32) bool
	// FileAt returns file index and offset inside that file of torrent byte offset.
	FileAt(offset int64) (index int, fileOffset int64)
	FileSize(index int) int64
	// FileSubpath returns path components of file as listed in torrent, including torrent name.
	FileSubpath(index int) []string
	Bandwidth() *bandwidth.Bandwidth
}

// Session owns the lock guarding every webseed and torrent.
type Session interface {
	sync.Locker
	// FindTorrent returns nil if torrent has been removed.
	FindTorrent(id uint32) Torrent
}

// Requests is the piece selection authority.
type Requests interface {
	NextRequests(t Torrent, p *Peer, maxBlocks int) []block.Span
	SentRequests(t Torrent, p *Peer, span block.Span)
}

type Cache interface {
	// WriteBlock stores data of block b asynchronously and calls done after it's written.
	WriteBlock(torrentID uint32, b uint32, data []byte, done func())
}

type Fetcher interface {
	Fetch(ctx context.Context, r transport.Request)
}
