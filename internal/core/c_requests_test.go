package core

import (
	"testing"
	"time"

	"github.com/kelindar/bitmap"
	"github.com/stretchr/testify/require"

	"hermod/internal/block"
	"hermod/internal/config"
	"hermod/internal/meta"
	"hermod/internal/meta/metatest"
	"hermod/internal/webseed"
)

func newTestDownload(t *testing.T, blocks int64) (*Client, *Download) {
	t.Helper()

	cfg := config.Default()
	c := New(cfg, t.TempDir())
	t.Cleanup(c.Shutdown)

	tt := metatest.New("t", block.Size*2, []metatest.File{{Length: blocks * block.Size}})
	info, err := meta.FromTorrent(tt.MetaInfo)
	require.NoError(t, err)

	return c, c.NewDownload(1, nil, info, t.TempDir(), nil)
}

func TestNextRequests(t *testing.T) {
	c, d := newTestDownload(t, 200)

	d.have.Set(1)
	d.active.SetRange(3, 5)

	spans := c.NextRequests(d, nil, 100)
	require.Equal(t, []block.Span{
		{Begin: 0, End: 1},
		{Begin: 2, End: 3},
		{Begin: 5, End: 5 + webseed.BlocksPerTask},
		{Begin: 5 + webseed.BlocksPerTask, End: 5 + webseed.BlocksPerTask + 34},
	}, spans)

	c.SentRequests(d, nil, block.Span{Begin: 0, End: 1})
	require.True(t, d.active.Get(0))

	spans = c.NextRequests(d, nil, 1)
	require.Equal(t, []block.Span{{Begin: 2, End: 3}}, spans)
}

func TestNextRequestsSkipsPiecesPeerLacks(t *testing.T) {
	c, d := newTestDownload(t, 10)

	var have bitmap.Bitmap
	have.Set(0)
	have.Set(2)
	have.Set(3)

	c.m.Lock()
	defer c.m.Unlock()

	p := webseed.New(webseed.Config{
		Session:      c,
		Requests:     c,
		Cache:        c.cache,
		Fetcher:      c.http,
		URL:          "http://example.com/",
		IdleInterval: -1,
		TorrentID:    d.id,
		PieceCount:   d.info.NumPieces,
		Have:         have,
	})
	defer p.Close()

	require.Equal(t, []block.Span{{Begin: 0, End: 2}, {Begin: 4, End: 8}}, c.NextRequests(d, p, 100))
	require.Equal(t, []block.Span{{Begin: 0, End: 2}, {Begin: 4, End: 5}}, c.NextRequests(d, p, 3))
}

func TestRejectedBlocksAreRequestedAgain(t *testing.T) {
	c, d := newTestDownload(t, 10)

	c.SentRequests(d, nil, block.Span{Begin: 0, End: 10})
	require.Empty(t, c.NextRequests(d, nil, 100))

	d.onEvent(nil, webseed.Event{Type: webseed.EventRejected, Block: 4})
	require.Equal(t, []block.Span{{Begin: 4, End: 5}}, c.NextRequests(d, nil, 100))
}

func TestBlockEventsVerifyPiece(t *testing.T) {
	c, d := newTestDownload(t, 4)

	c.m.Lock()
	d.onEvent(nil, webseed.Event{Type: webseed.EventBlock, Block: 0})
	require.True(t, d.have.Get(0))
	require.Empty(t, d.verifying)

	d.onEvent(nil, webseed.Event{Type: webseed.EventBlock, Block: 1})
	require.Contains(t, d.verifying, uint32(0))
	c.m.Unlock()

	require.Eventually(t, func() bool {
		c.m.Lock()
		defer c.m.Unlock()
		return len(d.verifying) == 0
	}, time.Second*5, time.Millisecond*10)

	// nothing was written to disk, so the piece is corrupted
	c.m.Lock()
	defer c.m.Unlock()
	require.False(t, d.pieces.Get(0))
	require.False(t, d.have.Get(0))
	require.EqualValues(t, block.Size*2, d.corrupted.Load())
}
