package storage_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/juju/ratelimit"
	"github.com/stretchr/testify/require"

	"hermod/internal/block"
	"hermod/internal/meta"
	"hermod/internal/meta/metatest"
	"hermod/internal/storage"
)

var files = []metatest.File{
	{Path: []string{"a"}, Length: block.Size*2 + 100},
	{Path: []string{"empty"}, Length: 0},
	{Path: []string{"d", "b"}, Length: block.Size + 50},
}

func newLayout(t *testing.T) (*storage.Layout, metatest.Torrent, meta.Info) {
	t.Helper()

	tt := metatest.New("t", block.Size*2, files)
	info, err := meta.FromTorrent(tt.MetaInfo)
	require.NoError(t, err)

	l := storage.NewLayout(t.TempDir(), info)
	t.Cleanup(l.Close)

	return l, tt, info
}

func TestLayoutWriteAcrossFiles(t *testing.T) {
	l, tt, _ := newLayout(t)

	_, err := l.Prepare(false)
	require.NoError(t, err)

	require.NoError(t, l.WriteAt(tt.Content, 0))

	a, err := os.ReadFile(filepath.Join(l.BasePath(), "a"))
	require.NoError(t, err)
	require.Equal(t, tt.FileContent(files, 0), a)

	b, err := os.ReadFile(filepath.Join(l.BasePath(), "d", "b"))
	require.NoError(t, err)
	require.Equal(t, tt.FileContent(files, 2), b)

	var buf = make([]byte, 300)
	require.NoError(t, l.ReadAt(buf, block.Size*2))
	require.Equal(t, tt.Content[block.Size*2:block.Size*2+300], buf)
}

func TestVerifyPiece(t *testing.T) {
	l, tt, info := newLayout(t)

	require.NoError(t, l.WriteAt(tt.Content, 0))

	for i := uint32(0); i < info.NumPieces; i++ {
		ok, err := l.VerifyPiece(i, ratelimit.NewBucketWithRate(1<<30, 1<<30))
		require.NoError(t, err)
		require.True(t, ok, "piece %d", i)
	}

	require.NoError(t, l.WriteAt([]byte("broken"), 10))

	ok, err := l.VerifyPiece(0, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPiecesToCheck(t *testing.T) {
	l, tt, _ := newLayout(t)

	require.NoError(t, l.WriteAt(tt.Content[:block.Size*2+100], 0))

	existing, err := l.Prepare(false)
	require.NoError(t, err)
	require.Equal(t, map[int]int64{0: block.Size*2 + 100}, existing)

	// piece 0 is fully inside file "a", piece 1 needs file "d/b"
	require.Equal(t, []uint32{0}, l.PiecesToCheck(existing))
}

func TestCacheOrder(t *testing.T) {
	l, tt, info := newLayout(t)

	c := storage.NewCache(func(torrentID uint32, err error) {
		t.Errorf("unexpected write error %v", err)
	})

	c.Register(1, l)

	var m sync.Mutex
	var order []uint32

	bi := info.BlockInfo()
	for b := uint32(0); b < bi.BlockCount(); b++ {
		start := int64(b) * block.Size
		data := tt.Content[start : start+int64(bi.BlockSize(b))]
		c.WriteBlock(1, b, data, func() {
			m.Lock()
			order = append(order, b)
			m.Unlock()
		})
	}

	// unknown torrent is dropped
	c.WriteBlock(2, 0, []byte("x"), func() { t.Error("should not be called") })

	c.Close()

	require.Equal(t, []uint32{0, 1, 2, 3}, order)

	var buf = make([]byte, len(tt.Content))
	require.NoError(t, l.ReadAt(buf, 0))
	require.Equal(t, tt.Content, buf)
}

func TestCacheRecoverCallbackPanic(t *testing.T) {
	l, tt, _ := newLayout(t)

	c := storage.NewCache(nil)
	c.Register(1, l)

	var called bool
	c.WriteBlock(1, 0, tt.Content[:block.Size], func() { panic("boom") })
	c.WriteBlock(1, 1, tt.Content[block.Size:block.Size*2], func() { called = true })
	c.Close()

	require.True(t, called)
}

func TestCacheUnregisterStopsWrites(t *testing.T) {
	l, tt, info := newLayout(t)

	c := storage.NewCache(nil)
	c.Register(1, l)

	bi := info.BlockInfo()
	for i := 0; i < 200; i++ {
		for b := uint32(0); b < bi.BlockCount(); b++ {
			start := int64(b) * block.Size
			c.WriteBlock(1, b, tt.Content[start:start+int64(bi.BlockSize(b))], nil)
		}
	}

	c.Unregister(1)
	l.Close()
	require.NoError(t, os.RemoveAll(l.BasePath()))

	c.Close()

	require.NoDirExists(t, l.BasePath())
}
