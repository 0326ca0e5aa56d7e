package storage

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/colega/zeropool"
	"github.com/docker/go-units"
	"github.com/juju/ratelimit"
	"github.com/trim21/errgo"

	"hermod/internal/meta"
	"hermod/internal/pkg/filepool"
)

// Layout maps torrent byte offsets to files under a base path.
type Layout struct {
	basePath string
	info     meta.Info
}

func NewLayout(basePath string, info meta.Info) *Layout {
	return &Layout{basePath: basePath, info: info}
}

func (l *Layout) BasePath() string {
	return l.basePath
}

func (l *Layout) Path(fileIndex int) string {
	return filepath.Join(l.basePath, l.info.Files[fileIndex].Path)
}

type fileChunk struct {
	fileIndex    int
	offsetOfFile int64
	length       int64
}

// chunks splits torrent range [offset, offset+length) by file.
func (l *Layout) chunks(offset int64, length int64) []fileChunk {
	var result []fileChunk

	for length > 0 {
		index, fileOffset := l.info.FileAt(offset)
		f := l.info.Files[index]

		n := min(f.Length-fileOffset, length)
		if n <= 0 {
			break
		}

		result = append(result, fileChunk{fileIndex: index, offsetOfFile: fileOffset, length: n})

		offset += n
		length -= n
	}

	return result
}

func (l *Layout) open(fileIndex int) (*os.File, error) {
	p := l.Path(fileIndex)
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return nil, err
	}

	return filepool.Open(p)
}

// WriteAt writes p at torrent offset.
func (l *Layout) WriteAt(p []byte, offset int64) error {
	var written int64
	for _, c := range l.chunks(offset, int64(len(p))) {
		err := l.retry(c.fileIndex, func(f *os.File) error {
			_, err := f.WriteAt(p[written:written+c.length], c.offsetOfFile)
			return err
		})
		if err != nil {
			return errgo.Wrap(err, fmt.Sprintf("failed to write file %q", l.Path(c.fileIndex)))
		}

		written += c.length
	}

	return nil
}

// ReadAt fills p from torrent offset.
func (l *Layout) ReadAt(p []byte, offset int64) error {
	var read int64
	for _, c := range l.chunks(offset, int64(len(p))) {
		err := l.retry(c.fileIndex, func(f *os.File) error {
			_, err := f.ReadAt(p[read:read+c.length], c.offsetOfFile)
			return err
		})
		if err != nil {
			return errgo.Wrap(err, fmt.Sprintf("failed to read file %q", l.Path(c.fileIndex)))
		}

		read += c.length
	}

	return nil
}

// retry runs fn once more when pooled handle is evicted concurrently.
func (l *Layout) retry(fileIndex int, fn func(f *os.File) error) error {
	for i := 0; ; i++ {
		f, err := l.open(fileIndex)
		if err != nil {
			return err
		}

		err = fn(f)
		if i == 0 && errors.Is(err, os.ErrClosed) {
			continue
		}

		return err
	}
}

var hashBuffers = zeropool.New(func() []byte {
	return make([]byte, units.MiB)
})

// VerifyPiece reads piece from disk and compares it with its hash.
// bucket is optional.
func (l *Layout) VerifyPiece(index uint32, bucket *ratelimit.Bucket) (bool, error) {
	sum := sha1.New()

	var w io.Writer = sum
	if bucket != nil {
		w = ratelimit.Writer(sum, bucket)
	}

	buf := hashBuffers.Get()
	defer hashBuffers.Put(buf)

	for _, c := range l.chunks(int64(index)*l.info.PieceLength, l.pieceLength(index)) {
		f, err := l.open(c.fileIndex)
		if err != nil {
			return false, err
		}

		n, err := io.CopyBuffer(w, io.NewSectionReader(f, c.offsetOfFile, c.length), buf)
		if err != nil {
			return false, errgo.Wrap(err, fmt.Sprintf("failed to read file %q", f.Name()))
		}

		if n != c.length {
			return false, nil
		}
	}

	return meta.Hash(sum.Sum(nil)) == l.info.Pieces[index], nil
}

func (l *Layout) pieceLength(index uint32) int64 {
	if index == l.info.NumPieces-1 {
		return l.info.LastPieceSize
	}

	return l.info.PieceLength
}

// Prepare creates download directory, optionally preallocates files,
// and returns size of existing non-empty files by index.
func (l *Layout) Prepare(doAlloc bool) (map[int]int64, error) {
	if err := os.MkdirAll(l.basePath, os.ModePerm); err != nil {
		return nil, err
	}

	var existing = make(map[int]int64, len(l.info.Files))
	for i, tf := range l.info.Files {
		p := l.Path(i)
		if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
			return nil, err
		}

		size, err := tryAllocFile(p, tf.Length, doAlloc)
		if err != nil {
			return nil, err
		}

		if size != 0 {
			existing[i] = size
		}
	}

	return existing, nil
}

// PiecesToCheck returns pieces whose bytes are all covered by existing files.
func (l *Layout) PiecesToCheck(existing map[int]int64) []uint32 {
	if len(existing) == 0 {
		return nil
	}

	var r = make([]uint32, 0, l.info.NumPieces)

	for i := uint32(0); i < l.info.NumPieces; i++ {
		shouldCheck := true
		for _, c := range l.chunks(int64(i)*l.info.PieceLength, l.pieceLength(i)) {
			size, ok := existing[c.fileIndex]
			if !ok || c.offsetOfFile+c.length > size {
				shouldCheck = false
				break
			}
		}

		if shouldCheck {
			r = append(r, i)
		}
	}

	return r
}

// Remove deletes all files of torrent.
func (l *Layout) Remove() {
	for i := range l.info.Files {
		p := l.Path(i)
		filepool.Close(p)
		_ = os.Remove(p)
	}
}

// Close drops cached file handles.
func (l *Layout) Close() {
	for i := range l.info.Files {
		filepool.Close(l.Path(i))
	}
}

func tryAllocFile(path string, size int64, doAlloc bool) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, err
		}

		if !doAlloc {
			return 0, nil
		}

		f, err = os.Create(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		return 0, preallocate(f, 0, size)
	}

	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}

	fs := stat.Size()
	if doAlloc && fs < size {
		if err := preallocate(f, fs, size-fs); err != nil {
			return fs, errgo.Wrap(err, "failed to alloc file")
		}
	}

	return fs, nil
}
