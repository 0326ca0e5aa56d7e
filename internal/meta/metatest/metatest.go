// Package metatest builds in-memory torrents for tests.
package metatest

import (
	"crypto/sha1"
	"math/rand"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/samber/lo"
)

type File struct {
	Path   []string
	Length int64
}

// Torrent is a generated torrent and the content it describes.
type Torrent struct {
	MetaInfo metainfo.MetaInfo
	// Content is all files concatenated.
	Content []byte
}

func (t Torrent) Bytes() []byte {
	return lo.Must(bencode.Marshal(t.MetaInfo))
}

// FileContent returns content of the nth file.
func (t Torrent) FileContent(files []File, n int) []byte {
	var offset int64
	for i := 0; i < n; i++ {
		offset += files[i].Length
	}
	return t.Content[offset : offset+files[n].Length]
}

// New generates a torrent with random content.
// A single file without path creates a single-file torrent.
func New(name string, pieceLength int64, files []File, webseeds ...string) Torrent {
	var total int64
	for _, f := range files {
		total += f.Length
	}

	content := make([]byte, total)
	r := rand.New(rand.NewSource(total))
	_, _ = r.Read(content)

	var pieces []byte
	for offset := int64(0); offset < total; offset += pieceLength {
		sum := sha1.Sum(content[offset:min(offset+pieceLength, total)])
		pieces = append(pieces, sum[:]...)
	}

	info := metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
	}

	if len(files) == 1 && len(files[0].Path) == 0 {
		info.Length = total
	} else {
		info.Files = lo.Map(files, func(f File, _ int) metainfo.FileInfo {
			return metainfo.FileInfo{Path: f.Path, Length: f.Length}
		})
	}

	m := metainfo.MetaInfo{
		InfoBytes: lo.Must(bencode.Marshal(info)),
		UrlList:   webseeds,
	}

	return Torrent{MetaInfo: m, Content: content}
}
