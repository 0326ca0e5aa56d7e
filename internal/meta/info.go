package meta

import (
	"errors"
	"path/filepath"
	"sort"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/samber/lo"

	"hermod/internal/block"
)

type File struct {
	// Path is relative to download directory, joined with os path separator.
	Path string
	// Subpath is the path as listed in torrent, used to build webseed url.
	Subpath []string
	Offset  int64
	Length  int64
}

type Info struct {
	Name          string
	Pieces        []Hash
	Files         []File
	WebSeeds      []string
	TotalLength   int64
	PieceLength   int64
	LastPieceSize int64
	Hash          Hash
	NumPieces     uint32
	Private       bool
}

var ErrNotV1Torrent = errors.New("meta info has no v1 info")
var ErrInvalidLength = errors.New("meta info has invalid piece count")

func ParseV1(b []byte) (Info, error) {
	var m metainfo.MetaInfo
	err := bencode.Unmarshal(b, &m)
	if err != nil {
		return Info{}, err
	}

	return FromTorrent(m)
}

func FromTorrent(m metainfo.MetaInfo) (Info, error) {
	info, err := m.UnmarshalInfo()
	if err != nil {
		return Info{}, err
	}

	if !info.HasV1() {
		return Info{}, ErrNotV1Torrent
	}

	var pieces = make([]Hash, info.NumPieces())
	for i := 0; i < info.NumPieces(); i++ {
		pieces[i] = Hash(info.Piece(i).V1Hash().Unwrap())
	}

	var files []File
	if len(info.Files) != 0 {
		var offset int64
		files = lo.Map(info.Files, func(item metainfo.FileInfo, index int) File {
			p := append([]string{info.BestName()}, item.BestPath()...)
			f := File{
				Path:    filepath.Join(item.BestPath()...),
				Subpath: p,
				Offset:  offset,
				Length:  item.Length,
			}
			offset += item.Length
			return f
		})
	} else {
		files = []File{
			{
				Path:    info.BestName(),
				Subpath: []string{info.BestName()},
				Length:  info.TotalLength(),
			},
		}
	}

	i := Info{
		Hash:          Hash(m.HashInfoBytes()),
		Private:       lo.FromPtr(info.Private),
		Name:          info.BestName(),
		TotalLength:   info.TotalLength(),
		Pieces:        pieces,
		NumPieces:     uint32(info.NumPieces()),
		PieceLength:   info.PieceLength,
		LastPieceSize: info.TotalLength() - info.PieceLength*int64(info.NumPieces()-1),
		Files:         files,
		WebSeeds:      lo.Uniq(lo.Compact([]string(m.UrlList))),
	}

	if i.PieceLength <= 0 || int64(i.NumPieces) != (i.TotalLength+i.PieceLength-1)/i.PieceLength {
		return Info{}, ErrInvalidLength
	}

	return i, nil
}

func (i Info) BlockInfo() block.Info {
	return block.NewInfo(i.TotalLength, uint32(i.PieceLength))
}

// FileAt returns the index of file holding torrent byte offset, and the offset inside that file.
// Empty files are never returned.
func (i Info) FileAt(offset int64) (int, int64) {
	index := sort.Search(len(i.Files), func(n int) bool {
		f := i.Files[n]
		return f.Offset+f.Length > offset
	})

	if index == len(i.Files) {
		index = len(i.Files) - 1
	}

	return index, offset - i.Files[index].Offset
}
