package core

import (
	"encoding"

	"github.com/zeebo/bencode"

	"hermod/internal/pkg/bm"
)

var _ encoding.BinaryMarshaler = (*Download)(nil)

type resume struct {
	Torrent     []byte   `bencode:"torrent"`
	BasePath    string   `bencode:"base_path"`
	WebSeeds    []string `bencode:"webseeds"`
	Pieces      []byte   `bencode:"pieces"`
	AddAt       int64    `bencode:"add_at"`
	CompletedAt int64    `bencode:"completed_at"`
	Downloaded  int64    `bencode:"downloaded"`
	Corrupted   int64    `bencode:"corrupted"`
	Stopped     int      `bencode:"stopped"`
}

// MarshalBinary must be called with client lock held.
func (d *Download) MarshalBinary() ([]byte, error) {
	var stopped int
	if d.state == Stopped || (d.state == Checking && d.stopAfterCheck) {
		stopped = 1
	}

	return bencode.EncodeBytes(resume{
		Torrent:     d.torrent,
		BasePath:    d.basePath,
		WebSeeds:    d.webSeeds,
		Pieces:      d.pieces.CompressedBytes(),
		AddAt:       d.AddAt,
		CompletedAt: d.CompletedAt.Load(),
		Downloaded:  d.downloaded.Load(),
		Corrupted:   d.corrupted.Load(),
		Stopped:     stopped,
	})
}

func parseResume(data []byte) (*resume, error) {
	var r resume
	if err := bencode.DecodeBytes(data, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

func (d *Download) restore(r *resume) {
	d.AddAt = r.AddAt
	d.CompletedAt.Store(r.CompletedAt)
	d.downloaded.Store(r.Downloaded)
	d.corrupted.Store(r.Corrupted)
	d.stopAfterCheck = r.Stopped != 0

	pieces, err := bm.FromCompressed(r.Pieces)
	if err != nil {
		d.log.Warn().Err(err).Msg("invalid resume bitmap, all pieces will be checked")
		return
	}

	for _, index := range pieces.ToArray() {
		if index < d.info.NumPieces {
			d.markPieceVerified(index)
		}
	}
}
