package core

import (
	"time"

	"github.com/dustin/go-humanize"

	"hermod/internal/webseed"
)

// onEvent is called by webseeds with client lock held.
func (d *Download) onEvent(p *webseed.Peer, e webseed.Event) {
	switch e.Type {
	case webseed.EventPieceData:
		d.downloaded.Add(int64(e.Length))
	case webseed.EventRejected:
		d.active.Unset(e.Block)
	case webseed.EventBlock:
		d.active.Unset(e.Block)
		if d.have.Get(e.Block) {
			return
		}

		d.have.Set(e.Block)

		first, last := d.blocks.PieceSpanForBlock(e.Block)
		for piece := first; piece <= last; piece++ {
			if d.pieceReady(piece) {
				d.verifyPiece(piece)
			}
		}
	}
}

func (d *Download) pieceReady(piece uint32) bool {
	if d.pieces.Get(piece) {
		return false
	}

	if _, ok := d.verifying[piece]; ok {
		return false
	}

	span := d.blocks.BlockSpanForPiece(piece)

	return d.have.CountRange(span.Begin, span.End) == span.Len()
}

func (d *Download) verifyPiece(piece uint32) {
	d.verifying[piece] = struct{}{}

	go func() {
		if err := d.c.verifySem.Acquire(d.ctx, 1); err != nil {
			return
		}

		ok, err := d.layout.VerifyPiece(piece, nil)
		d.c.verifySem.Release(1)

		d.c.m.Lock()
		defer d.c.m.Unlock()

		if d.ctx.Err() != nil {
			return
		}

		delete(d.verifying, piece)

		if err != nil {
			d.setError(err)
			return
		}

		d.onPieceVerified(piece, ok)
	}()
}

func (d *Download) onPieceVerified(piece uint32, ok bool) {
	if !ok {
		size := d.blocks.PieceSize(piece)
		d.corrupted.Add(int64(size))
		d.log.Warn().Uint32("piece", piece).Msgf("piece hash mismatch, %s discarded", humanize.IBytes(uint64(size)))

		span := d.blocks.BlockSpanForPiece(piece)
		d.have.UnsetRange(span.Begin, span.End)
		return
	}

	d.pieces.Set(piece)

	if !d.IsDone() {
		return
	}

	d.CompletedAt.Store(time.Now().Unix())
	d.log.Info().Msg("download completed")

	if d.state == Downloading {
		d.state = Seeding
		d.closeWebSeeds()
	}
}
