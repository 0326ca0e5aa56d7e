package core

import (
	"github.com/trim21/errgo"
)

func (d *Download) initCheck() error {
	d.log.Debug().Msg("initCheck")

	existing, err := d.layout.Prepare(d.c.Config.App.Fallocate)
	if err != nil {
		return errgo.Wrap(err, "failed to prepare download files")
	}

	toCheck := d.layout.PiecesToCheck(existing)
	if len(toCheck) == 0 {
		return nil
	}

	d.log.Debug().Int("pieces", len(toCheck)).Msg("start checking")

	for _, index := range toCheck {
		if err := d.ctx.Err(); err != nil {
			return err
		}

		// pieces restored from resume data are trusted
		if d.pieces.Get(index) {
			continue
		}

		ok, err := d.layout.VerifyPiece(index, d.c.checkBucket)
		if err != nil {
			return err
		}

		if ok {
			d.c.m.Lock()
			d.markPieceVerified(index)
			d.c.m.Unlock()
		}
	}

	return nil
}

// markPieceVerified must be called with client lock held.
func (d *Download) markPieceVerified(index uint32) {
	d.pieces.Set(index)
	span := d.blocks.BlockSpanForPiece(index)
	d.have.SetRange(span.Begin, span.End)
}
