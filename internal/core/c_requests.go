package core

import (
	"hermod/internal/block"
	"hermod/internal/webseed"
)

// NextRequests picks missing blocks nobody is downloading and p can serve, in sequential order.
// Blocks are grouped in contiguous spans of at most webseed.BlocksPerTask blocks.
func (c *Client) NextRequests(t webseed.Torrent, p *webseed.Peer, maxBlocks int) []block.Span {
	d, ok := t.(*Download)
	if !ok {
		return nil
	}

	return d.nextRequests(p, maxBlocks)
}

func (c *Client) SentRequests(t webseed.Torrent, _ *webseed.Peer, span block.Span) {
	if d, ok := t.(*Download); ok {
		d.active.SetRange(span.Begin, span.End)
	}
}

func (d *Download) wanted(p *webseed.Peer, b uint32) bool {
	if d.have.Get(b) || d.active.Get(b) {
		return false
	}

	if p == nil {
		return true
	}

	first, last := d.blocks.PieceSpanForBlock(b)
	for piece := first; piece <= last; piece++ {
		if !p.HasPiece(piece) {
			return false
		}
	}

	return true
}

func (d *Download) nextRequests(p *webseed.Peer, maxBlocks int) []block.Span {
	var spans []block.Span

	count := d.blocks.BlockCount()

	for b := uint32(0); b < count && maxBlocks > 0; {
		if !d.wanted(p, b) {
			b++
			continue
		}

		start := b
		for b < count && maxBlocks > 0 && b-start < webseed.BlocksPerTask && d.wanted(p, b) {
			b++
			maxBlocks--
		}

		spans = append(spans, block.Span{Begin: start, End: b})
	}

	return spans
}
