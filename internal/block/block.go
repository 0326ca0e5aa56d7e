package block

import (
	"fmt"

	"github.com/docker/go-units"
)

// Size is the size of every block except possibly the last one of a torrent.
const Size = units.KiB * 16

// Span is a half-open range of block indices [Begin, End).
type Span struct {
	Begin uint32
	End   uint32
}

func (s Span) Len() uint32 {
	return s.End - s.Begin
}

func (s Span) Empty() bool {
	return s.End <= s.Begin
}

func (s Span) Contains(b uint32) bool {
	return s.Begin <= b && b < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Begin, s.End)
}

// Location describes a byte of a torrent from every point of view the client needs.
type Location struct {
	Byte        int64
	Piece       uint32
	PieceOffset uint32
	Block       uint32
	BlockOffset uint32
}

// Info is the block/piece geometry of a torrent.
type Info struct {
	totalSize      int64
	pieceSize      uint32
	blockCount     uint32
	pieceCount     uint32
	finalBlockSize uint32
	finalPieceSize uint32
}

func NewInfo(totalSize int64, pieceSize uint32) Info {
	if totalSize <= 0 || pieceSize == 0 {
		return Info{}
	}

	i := Info{
		totalSize:  totalSize,
		pieceSize:  pieceSize,
		blockCount: uint32((totalSize + Size - 1) / Size),
		pieceCount: uint32((totalSize + int64(pieceSize) - 1) / int64(pieceSize)),
	}

	i.finalBlockSize = uint32(totalSize - int64(i.blockCount-1)*Size)
	i.finalPieceSize = uint32(totalSize - int64(i.pieceCount-1)*int64(pieceSize))

	return i
}

func (i Info) TotalSize() int64 {
	return i.totalSize
}

func (i Info) BlockCount() uint32 {
	return i.blockCount
}

func (i Info) PieceCount() uint32 {
	return i.pieceCount
}

func (i Info) PieceSize(piece uint32) uint32 {
	if piece+1 == i.pieceCount {
		return i.finalPieceSize
	}

	return i.pieceSize
}

func (i Info) BlockSize(b uint32) uint32 {
	if b+1 == i.blockCount {
		return i.finalBlockSize
	}

	return Size
}

func (i Info) ByteLoc(offset int64) Location {
	if i.totalSize == 0 {
		return Location{}
	}

	loc := Location{Byte: offset}

	loc.Block = uint32(offset / Size)
	loc.BlockOffset = uint32(offset - int64(loc.Block)*Size)
	loc.Piece = uint32(offset / int64(i.pieceSize))
	loc.PieceOffset = uint32(offset - int64(loc.Piece)*int64(i.pieceSize))

	return loc
}

func (i Info) BlockLoc(b uint32) Location {
	return i.ByteLoc(int64(b) * Size)
}

func (i Info) PieceLoc(piece uint32, offset uint32) Location {
	return i.ByteLoc(int64(piece)*int64(i.pieceSize) + int64(offset))
}

// BlockSpanForPiece returns the blocks that hold any byte of piece.
func (i Info) BlockSpanForPiece(piece uint32) Span {
	if piece >= i.pieceCount {
		return Span{}
	}

	begin := i.PieceLoc(piece, 0)
	end := i.ByteLoc(begin.Byte + int64(i.PieceSize(piece)) - 1)

	return Span{Begin: begin.Block, End: end.Block + 1}
}

// PieceSpanForBlock returns pieces that overlap block b.
func (i Info) PieceSpanForBlock(b uint32) (first, last uint32) {
	loc := i.BlockLoc(b)
	end := i.ByteLoc(loc.Byte + int64(i.BlockSize(b)) - 1)
	return loc.Piece, end.Piece
}

// SpanEnd is the byte offset one past the last byte of span.
func (i Info) SpanEnd(s Span) int64 {
	if s.Empty() {
		return i.BlockLoc(s.Begin).Byte
	}

	return i.BlockLoc(s.End-1).Byte + int64(i.BlockSize(s.End-1))
}
