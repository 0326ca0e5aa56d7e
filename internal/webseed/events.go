package webseed

import (
	"fmt"

	"hermod/internal/block"
)

type EventType uint8

const (
	// EventPieceData reports Length bytes of payload received.
	EventPieceData EventType = iota
	// EventBlock reports a block written to storage.
	EventBlock
	// EventRejected reports a block this webseed will not deliver.
	EventRejected
)

func (e EventType) String() string {
	switch e {
	case EventPieceData:
		return "piece-data"
	case EventBlock:
		return "block"
	case EventRejected:
		return "rejected"
	}

	return fmt.Sprintf("EventType(%d)", e)
}

type Event struct {
	Type   EventType
	Block  uint32
	Piece  uint32
	Offset uint32
	Length uint32
}

func blockEvent(t EventType, info block.Info, b uint32) Event {
	loc := info.BlockLoc(b)
	return Event{
		Type:   t,
		Block:  b,
		Piece:  loc.Piece,
		Offset: loc.PieceOffset,
		Length: info.BlockSize(b),
	}
}
