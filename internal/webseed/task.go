package webseed

import (
	"context"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/atomic"

	"hermod/internal/block"
)

// task is one block span being fetched, possibly with multiple http requests
// when the span crosses file boundaries.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	buf    *bytebufferpool.ByteBuffer
	span   block.Span
	// next byte not yet moved out of buf
	loc     block.Location
	endByte int64
	live    atomic.Bool
}

func newTask(parent context.Context, info block.Info, span block.Span) *task {
	ctx, cancel := context.WithCancel(parent)

	t := &task{
		ctx:     ctx,
		cancel:  cancel,
		buf:     bytebufferpool.Get(),
		span:    span,
		loc:     info.BlockLoc(span.Begin),
		endByte: info.SpanEnd(span),
	}

	t.live.Store(true)

	return t
}

// kill marks task as abandoned, later callbacks must ignore it.
func (t *task) kill() {
	t.live.Store(false)
	t.cancel()
}

func (t *task) free() {
	t.cancel()
	if t.buf != nil {
		bytebufferpool.Put(t.buf)
		t.buf = nil
	}
}
