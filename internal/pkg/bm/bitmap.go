package bm

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/samber/lo"
)

func New() *Bitmap {
	return &Bitmap{
		bm: roaring.New(),
	}
}

// FromCompressed restores a bitmap saved with CompressedBytes.
func FromCompressed(b []byte) (*Bitmap, error) {
	r := roaring.New()
	if len(b) != 0 {
		if err := r.UnmarshalBinary(b); err != nil {
			return nil, err
		}
	}

	return &Bitmap{bm: r}, nil
}

// Bitmap is thread-safe bitmap wrapper
type Bitmap struct {
	bm *roaring.Bitmap
	m  sync.RWMutex
}

func (b *Bitmap) Count() uint32 {
	b.m.RLock()
	v := uint32(b.bm.GetCardinality())
	b.m.RUnlock()
	return v
}

func (b *Bitmap) Set(i uint32) {
	b.m.Lock()
	b.bm.Add(i)
	b.m.Unlock()
}

// SetRange sets [start, end).
func (b *Bitmap) SetRange(start, end uint32) {
	b.m.Lock()
	b.bm.AddRange(uint64(start), uint64(end))
	b.m.Unlock()
}

func (b *Bitmap) Unset(i uint32) {
	b.m.Lock()
	b.bm.Remove(i)
	b.m.Unlock()
}

// UnsetRange unsets [start, end).
func (b *Bitmap) UnsetRange(start, end uint32) {
	b.m.Lock()
	b.bm.RemoveRange(uint64(start), uint64(end))
	b.m.Unlock()
}

func (b *Bitmap) Get(i uint32) bool {
	b.m.RLock()
	v := b.bm.Contains(i)
	b.m.RUnlock()
	return v
}

// Fill sets [0, n).
func (b *Bitmap) Fill(n uint32) {
	b.SetRange(0, n)
}

func (b *Bitmap) Clear() {
	b.m.Lock()
	b.bm.Clear()
	b.m.Unlock()
}

// CountRange returns number of set bits in [start, end).
func (b *Bitmap) CountRange(start, end uint32) uint32 {
	b.m.RLock()
	defer b.m.RUnlock()

	if end <= start {
		return 0
	}

	var v uint64
	if start == 0 {
		v = b.bm.Rank(end - 1)
	} else {
		v = b.bm.Rank(end-1) - b.bm.Rank(start-1)
	}

	return uint32(v)
}

func (b *Bitmap) CompressedBytes() []byte {
	b.m.RLock()
	v := lo.Must(b.bm.MarshalBinary())
	b.m.RUnlock()
	return v
}

func (b *Bitmap) ToArray() []uint32 {
	b.m.RLock()
	v := b.bm.ToArray()
	b.m.RUnlock()
	return v
}
