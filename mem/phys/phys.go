// Package phys implements the physical frame allocator: a fixed-size region
// of host memory carved into 4 KiB frames and handed out by address.
//
// The region is addressed by a synthetic physical base address; FrameBytes is
// the only way bytes actually move in and out of a frame. One allocator is
// typically shared by every address space in the system, with the embedding
// scheduler serializing calls (the allocator itself is not thread-safe).
package phys

import (
	"errors"
	"math/bits"

	"github.com/GoryGrey/RSE-sub001/internal/format"
)

var (
	// ErrBadRegion indicates an invalid (base, size) region: a zero or
	// misaligned base, a zero size, or a size that is not a whole number of
	// frames.
	ErrBadRegion = errors.New("phys: invalid region geometry")
)

// Allocator manages a fixed region of frames. The zero value is not usable;
// construct with New.
type Allocator struct {
	base   uint64
	size   uint64
	region []byte
	unmap  func() error

	used   []uint64 // occupancy bitmap, one bit per frame
	total  uint64
	avail  uint64
	cursor uint64 // next-fit scan position (frame index)
}

// New creates an allocator over a region of size bytes with the given
// synthetic physical base address. The backing memory is an anonymous private
// mapping on unix platforms and an ordinary heap slice elsewhere.
//
// base must be page-aligned and non-zero (frame address 0 is the exhaustion
// sentinel); size must be a non-zero multiple of the page size.
func New(base, size uint64) (*Allocator, error) {
	if base == 0 || !format.IsPageAligned(base) {
		return nil, ErrBadRegion
	}
	if size == 0 || !format.IsPageAligned(size) {
		return nil, ErrBadRegion
	}

	region, unmap, err := mapRegion(int(size))
	if err != nil {
		return nil, err
	}

	total := format.PagesIn(size)
	return &Allocator{
		base:   base,
		size:   size,
		region: region,
		unmap:  unmap,
		used:   make([]uint64, (total+63)/64),
		total:  total,
		avail:  total,
	}, nil
}

// Close releases the backing region. The allocator must not be used after
// Close; any FrameBytes slices previously handed out become invalid.
func (a *Allocator) Close() error {
	if a.unmap == nil {
		return nil
	}
	err := a.unmap()
	a.unmap = nil
	a.region = nil
	return err
}

// AllocateFrame returns the physical address of a free frame, or 0 when the
// region is exhausted. The frame's previous contents are undefined; callers
// that need zeroed memory clear it through FrameBytes.
func (a *Allocator) AllocateFrame() uint64 {
	if a.avail == 0 {
		return 0
	}

	// Next-fit: scan words from the cursor, wrapping once.
	idx, ok := a.scanFrom(a.cursor)
	if !ok {
		idx, ok = a.scanFrom(0)
	}
	if !ok {
		return 0
	}

	a.used[idx/64] |= 1 << (idx % 64)
	a.avail--
	a.cursor = idx + 1
	if a.cursor >= a.total {
		a.cursor = 0
	}
	return a.base + idx<<format.PageShift
}

// FreeFrame marks the frame containing addr as free. Freeing an address
// outside the region, or a frame that is already free, is a caller contract
// violation; both are ignored rather than reported.
func (a *Allocator) FreeFrame(addr uint64) {
	if addr < a.base || addr >= a.base+a.size {
		return
	}
	idx := (addr - a.base) >> format.PageShift
	mask := uint64(1) << (idx % 64)
	if a.used[idx/64]&mask == 0 {
		return
	}
	a.used[idx/64] &^= mask
	a.avail++
}

// FrameBytes returns a view of the bytes from addr to the end of its frame,
// or nil when addr falls outside the region. This is the only path through
// which frame contents are read or written.
func (a *Allocator) FrameBytes(addr uint64) []byte {
	if addr < a.base || addr >= a.base+a.size {
		return nil
	}
	off := addr - a.base
	end := format.PageAlignDown(off) + format.PageSize
	return a.region[off:end]
}

// Total returns the number of frames in the region.
func (a *Allocator) Total() uint64 { return a.total }

// Available returns the number of frames currently free.
func (a *Allocator) Available() uint64 { return a.avail }

// Base returns the synthetic physical base address of the region.
func (a *Allocator) Base() uint64 { return a.base }

// Size returns the region size in bytes.
func (a *Allocator) Size() uint64 { return a.size }

// scanFrom looks for a clear bit at or after frame index start.
func (a *Allocator) scanFrom(start uint64) (uint64, bool) {
	if start >= a.total {
		return 0, false
	}
	word := start / 64

	// Partial first word: mask off bits below start.
	w := ^a.used[word] &^ ((1 << (start % 64)) - 1)
	for {
		if w != 0 {
			idx := word*64 + uint64(bits.TrailingZeros64(w))
			if idx >= a.total {
				return 0, false
			}
			return idx, true
		}
		word++
		if word >= uint64(len(a.used)) {
			return 0, false
		}
		w = ^a.used[word]
	}
}
