// Package vm implements one process's virtual address space: a heap with a
// movable break, a fixed stack region with a guard page, mmap-style
// placements inside the heap range, protection changes, and safe byte copies
// between host memory and mapped user pages.
//
// A Space exclusively owns its page table and holds a non-owning reference to
// a physical frame allocator shared across address spaces. All calls are
// synchronous and single-threaded; the embedding scheduler must never run two
// processes' memory operations concurrently.
package vm

import (
	log "github.com/sirupsen/logrus"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/dirty"
	"github.com/GoryGrey/RSE-sub001/mem/page"
	"github.com/GoryGrey/RSE-sub001/mem/phys"
)

// Protection bits accepted by Mmap and Mprotect. Read is implicit for any
// mapping; execute is accepted but unenforced.
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

// Default region bounds. The heap start is relocated above the program image
// by the loader; the stack region sits near the top of the user range.
const (
	DefaultHeapStart  = 0x0000000000400000 // 4 MiB
	DefaultHeapEnd    = 0x0000000040000000 // 1 GiB
	DefaultStackStart = 0x00007FFFFFFF0000
	DefaultStackEnd   = 0x00007FFFFFFFF000

	// DefaultUserFloor is the default lower bound of the user range: copies
	// below it are rejected so the zero page stays a trap.
	DefaultUserFloor = 0x1000
)

// Space is one process's address space. The zero value is not usable;
// construct with New or Clone.
type Space struct {
	pt *page.Table
	pa *phys.Allocator

	heapStart uint64
	heapEnd   uint64
	heapBrk   uint64

	stackStart uint64
	stackEnd   uint64

	userFloor uint64

	tracker dirty.Tracker
}

// Option configures a Space at construction time.
type Option func(*Space)

// WithHeapRange overrides the default heap region. The break starts at start.
func WithHeapRange(start, end uint64) Option {
	return func(s *Space) {
		s.heapStart = start
		s.heapEnd = end
		s.heapBrk = start
	}
}

// WithStackRange overrides the default stack region.
func WithStackRange(start, end uint64) Option {
	return func(s *Space) {
		s.stackStart = start
		s.stackEnd = end
	}
}

// WithUserFloor overrides the lower bound of the user range used by ReadUser
// and WriteUser.
func WithUserFloor(floor uint64) Option {
	return func(s *Space) {
		s.userFloor = floor
	}
}

// WithDirtyTracker attaches a tracker that is notified of every page written
// through WriteUser or MapSegment, so a replication layer can snapshot
// modified pages.
func WithDirtyTracker(t dirty.Tracker) Option {
	return func(s *Space) {
		s.tracker = t
	}
}

// New creates an address space over the shared frame allocator pa. The space
// owns a fresh, empty page table.
func New(pa *phys.Allocator, opts ...Option) *Space {
	s := &Space{
		pt:         page.NewTable(),
		pa:         pa,
		heapStart:  DefaultHeapStart,
		heapEnd:    DefaultHeapEnd,
		heapBrk:    DefaultHeapStart,
		stackStart: DefaultStackStart,
		stackEnd:   DefaultStackEnd,
		userFloor:  DefaultUserFloor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clone returns an independent address space over the same frame allocator.
// The clone's page table is a deep copy whose entries reference the same
// frames as the source: mapping metadata diverges immediately, frame contents
// stay shared, and no write triggers copy-on-write. The clone starts without
// a dirty tracker; attach one with SetDirtyTracker if the new process is
// replicated.
func (s *Space) Clone() *Space {
	return &Space{
		pt:         s.pt.Clone(),
		pa:         s.pa,
		heapStart:  s.heapStart,
		heapEnd:    s.heapEnd,
		heapBrk:    s.heapBrk,
		stackStart: s.stackStart,
		stackEnd:   s.stackEnd,
		userFloor:  s.userFloor,
	}
}

// SetDirtyTracker attaches (or, with nil, detaches) a dirty tracker.
func (s *Space) SetDirtyTracker(t dirty.Tracker) {
	s.tracker = t
}

// HeapStart returns the bottom of the heap region.
func (s *Space) HeapStart() uint64 { return s.heapStart }

// HeapEnd returns the top of the heap region (exclusive).
func (s *Space) HeapEnd() uint64 { return s.heapEnd }

// HeapBrk returns the current break.
func (s *Space) HeapBrk() uint64 { return s.heapBrk }

// StackStart returns the bottom of the stack region.
func (s *Space) StackStart() uint64 { return s.stackStart }

// StackEnd returns the top of the stack region (exclusive; also the initial
// stack pointer).
func (s *Space) StackEnd() uint64 { return s.stackEnd }

// PageTable exposes the owned page table for read-mostly collaborators
// (translation dumps, the process loader's tests). Mutating it directly
// bypasses frame accounting.
func (s *Space) PageTable() *page.Table { return s.pt }

// SetHeapStart relocates the heap start (page-aligned up), pulling the break
// up with it when needed. The loader uses this to place the heap above a
// freshly mapped image.
func (s *Space) SetHeapStart(start uint64) {
	start = format.PageAlignUp(start)
	s.heapStart = start
	if s.heapBrk < s.heapStart {
		s.heapBrk = s.heapStart
	}
}

// SetStackBounds replaces the stack region (start aligned down, end aligned
// up). Ignored when the rounded region would be empty.
func (s *Space) SetStackBounds(start, end uint64) {
	start = format.PageAlignDown(start)
	end = format.PageAlignUp(end)
	if end <= start {
		return
	}
	s.stackStart = start
	s.stackEnd = end
}

// protFlags converts mmap/mprotect protection bits to page-table flags.
func protFlags(prot uint64) page.Flags {
	flags := page.User
	if prot&ProtWrite != 0 {
		flags |= page.Writable
	}
	return flags
}

// mapRange allocates and maps frames covering [addr, addr+size), zero-fills
// every page, and overlays init (when non-nil) starting at addr's offset
// within the first page. On any mid-operation failure every frame obtained
// and every mapping installed by this call is released before returning,
// restoring the pre-call state.
func (s *Space) mapRange(addr, size uint64, flags page.Flags, init []byte) bool {
	if size == 0 {
		return false
	}

	start := format.PageAlignDown(addr)
	end := format.PageAlignUp(addr + size)
	// addr+size wrapping, or the alignment of a range ending in the last
	// page, would otherwise turn a huge request into a tiny mapping.
	if addr+size < addr || end <= start {
		log.WithFields(log.Fields{"addr": addr, "size": size}).Debug("vm: address range wraps")
		return false
	}
	dataOff := addr - start
	remaining := init
	mappedEnd := start
	ok := true

	for virt := start; virt < end; virt += format.PageSize {
		frame := s.pa.AllocateFrame()
		if frame == 0 {
			log.WithFields(log.Fields{"virt": virt, "size": size}).Debug("vm: frame exhaustion, rolling back")
			ok = false
			break
		}
		if !s.pt.Map(virt, frame, flags|page.Present) {
			s.pa.FreeFrame(frame)
			ok = false
			break
		}
		mappedEnd = virt + format.PageSize

		fb := s.pa.FrameBytes(frame)
		if fb == nil {
			ok = false
			break
		}
		clear(fb)

		if len(remaining) > 0 {
			n := copy(fb[dataOff:], remaining)
			remaining = remaining[n:]
		}
		dataOff = 0
	}

	if !ok || len(remaining) > 0 {
		s.unmapRange(start, mappedEnd)
		return false
	}
	return true
}

// unmapRange unmaps [start, end) and returns the covered frames to the pool.
// Unmapped pages in the range are skipped.
func (s *Space) unmapRange(start, end uint64) {
	for virt := start; virt < end; virt += format.PageSize {
		frame := s.pt.Translate(virt)
		if frame != 0 {
			s.pa.FreeFrame(frame)
			s.pt.Unmap(virt)
		}
	}
}
