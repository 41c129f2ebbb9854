package vm

import (
	log "github.com/sirupsen/logrus"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/page"
)

// Allocate extends the break by size bytes (page-rounded) and maps one frame
// per page, writable. Returns the start address of the new region, or 0 when
// the request is empty, would exceed the heap end, or the frame pool runs dry
// (in which case every page mapped by this call has been rolled back).
func (s *Space) Allocate(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	size = format.PageAlignUp(size)

	// Compared against the remaining room rather than brk+size, which wraps
	// for sizes near the top of the address space.
	if size > s.heapEnd-s.heapBrk {
		log.WithFields(log.Fields{"brk": s.heapBrk, "size": size}).Debug("vm: heap overflow")
		return 0
	}

	start := s.heapBrk
	if !s.mapRange(start, size, page.Writable|page.User, nil) {
		return 0
	}
	s.heapBrk = start + size
	return start
}

// Free unmaps the pages covering [addr, addr+size) (rounded outward to full
// pages) and returns their frames to the pool. Pages in the range that are
// not mapped are skipped. Free never moves the break; Brk does that.
func (s *Space) Free(addr, size uint64) {
	if size == 0 {
		return
	}
	start := format.PageAlignDown(addr)
	end := format.PageAlignUp(addr + size)
	s.unmapRange(start, end)
}

// Brk queries or moves the break. A zero target returns the current break.
// Growing delegates to Allocate; shrinking delegates to Free on the delta and
// lowers the break. Returns 0 when the target lies outside
// [heap start, heap end]; calling with the current break returns it
// unchanged.
func (s *Space) Brk(newBrk uint64) uint64 {
	if newBrk == 0 {
		return s.heapBrk
	}
	if newBrk < s.heapStart || newBrk > s.heapEnd {
		return 0
	}

	switch {
	case newBrk > s.heapBrk:
		if s.Allocate(newBrk-s.heapBrk) == 0 {
			return 0
		}
	case newBrk < s.heapBrk:
		s.Free(newBrk, s.heapBrk-newBrk)
		s.heapBrk = newBrk
	}
	return s.heapBrk
}

// Mmap places a mapping of size bytes (page-rounded) at the page containing
// addrHint, or at the current break when addrHint is 0 — without advancing
// the break. The final range must lie within the heap region. Returns the
// mapping address, or 0 on an empty request, an out-of-range placement, or
// frame exhaustion (fully rolled back).
func (s *Space) Mmap(addrHint, size, prot uint64) uint64 {
	if size == 0 {
		return 0
	}
	size = format.PageAlignUp(size)

	addr := addrHint
	if addr == 0 {
		addr = s.heapBrk
	}
	addr = format.PageAlignDown(addr)

	if addr < s.heapStart || addr > s.heapEnd || size > s.heapEnd-addr {
		log.WithFields(log.Fields{"addr": addr, "size": size}).Debug("vm: mmap address out of range")
		return 0
	}

	if !s.mapRange(addr, size, protFlags(prot), nil) {
		return 0
	}
	return addr
}

// Munmap removes the mapping covering [addr, addr+size); identical to Free.
func (s *Space) Munmap(addr, size uint64) {
	s.Free(addr, size)
}

// Mprotect updates the protection of the pages covering [addr, addr+size)
// (rounded outward). It stops and returns false at the first unmapped page in
// the range WITHOUT reverting the flag changes already applied to earlier
// pages in the same call; callers that need atomicity must pre-validate the
// range themselves.
func (s *Space) Mprotect(addr, size, prot uint64) bool {
	if size == 0 {
		return true
	}
	start := format.PageAlignDown(addr)
	end := format.PageAlignUp(addr + size)
	flags := protFlags(prot)

	for virt := start; virt < end; virt += format.PageSize {
		if !s.pt.Protect(virt, flags) {
			return false
		}
	}
	return true
}
