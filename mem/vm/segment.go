package vm

import (
	log "github.com/sirupsen/logrus"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/page"
)

// MapSegment maps memSize zero-filled bytes at vaddr, then overlays the first
// fileSize bytes of data starting at vaddr's offset within its page. The
// writable flag follows the ELF segment flag bit 0x2. A zero memSize is a
// successful no-op; fileSize must not exceed memSize or len(data). Rolls back
// fully on partial frame exhaustion.
func (s *Space) MapSegment(data []byte, fileSize, vaddr, memSize uint64, elfFlags uint32) bool {
	if memSize == 0 {
		return true
	}
	if fileSize > memSize || fileSize > uint64(len(data)) {
		return false
	}

	flags := page.User
	if elfFlags&format.PFW != 0 {
		flags |= page.Writable
	}

	if !s.mapRange(vaddr, memSize, flags, data[:fileSize]) {
		return false
	}
	if s.tracker != nil {
		s.tracker.Add(vaddr, memSize)
	}
	return true
}

// AllocateStack reserves size bytes (page-rounded) immediately below the
// stack end. When the reservation spans more than one page, the lowest page
// is left unmapped as a guard so overflow becomes a translation failure; the
// remainder is mapped writable. Returns the stack end as the initial stack
// pointer, or 0 when the region does not fit or frames run out.
func (s *Space) AllocateStack(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	size = format.PageAlignUp(size)
	if size == 0 || size > s.stackEnd-s.stackStart {
		log.WithFields(log.Fields{"size": size}).Debug("vm: stack reservation does not fit")
		return 0
	}

	var guard uint64
	if size > format.PageSize {
		guard = format.PageSize
	}
	base := s.stackEnd - size
	mappedBase := base + guard
	mappedSize := size - guard
	if mappedSize == 0 {
		return 0
	}

	if !s.mapRange(mappedBase, mappedSize, page.Writable|page.User, nil) {
		return 0
	}
	return s.stackEnd
}
