package vm

import "github.com/GoryGrey/RSE-sub001/internal/format"

// isUserRange reports whether [addr, addr+size) lies entirely within the
// user range [userFloor, stackEnd), guarding against wraparound.
func (s *Space) isUserRange(addr, size uint64) bool {
	if size == 0 {
		return true
	}
	end := addr + size - 1
	if end < addr {
		return false
	}
	return addr >= s.userFloor && end < s.stackEnd
}

// validateRange checks that every page covering [addr, addr+size) is mapped
// and, when write is set, writable. Validation runs before any byte moves so
// a rejected copy transfers nothing.
func (s *Space) validateRange(addr, size uint64, write bool) bool {
	start := format.PageAlignDown(addr)
	end := format.PageAlignUp(addr + size)
	for virt := start; virt < end; virt += format.PageSize {
		e := s.pt.Lookup(virt)
		if e == nil || !e.Flags.IsPresent() {
			return false
		}
		if write && !e.Flags.IsWritable() {
			return false
		}
	}
	return true
}

// ReadUser copies len(dst) bytes out of user memory starting at src. The
// whole range must lie within the user range and be mapped; otherwise
// nothing is copied and ReadUser returns false.
func (s *Space) ReadUser(dst []byte, src uint64) bool {
	size := uint64(len(dst))
	if size == 0 {
		return false
	}
	if !s.isUserRange(src, size) || !s.validateRange(src, size, false) {
		return false
	}

	out := dst
	addr := src
	for len(out) > 0 {
		phys := s.pt.Translate(addr)
		if phys == 0 {
			return false
		}
		fb := s.pa.FrameBytes(phys)
		if fb == nil {
			return false
		}
		n := copy(out, fb)
		out = out[n:]
		addr += uint64(n)
	}
	return true
}

// WriteUser copies src into user memory starting at dst. The whole range
// must lie within the user range and every covered page must be mapped and
// writable; otherwise nothing is copied and WriteUser returns false. A
// successful write is reported to the dirty tracker when one is attached.
func (s *Space) WriteUser(dst uint64, src []byte) bool {
	size := uint64(len(src))
	if size == 0 {
		return false
	}
	if !s.isUserRange(dst, size) || !s.validateRange(dst, size, true) {
		return false
	}

	in := src
	addr := dst
	for len(in) > 0 {
		phys := s.pt.Translate(addr)
		if phys == 0 {
			return false
		}
		fb := s.pa.FrameBytes(phys)
		if fb == nil {
			return false
		}
		n := copy(fb, in)
		in = in[n:]
		addr += uint64(n)
	}

	if s.tracker != nil {
		s.tracker.Add(dst, size)
	}
	return true
}
