package format

// Alignment utilities for the fixed 4 KiB page geometry.

// PageAlignUp returns addr rounded up to the next page boundary.
//
// Example:
//
//	PageAlignUp(1)    = 4096
//	PageAlignUp(4096) = 4096
//	PageAlignUp(4097) = 8192
func PageAlignUp(addr uint64) uint64 {
	return (addr + PageMask) &^ uint64(PageMask)
}

// PageAlignDown returns addr rounded down to its page boundary.
func PageAlignDown(addr uint64) uint64 {
	return addr &^ uint64(PageMask)
}

// PageOffset returns the byte offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & uint64(PageMask)
}

// IsPageAligned reports whether addr sits exactly on a page boundary.
func IsPageAligned(addr uint64) bool {
	return addr&uint64(PageMask) == 0
}

// PagesIn returns the number of whole pages needed to cover size bytes.
func PagesIn(size uint64) uint64 {
	return PageAlignUp(size) >> PageShift
}

// StackAlignDown returns addr rounded down to the 16-byte boundary required
// before the argument arrays are pushed.
func StackAlignDown(addr uint64) uint64 {
	return addr &^ uint64(StackAlignmentMask)
}
