// Package page implements the per-process page table: a sparse mapping from
// 4 KiB-aligned virtual pages to physical frame addresses with per-entry
// access flags. Tables are independently cloneable; a clone shares frame
// addresses (and therefore frame contents) with its source, but the two
// mapping sets diverge from the moment the clone is made.
package page

import (
	"sort"

	"github.com/GoryGrey/RSE-sub001/internal/format"
)

// Flags is the access-flag set carried by a page-table entry. Bit positions
// follow the x86-64 PTE layout.
type Flags uint64

const (
	// Present marks the entry as installed. Every mapped entry carries it.
	Present Flags = 1 << 0

	// Writable allows stores through the mapping.
	Writable Flags = 1 << 1

	// User allows user-mode access through the mapping.
	User Flags = 1 << 2
)

// IsPresent reports whether the Present bit is set.
func (f Flags) IsPresent() bool { return f&Present != 0 }

// IsWritable reports whether the Writable bit is set.
func (f Flags) IsWritable() bool { return f&Writable != 0 }

// IsUser reports whether the User bit is set.
func (f Flags) IsUser() bool { return f&User != 0 }

// Entry maps one virtual page to one frame.
type Entry struct {
	Frame uint64 // physical address of the backing frame (page-aligned)
	Flags Flags
}

// Table is one process's virtual-page → frame mapping. The zero value is not
// usable; construct with NewTable. Not thread-safe; the embedding scheduler
// serializes access.
type Table struct {
	entries map[uint64]Entry
}

// NewTable returns an empty page table.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]Entry)}
}

// Map installs a mapping from the page at virt to the frame at phys. Returns
// false when either address is misaligned or the page is already mapped; the
// existing entry is never overwritten.
func (t *Table) Map(virt, phys uint64, flags Flags) bool {
	if !format.IsPageAligned(virt) || !format.IsPageAligned(phys) {
		return false
	}
	if _, ok := t.entries[virt]; ok {
		return false
	}
	t.entries[virt] = Entry{Frame: phys, Flags: flags | Present}
	return true
}

// Unmap removes the mapping for the page containing virt. Unmapping an
// unmapped page is a no-op.
func (t *Table) Unmap(virt uint64) {
	delete(t.entries, format.PageAlignDown(virt))
}

// Translate returns the physical address for virt with the page offset
// preserved, or 0 when the page is unmapped.
func (t *Table) Translate(virt uint64) uint64 {
	e, ok := t.entries[format.PageAlignDown(virt)]
	if !ok || !e.Flags.IsPresent() {
		return 0
	}
	return e.Frame | format.PageOffset(virt)
}

// IsMapped reports whether the page containing virt is mapped.
func (t *Table) IsMapped(virt uint64) bool {
	_, ok := t.entries[format.PageAlignDown(virt)]
	return ok
}

// Protect replaces the flags on the page containing virt. Returns false when
// the page is unmapped. The Present bit is always retained.
func (t *Table) Protect(virt uint64, flags Flags) bool {
	key := format.PageAlignDown(virt)
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.Flags = flags | Present
	t.entries[key] = e
	return true
}

// Lookup returns a copy of the entry for the page containing virt, or nil
// when the page is unmapped.
func (t *Table) Lookup(virt uint64) *Entry {
	e, ok := t.entries[format.PageAlignDown(virt)]
	if !ok {
		return nil
	}
	return &e
}

// Len returns the number of mapped pages.
func (t *Table) Len() int {
	return len(t.entries)
}

// Clone returns a new table with identical mappings. The clone's entries
// reference the same frames as the source (shared backing bytes); mutating
// either table's mapping set never affects the other.
func (t *Table) Clone() *Table {
	dup := &Table{entries: make(map[uint64]Entry, len(t.entries))}
	for virt, e := range t.entries {
		dup.entries[virt] = e
	}
	return dup
}

// Walk calls fn for every mapping in ascending virtual-address order. It
// stops early when fn returns false. The table must not be mutated from
// inside fn.
func (t *Table) Walk(fn func(virt uint64, e Entry) bool) {
	pages := make([]uint64, 0, len(t.entries))
	for virt := range t.entries {
		pages = append(pages, virt)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	for _, virt := range pages {
		if !fn(virt, t.entries[virt]) {
			return
		}
	}
}
