// Package dirty provides tracking of modified pages in an address space.
//
// The tracker maintains a list of dirty byte ranges and coalesces them into
// page-aligned, non-overlapping ranges on demand. The state-summary exchange
// layer drains the tracker between replication rounds to decide which pages
// need to cross the link; nothing here touches the frames themselves.
package dirty

import (
	"sort"

	"github.com/GoryGrey/RSE-sub001/internal/format"
)

// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
// This reduces allocations during typical workloads.
const defaultRangeCapacity = 64

// Tracker is the minimal interface for reporting dirty (modified) byte
// ranges. It is the hook an address space calls into on every user-visible
// store; implementations decide what to retain.
type Tracker interface {
	// Add marks a byte range as dirty. addr is a virtual address, length the
	// number of bytes written.
	Add(addr, length uint64)
}

// Range is a dirty byte range in virtual address space.
type Range struct {
	Addr uint64
	Len  uint64
}

// PageTracker accumulates dirty ranges and coalesces them into page-aligned
// ranges. NOT thread-safe; only one goroutine should use it at a time.
type PageTracker struct {
	ranges []Range
}

// NewPageTracker returns an empty tracker with pre-allocated capacity.
func NewPageTracker() *PageTracker {
	return &PageTracker{ranges: make([]Range, 0, defaultRangeCapacity)}
}

// Add records a dirty range. The range is page-aligned and coalesced lazily
// in Pages, so Add stays a plain append.
func (t *PageTracker) Add(addr, length uint64) {
	if length == 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Addr: addr, Len: length})
}

// Pages returns the recorded ranges coalesced into sorted, page-aligned,
// non-overlapping ranges. The tracker's state is left untouched; call Reset
// once a snapshot has been taken.
func (t *PageTracker) Pages() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, 0, len(t.ranges))
	for _, r := range t.ranges {
		start := format.PageAlignDown(r.Addr)
		end := format.PageAlignUp(r.Addr + r.Len)
		aligned = append(aligned, Range{Addr: start, Len: end - start})
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].Addr < aligned[j].Addr })

	merged := aligned[:1]
	for _, r := range aligned[1:] {
		last := &merged[len(merged)-1]
		if r.Addr <= last.Addr+last.Len {
			if end := r.Addr + r.Len; end > last.Addr+last.Len {
				last.Len = end - last.Addr
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Len returns the number of raw (uncoalesced) ranges recorded so far.
func (t *PageTracker) Len() int {
	return len(t.ranges)
}

// Reset drops all recorded ranges, retaining capacity.
func (t *PageTracker) Reset() {
	t.ranges = t.ranges[:0]
}
