package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/dirty"
	"github.com/GoryGrey/RSE-sub001/mem/phys"
)

// newTestSpace builds a space over a private frame pool of the given size.
func newTestSpace(t *testing.T, frames uint64, opts ...Option) (*Space, *phys.Allocator) {
	t.Helper()
	pa, err := phys.New(0x100000, frames*format.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pa.Close() })
	return New(pa, opts...), pa
}

func TestAllocateMapsAndAccounts(t *testing.T) {
	s, pa := newTestSpace(t, 64)

	before := pa.Available()
	a1 := s.Allocate(format.PageSize)
	a2 := s.Allocate(2 * format.PageSize)
	a3 := s.Allocate(100) // rounds to one page
	require.NotZero(t, a1)
	require.NotZero(t, a2)
	require.NotZero(t, a3)

	// Non-overlapping, ascending placements while prior allocations are live.
	require.Equal(t, a1+format.PageSize, a2)
	require.Equal(t, a2+2*format.PageSize, a3)
	require.Equal(t, before-4, pa.Available())

	require.True(t, s.PageTable().IsMapped(a1))
	require.True(t, s.PageTable().IsMapped(a2+format.PageSize))
	require.True(t, s.PageTable().IsMapped(a3))

	s.Free(a2, 2*format.PageSize)
	require.False(t, s.PageTable().IsMapped(a2))
	require.Equal(t, before-2, pa.Available())

	s.Free(a1, format.PageSize)
	s.Free(a3, 100)
	require.Equal(t, before, pa.Available())
}

func TestAllocateZeroAndOverflow(t *testing.T) {
	s, _ := newTestSpace(t, 8, WithHeapRange(0x400000, 0x400000+4*format.PageSize))

	require.Zero(t, s.Allocate(0))
	require.NotZero(t, s.Allocate(4*format.PageSize))
	require.Zero(t, s.Allocate(format.PageSize)) // heap range exhausted
}

func TestAllocateRollbackOnFrameExhaustion(t *testing.T) {
	s, pa := newTestSpace(t, 2)

	brk := s.HeapBrk()
	require.Zero(t, s.Allocate(4*format.PageSize))

	// Full rollback: no leaked frames, no stray mappings, break unmoved.
	require.Equal(t, uint64(2), pa.Available())
	require.Equal(t, brk, s.HeapBrk())
	require.Equal(t, 0, s.PageTable().Len())

	// The pool is still usable afterwards.
	require.NotZero(t, s.Allocate(2*format.PageSize))
}

// Regression: a page-aligned size near 2^64 made brk+size wrap past the
// heap end, reporting success while pushing the break outside the heap.
func TestAllocateWrappingSizeRejected(t *testing.T) {
	s, pa := newTestSpace(t, 8)

	brk := s.HeapBrk()
	require.Zero(t, s.Allocate(^uint64(0)-brk+1))
	require.Zero(t, s.Allocate(^uint64(0)))

	require.Equal(t, brk, s.HeapBrk())
	require.Equal(t, 0, s.PageTable().Len())
	require.Equal(t, uint64(8), pa.Available())
}

func TestBrk(t *testing.T) {
	s, pa := newTestSpace(t, 16)

	old := s.Brk(0)
	require.Equal(t, s.HeapStart(), old)

	// No-op at the current break.
	require.Equal(t, old, s.Brk(old))

	grown := s.Brk(old + 4*format.PageSize)
	require.Equal(t, old+4*format.PageSize, grown)
	require.Equal(t, uint64(12), pa.Available())
	require.True(t, s.PageTable().IsMapped(old))
	require.True(t, s.PageTable().IsMapped(old+3*format.PageSize))

	// Shrink back: grown pages fully unmapped, frames restored.
	require.Equal(t, old, s.Brk(old))
	require.Equal(t, uint64(16), pa.Available())
	require.False(t, s.PageTable().IsMapped(old))
	require.False(t, s.PageTable().IsMapped(old+3*format.PageSize))
}

func TestBrkOutOfRange(t *testing.T) {
	s, _ := newTestSpace(t, 8)

	require.Zero(t, s.Brk(s.HeapStart()-format.PageSize))
	require.Zero(t, s.Brk(s.HeapEnd()+format.PageSize))

	// A rejected target leaves the break unchanged.
	require.Equal(t, s.HeapStart(), s.Brk(0))
}

func TestMmapAtBreakDoesNotAdvanceIt(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	brk := s.HeapBrk()
	addr := s.Mmap(0, 2*format.PageSize, ProtRead|ProtWrite)
	require.Equal(t, brk, addr)
	require.Equal(t, brk, s.HeapBrk())
	require.True(t, s.PageTable().IsMapped(addr))
}

func TestMmapHintAndBounds(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	hint := s.HeapStart() + 16*format.PageSize
	addr := s.Mmap(hint+0x123, format.PageSize, ProtRead)
	require.Equal(t, hint, addr) // hint aligned down

	require.Zero(t, s.Mmap(s.HeapStart()-format.PageSize, format.PageSize, ProtRead))
	require.Zero(t, s.Mmap(s.HeapEnd()-format.PageSize, 2*format.PageSize, ProtRead))
	require.Zero(t, s.Mmap(0, 0, ProtRead))
}

func TestMmapProtectionBits(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	ro := s.Mmap(0, format.PageSize, ProtRead)
	require.NotZero(t, ro)
	e := s.PageTable().Lookup(ro)
	require.NotNil(t, e)
	require.False(t, e.Flags.IsWritable())

	rw := s.Mmap(s.HeapStart()+8*format.PageSize, format.PageSize, ProtRead|ProtWrite)
	require.NotZero(t, rw)
	e = s.PageTable().Lookup(rw)
	require.True(t, e.Flags.IsWritable())

	// Execute is accepted but maps to no extra flag.
	rx := s.Mmap(s.HeapStart()+16*format.PageSize, format.PageSize, ProtRead|ProtExec)
	require.NotZero(t, rx)
	e = s.PageTable().Lookup(rx)
	require.False(t, e.Flags.IsWritable())
}

// Regression: addr+size wrapped past the heap end for huge sizes, so Mmap
// returned a non-zero address with nothing mapped.
func TestMmapWrappingSizeRejected(t *testing.T) {
	s, _ := newTestSpace(t, 8)

	start := s.HeapStart()
	require.Zero(t, s.Mmap(start, ^uint64(0)-start+1, ProtRead|ProtWrite))
	require.Zero(t, s.Mmap(start, ^uint64(0), ProtRead|ProtWrite))
	require.Equal(t, 0, s.PageTable().Len())
}

func TestMmapRollbackOnFrameExhaustion(t *testing.T) {
	s, pa := newTestSpace(t, 2)

	require.Zero(t, s.Mmap(0, 4*format.PageSize, ProtRead|ProtWrite))
	require.Equal(t, uint64(2), pa.Available())
	require.Equal(t, 0, s.PageTable().Len())
}

func TestMprotectTogglesWritable(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	addr := s.Mmap(0, 2*format.PageSize, ProtRead)
	require.NotZero(t, addr)
	require.False(t, s.PageTable().Lookup(addr).Flags.IsWritable())

	require.True(t, s.Mprotect(addr, 2*format.PageSize, ProtRead|ProtWrite))
	require.True(t, s.PageTable().Lookup(addr).Flags.IsWritable())
	require.True(t, s.PageTable().Lookup(addr+format.PageSize).Flags.IsWritable())

	require.True(t, s.Mprotect(addr, 2*format.PageSize, ProtRead))
	require.False(t, s.PageTable().Lookup(addr).Flags.IsWritable())
}

// Regression: Mprotect stops at the first unmapped page without reverting
// pages already updated in the same call. This weak-consistency gap is
// deliberate; see the method comment.
func TestMprotectPartialFailureLeavesEarlierPagesChanged(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	addr := s.Mmap(0, 2*format.PageSize, ProtRead)
	require.NotZero(t, addr)
	// Third page in the range is unmapped.
	require.False(t, s.Mprotect(addr, 3*format.PageSize, ProtRead|ProtWrite))

	// Earlier pages in the same call were already updated and stay updated.
	require.True(t, s.PageTable().Lookup(addr).Flags.IsWritable())
	require.True(t, s.PageTable().Lookup(addr+format.PageSize).Flags.IsWritable())
}

func TestMprotectZeroSize(t *testing.T) {
	s, _ := newTestSpace(t, 4)
	require.True(t, s.Mprotect(s.HeapStart(), 0, ProtRead))
}

func TestAllocateStackGuardPage(t *testing.T) {
	s, pa := newTestSpace(t, 64)

	sp := s.AllocateStack(4 * format.PageSize)
	require.Equal(t, s.StackEnd(), sp)

	base := s.StackEnd() - 4*format.PageSize
	require.False(t, s.PageTable().IsMapped(base), "lowest page is the guard")
	require.True(t, s.PageTable().IsMapped(base+format.PageSize))
	require.True(t, s.PageTable().IsMapped(s.StackEnd()-format.PageSize))

	// Guard page consumes no frame: 3 frames for 4 pages requested.
	require.Equal(t, uint64(61), pa.Available())

	e := s.PageTable().Lookup(base + format.PageSize)
	require.True(t, e.Flags.IsWritable())
}

func TestAllocateStackSinglePageHasNoGuard(t *testing.T) {
	s, _ := newTestSpace(t, 8)

	sp := s.AllocateStack(format.PageSize)
	require.Equal(t, s.StackEnd(), sp)
	require.True(t, s.PageTable().IsMapped(s.StackEnd()-format.PageSize))
}

func TestAllocateStackFailures(t *testing.T) {
	s, _ := newTestSpace(t, 8)

	require.Zero(t, s.AllocateStack(0))

	// Larger than the whole stack region.
	region := s.StackEnd() - s.StackStart()
	require.Zero(t, s.AllocateStack(region+format.PageSize))
}

func TestAllocateStackRollbackOnFrameExhaustion(t *testing.T) {
	s, pa := newTestSpace(t, 2)

	require.Zero(t, s.AllocateStack(8*format.PageSize))
	require.Equal(t, uint64(2), pa.Available())
	require.Equal(t, 0, s.PageTable().Len())
}

func TestMapSegmentOverlaysDataAndZeroFills(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	data := []byte("segment-payload")
	vaddr := uint64(0x400000)
	require.True(t, s.MapSegment(data, uint64(len(data)), vaddr, 2*format.PageSize, format.PFR))

	got := make([]byte, len(data))
	require.True(t, s.ReadUser(got, vaddr))
	require.Equal(t, data, got)

	// Remaining memsz bytes read back as zero.
	tail := make([]byte, 32)
	require.True(t, s.ReadUser(tail, vaddr+uint64(len(data))))
	for _, b := range tail {
		require.Zero(t, b)
	}
}

func TestMapSegmentUnalignedVaddrKeepsPageOffset(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	data := []byte{1, 2, 3, 4}
	vaddr := uint64(0x400000 + 0x10)
	require.True(t, s.MapSegment(data, 4, vaddr, 0x100, format.PFR|format.PFW))

	got := make([]byte, 4)
	require.True(t, s.ReadUser(got, vaddr))
	require.Equal(t, data, got)

	// Bytes before the overlay within the page are zero.
	head := make([]byte, 0x10)
	require.True(t, s.ReadUser(head, 0x400000))
	for _, b := range head {
		require.Zero(t, b)
	}
}

func TestMapSegmentWrappingRangeRejected(t *testing.T) {
	s, _ := newTestSpace(t, 8)

	// vaddr+memsz wraps around the top of the address space.
	require.False(t, s.MapSegment(nil, 0, ^uint64(0)-format.PageSize, 4*format.PageSize, format.PFR))
	require.Equal(t, 0, s.PageTable().Len())
}

func TestMapSegmentValidation(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	require.True(t, s.MapSegment(nil, 0, 0x400000, 0, 0)) // zero memsz is a no-op
	require.False(t, s.MapSegment([]byte{1}, 2, 0x400000, format.PageSize, 0))
	require.False(t, s.MapSegment([]byte{1, 2}, 2, 0x400000, 1, 0)) // filesz > memsz
}

func TestMapSegmentWritableFlagFollowsElfFlags(t *testing.T) {
	s, _ := newTestSpace(t, 16)

	require.True(t, s.MapSegment(nil, 0x0, 0x400000, format.PageSize, format.PFR|format.PFX))
	require.False(t, s.PageTable().Lookup(0x400000).Flags.IsWritable())

	require.True(t, s.MapSegment(nil, 0x0, 0x500000, format.PageSize, format.PFR|format.PFW))
	require.True(t, s.PageTable().Lookup(0x500000).Flags.IsWritable())
}

func TestCloneSharesFramesDivergesMappings(t *testing.T) {
	s, pa := newTestSpace(t, 32)

	addr := s.Allocate(format.PageSize)
	require.NotZero(t, addr)
	require.True(t, s.WriteUser(addr, []byte("parent")))

	c := s.Clone()
	require.Equal(t, s.HeapBrk(), c.HeapBrk())
	require.Equal(t, s.StackEnd(), c.StackEnd())

	// Shared bytes: the clone reads what the parent wrote.
	got := make([]byte, 6)
	require.True(t, c.ReadUser(got, addr))
	require.Equal(t, []byte("parent"), got)

	// Shared bytes both ways: a write in the clone is visible to the parent.
	// This is the documented shallow-clone behavior, not copy-on-write.
	require.True(t, c.WriteUser(addr, []byte("child!")))
	require.True(t, s.ReadUser(got, addr))
	require.Equal(t, []byte("child!"), got)

	// Independent mappings: unmapping in the parent leaves the clone mapped.
	s.Free(addr, format.PageSize)
	require.False(t, s.PageTable().IsMapped(addr))
	require.True(t, c.PageTable().IsMapped(addr))

	// The freed frame went back to the pool even though the clone still
	// references it; frame sharing after a clone is explicit, not refcounted.
	require.Equal(t, uint64(32), pa.Available())
}

func TestDirtyTrackerSeesWritesAndSegments(t *testing.T) {
	tr := dirty.NewPageTracker()
	s, _ := newTestSpace(t, 16, WithDirtyTracker(tr))

	addr := s.Allocate(2 * format.PageSize)
	require.NotZero(t, addr)
	require.Zero(t, tr.Len(), "plain allocation is not a user write")

	require.True(t, s.WriteUser(addr+0x10, []byte{1, 2, 3}))
	require.True(t, s.MapSegment([]byte{9}, 1, 0x700000, format.PageSize, format.PFR))

	pages := tr.Pages()
	require.Equal(t, []dirty.Range{
		{Addr: addr, Len: format.PageSize},
		{Addr: 0x700000, Len: format.PageSize},
	}, pages)
}
