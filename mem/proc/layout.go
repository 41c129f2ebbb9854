// Package proc turns a validated ELF image into a runnable initial process
// state: segments mapped, heap relocated above the image, stack allocated,
// and — when arguments are supplied — an argv/envp stack image built the way
// the System V AMD64 convention expects it.
//
// The package mutates an address space it is handed; it owns no memory of its
// own. The scheduler reads the resulting StartState to drive execution.
package proc

import "errors"

// MaxArgs is the per-list limit on argv and envp entries.
const MaxArgs = 32

var (
	// ErrMapSegment indicates a loadable segment could not be mapped
	// (overlapping placement or frame exhaustion).
	ErrMapSegment = errors.New("proc: mapping segment failed")

	// ErrStackAlloc indicates the initial stack could not be allocated.
	ErrStackAlloc = errors.New("proc: stack allocation failed")

	// ErrTooManyArgs indicates argv or envp exceeds MaxArgs entries.
	ErrTooManyArgs = errors.New("proc: too many argv/envp entries")

	// ErrStackImage indicates the argv/envp stack image would underflow the
	// stack's mapped floor.
	ErrStackImage = errors.New("proc: stack image does not fit")
)

// Layout records the memory regions of a loaded process. Code and data
// bounds are set once at load; heap and stack fields track the owning
// address space thereafter.
type Layout struct {
	CodeStart uint64
	CodeEnd   uint64

	// DataStart/DataEnd cover the writable segments only; both are zero when
	// the image has none.
	DataStart uint64
	DataEnd   uint64

	HeapStart uint64
	HeapEnd   uint64
	HeapBrk   uint64

	StackStart   uint64
	StackEnd     uint64
	StackPointer uint64
}

// Context is the slice of the CPU context the loader establishes: the
// instruction and stack pointers plus the three argument registers of the
// calling convention (argc, argv, envp).
type Context struct {
	RIP uint64
	RSP uint64
	RDI uint64
	RSI uint64
	RDX uint64
}

// StartState is everything the scheduler needs to start a freshly loaded
// process.
type StartState struct {
	Layout  Layout
	Context Context
}
