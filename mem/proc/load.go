package proc

import (
	log "github.com/sirupsen/logrus"

	"github.com/GoryGrey/RSE-sub001/internal/format"
	"github.com/GoryGrey/RSE-sub001/mem/elf64"
	"github.com/GoryGrey/RSE-sub001/mem/vm"
)

// Load parses image, maps every loadable segment into space, relocates the
// heap above the highest mapped address, and allocates a stack of stackSize
// bytes. On success the returned state carries the image entry point as the
// instruction pointer and the stack allocation's return value as the stack
// pointer.
//
// Parse errors are returned as elf64 sentinels. A mapping or stack failure
// is reported via ErrMapSegment / ErrStackAlloc; segments mapped before the
// failing one remain mapped, as each mapping call rolls back only itself.
func Load(space *vm.Space, image []byte, stackSize uint64) (*StartState, error) {
	img, err := elf64.Parse(image)
	if err != nil {
		return nil, err
	}

	var (
		codeStart, codeEnd uint64
		dataStart, dataEnd uint64
		haveCode, haveData bool
	)

	for _, seg := range img.Segments {
		data := image[seg.Off : seg.Off+seg.Filesz]
		if !space.MapSegment(data, seg.Filesz, seg.Vaddr, seg.Memsz, seg.Flags) {
			log.WithFields(log.Fields{"vaddr": seg.Vaddr, "memsz": seg.Memsz}).Debug("proc: segment mapping failed")
			return nil, ErrMapSegment
		}

		end := seg.Vaddr + seg.Memsz
		if !haveCode || seg.Vaddr < codeStart {
			codeStart = seg.Vaddr
		}
		if !haveCode || end > codeEnd {
			codeEnd = end
		}
		haveCode = true

		if seg.Writable() {
			if !haveData || seg.Vaddr < dataStart {
				dataStart = seg.Vaddr
			}
			if !haveData || end > dataEnd {
				dataEnd = end
			}
			haveData = true
		}
	}

	if haveCode {
		space.SetHeapStart(format.PageAlignUp(codeEnd))
	}

	sp := space.AllocateStack(stackSize)
	if sp == 0 {
		return nil, ErrStackAlloc
	}

	st := &StartState{
		Layout: Layout{
			CodeStart:    codeStart,
			CodeEnd:      codeEnd,
			DataStart:    dataStart,
			DataEnd:      dataEnd,
			HeapStart:    space.HeapStart(),
			HeapEnd:      space.HeapEnd(),
			HeapBrk:      space.HeapBrk(),
			StackStart:   space.StackStart(),
			StackEnd:     space.StackEnd(),
			StackPointer: sp,
		},
		Context: Context{
			RIP: img.Entry,
			RSP: sp,
		},
	}

	log.WithFields(log.Fields{
		"entry":    img.Entry,
		"segments": len(img.Segments),
		"heap":     st.Layout.HeapStart,
		"sp":       sp,
	}).Debug("proc: image loaded")

	return st, nil
}

// LoadWithArgs loads image like Load and then builds the argv/envp stack
// image, writing downward from the initial stack pointer: every argv string
// then every envp string (NUL-terminated, byte for byte), a 16-byte
// alignment, the NUL-terminated envp pointer array, the NUL-terminated argv
// pointer array, and finally the argument count. On success RDI holds argc,
// RSI the argv-array address, RDX the envp-array address, and RSP the final
// stack position.
//
// Fails with ErrTooManyArgs when either list exceeds MaxArgs (checked before
// anything is mapped) and with ErrStackImage when a push would cross the
// stack's mapped floor; in the latter case no start state is returned, but
// string bytes already written stay written.
func LoadWithArgs(space *vm.Space, image []byte, stackSize uint64, argv, envp []string) (*StartState, error) {
	if len(argv) > MaxArgs || len(envp) > MaxArgs {
		return nil, ErrTooManyArgs
	}

	st, err := Load(space, image, stackSize)
	if err != nil {
		return nil, err
	}

	cur := st.Context.RSP

	pushBytes := func(b []byte) bool {
		cur -= uint64(len(b))
		return space.WriteUser(cur, b)
	}
	pushWord := func(v uint64) bool {
		var w [format.WordSize]byte
		format.PutU64(w[:], 0, v)
		return pushBytes(w[:])
	}

	argvAddrs := make([]uint64, len(argv))
	for i, s := range argv {
		if !pushBytes(append([]byte(s), 0)) {
			return nil, ErrStackImage
		}
		argvAddrs[i] = cur
	}
	envpAddrs := make([]uint64, len(envp))
	for i, s := range envp {
		if !pushBytes(append([]byte(s), 0)) {
			return nil, ErrStackImage
		}
		envpAddrs[i] = cur
	}

	cur = format.StackAlignDown(cur)

	// Pointer arrays are pushed last-entry-first so index order matches
	// ascending addresses.
	if !pushWord(0) {
		return nil, ErrStackImage
	}
	for i := len(envp) - 1; i >= 0; i-- {
		if !pushWord(envpAddrs[i]) {
			return nil, ErrStackImage
		}
	}
	envArray := cur

	if !pushWord(0) {
		return nil, ErrStackImage
	}
	for i := len(argv) - 1; i >= 0; i-- {
		if !pushWord(argvAddrs[i]) {
			return nil, ErrStackImage
		}
	}
	argArray := cur

	if !pushWord(uint64(len(argv))) {
		return nil, ErrStackImage
	}

	st.Context.RSP = cur
	st.Context.RDI = uint64(len(argv))
	st.Context.RSI = argArray
	st.Context.RDX = envArray
	st.Layout.StackPointer = cur
	return st, nil
}
