// Package testutil builds synthetic ELF64 images for tests. The images are
// minimal but well-formed: a 64-byte file header, a program-header table
// immediately after it, and segment payloads placed at 16-byte-aligned
// offsets past the table.
package testutil

import "github.com/GoryGrey/RSE-sub001/internal/format"

// Segment describes one PT_LOAD entry to emit.
type Segment struct {
	Vaddr   uint64
	Memsz   uint64
	Align   uint64
	Flags   uint32
	Payload []byte // becomes the segment's file bytes; p_filesz = len(Payload)
}

// BuildImage assembles an ELF64 image with the given entry point and
// loadable segments, in order. Tests that need a malformed image mutate the
// returned bytes directly.
func BuildImage(entry uint64, segs ...Segment) []byte {
	phoff := format.EhdrSize
	dataOff := phoff + len(segs)*format.PhdrSize
	dataOff = (dataOff + 15) &^ 15

	size := dataOff
	offs := make([]int, len(segs))
	for i, s := range segs {
		offs[i] = size
		size += (len(s.Payload) + 15) &^ 15
	}

	img := make([]byte, size)
	copy(img, format.ElfMagic)
	img[format.EIClass] = format.ElfClass64
	img[format.EIData] = format.ElfData2LSB
	img[6] = 1 // EI_VERSION
	format.PutU16(img, 16, 2) // e_type = ET_EXEC
	format.PutU16(img, format.EhdrMachineOffset, format.EMX8664)
	format.PutU32(img, 20, 1) // e_version
	format.PutU64(img, format.EhdrEntryOffset, entry)
	format.PutU64(img, format.EhdrPhoffOffset, uint64(phoff))
	format.PutU16(img, 52, format.EhdrSize) // e_ehsize
	format.PutU16(img, format.EhdrPhentsizeOffset, format.PhdrSize)
	format.PutU16(img, format.EhdrPhnumOffset, uint16(len(segs)))

	for i, s := range segs {
		rec := img[phoff+i*format.PhdrSize:]
		format.PutU32(rec, format.PhdrTypeOffset, format.PTLoad)
		format.PutU32(rec, format.PhdrFlagsOffset, s.Flags)
		format.PutU64(rec, format.PhdrOffsetOffset, uint64(offs[i]))
		format.PutU64(rec, format.PhdrVaddrOffset, s.Vaddr)
		format.PutU64(rec, 24, s.Vaddr) // p_paddr mirrors p_vaddr
		format.PutU64(rec, format.PhdrFileszOffset, uint64(len(s.Payload)))
		format.PutU64(rec, format.PhdrMemszOffset, s.Memsz)
		format.PutU64(rec, format.PhdrAlignOffset, s.Align)
		copy(img[offs[i]:], s.Payload)
	}

	return img
}
