// Package elf64 validates ELF64 images and extracts their loadable segments.
//
// It is a pure parser: no filesystem access, no mapping, no allocation beyond
// the segment list. The accepted subset is fixed — 64-bit class, little-endian
// encoding, x86-64 machine, PT_LOAD program headers only — and every multi-byte
// field is bounds-checked before it is read.
package elf64

import (
	"bytes"
	"math"

	"github.com/GoryGrey/RSE-sub001/internal/buf"
	"github.com/GoryGrey/RSE-sub001/internal/format"
)

// MaxSegments is the fixed capacity of the segment list. Images with more
// loadable segments are rejected with ErrTooManySegments, never silently
// truncated.
const MaxSegments = 8

// Segment is one loadable region described by a program header.
type Segment struct {
	Vaddr  uint64 // virtual address of the segment start
	Memsz  uint64 // size in memory (zero-filled past Filesz)
	Filesz uint64 // size of the initialized bytes in the image
	Off    uint64 // offset of those bytes within the image
	Align  uint64 // requested alignment
	Flags  uint32 // PF_R / PF_W / PF_X bits
}

// Writable reports whether the segment requests write access (PF_W).
func (s Segment) Writable() bool {
	return s.Flags&format.PFW != 0
}

// Image is the validated result of Parse: the entry point and the loadable
// segments in program-header order.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse validates data as an ELF64 executable image and extracts its entry
// point and loadable segments. Validation order: minimum size, magic, class,
// encoding, machine, program-header record size, program-header table bounds,
// then per-segment file bounds. On any failure the returned error is one of
// the package sentinels and the image is nil.
func Parse(data []byte) (*Image, error) {
	if !buf.Has(data, 0, format.EhdrSize) {
		return nil, ErrTooSmall
	}
	if !bytes.Equal(data[:4], format.ElfMagic) {
		return nil, ErrBadMagic
	}
	if data[format.EIClass] != format.ElfClass64 {
		return nil, ErrUnsupportedClass
	}
	if data[format.EIData] != format.ElfData2LSB {
		return nil, ErrUnsupportedEndian
	}
	if format.ReadU16(data, format.EhdrMachineOffset) != format.EMX8664 {
		return nil, ErrUnsupportedMachine
	}
	if format.ReadU16(data, format.EhdrPhentsizeOffset) != format.PhdrSize {
		return nil, ErrInvalidProgramHeaders
	}

	phoff := format.ReadU64(data, format.EhdrPhoffOffset)
	phnum := int(format.ReadU16(data, format.EhdrPhnumOffset))
	if phoff > math.MaxInt {
		return nil, ErrInvalidProgramHeaders
	}
	if _, err := buf.CheckTableBounds(len(data), int(phoff), phnum, format.PhdrSize); err != nil {
		return nil, ErrInvalidProgramHeaders
	}

	img := &Image{
		Entry:    format.ReadU64(data, format.EhdrEntryOffset),
		Segments: make([]Segment, 0, MaxSegments),
	}

	for i := 0; i < phnum; i++ {
		rec, _ := buf.Slice(data, int(phoff)+i*format.PhdrSize, format.PhdrSize)

		ptype := format.ReadU32(rec, format.PhdrTypeOffset)
		memsz := format.ReadU64(rec, format.PhdrMemszOffset)
		if ptype != format.PTLoad || memsz == 0 {
			continue
		}

		off := format.ReadU64(rec, format.PhdrOffsetOffset)
		filesz := format.ReadU64(rec, format.PhdrFileszOffset)
		if off+filesz < off || off+filesz > uint64(len(data)) {
			return nil, ErrSegmentOutOfRange
		}

		if len(img.Segments) == MaxSegments {
			return nil, ErrTooManySegments
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:  format.ReadU64(rec, format.PhdrVaddrOffset),
			Memsz:  memsz,
			Filesz: filesz,
			Off:    off,
			Align:  format.ReadU64(rec, format.PhdrAlignOffset),
			Flags:  format.ReadU32(rec, format.PhdrFlagsOffset),
		})
	}

	return img, nil
}
