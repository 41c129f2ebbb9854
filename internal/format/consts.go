// Package format houses the low-level layout constants and decoders shared by
// the memory-management packages: the fixed page geometry and the on-disk
// ELF64 record layout. The goal is to keep the byte-level knowledge in one
// place, allocation-free, and independent from the public API so higher-level
// packages can orchestrate the data in a more ergonomic form.
package format

const (
	// PageSize is the fixed page and frame size in bytes. Every address and
	// size crossing a package boundary is rounded to this granularity.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// PageMask is the bitmask used for aligning to page boundaries (PageSize - 1).
	PageMask = PageSize - 1

	// StackAlignment is the alignment required of the stack pointer before the
	// argument arrays are written (System V AMD64 calling convention).
	StackAlignment = 16

	// StackAlignmentMask is the bitmask for StackAlignment (StackAlignment - 1).
	StackAlignmentMask = StackAlignment - 1

	// WordSize is the size of one stack slot / pointer on the target.
	WordSize = 8
)

var (
	// ElfMagic is the four-byte signature at the start of every ELF image.
	// Layout:
	//   0x00  0x7F 'E' 'L' 'F'
	ElfMagic = []byte{0x7F, 'E', 'L', 'F'}
)

const (
	// EhdrSize is the size of the ELF64 file header in bytes.
	EhdrSize = 64

	// PhdrSize is the size of one ELF64 program-header record in bytes.
	PhdrSize = 56

	// Indexes into the e_ident array.
	EIClass = 4
	EIData  = 5

	// ElfClass64 is the e_ident[EI_CLASS] value for 64-bit images.
	ElfClass64 = 2

	// ElfData2LSB is the e_ident[EI_DATA] value for little-endian images.
	ElfData2LSB = 1

	// EMX8664 is the e_machine value for x86-64.
	EMX8664 = 0x3e

	// PTLoad is the p_type value of a loadable segment. Only these program
	// headers are honored by the loader.
	PTLoad = 1

	// Program-header flag bits.
	PFX = 0x1
	PFW = 0x2
	PFR = 0x4
)

// ELF64 file header field offsets (from the start of the image).
const (
	EhdrMachineOffset   = 18
	EhdrEntryOffset     = 24
	EhdrPhoffOffset     = 32
	EhdrPhentsizeOffset = 54
	EhdrPhnumOffset     = 56
)

// ELF64 program-header field offsets (from the start of the record).
const (
	PhdrTypeOffset   = 0
	PhdrFlagsOffset  = 4
	PhdrOffsetOffset = 8
	PhdrVaddrOffset  = 16
	PhdrFileszOffset = 32
	PhdrMemszOffset  = 40
	PhdrAlignOffset  = 48
)
