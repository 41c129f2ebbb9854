package elf64

import "errors"

var (
	// ErrTooSmall indicates the buffer cannot hold an ELF64 file header.
	ErrTooSmall = errors.New("elf64: buffer smaller than file header")

	// ErrBadMagic indicates the buffer does not start with 0x7F 'E' 'L' 'F'.
	ErrBadMagic = errors.New("elf64: bad magic")

	// ErrUnsupportedClass indicates the image is not 64-bit.
	ErrUnsupportedClass = errors.New("elf64: unsupported ELF class")

	// ErrUnsupportedEndian indicates the image is not little-endian.
	ErrUnsupportedEndian = errors.New("elf64: unsupported data encoding")

	// ErrUnsupportedMachine indicates the image is not x86-64.
	ErrUnsupportedMachine = errors.New("elf64: unsupported machine")

	// ErrInvalidProgramHeaders indicates an unexpected program-header record
	// size or a program-header table that does not fit within the buffer.
	ErrInvalidProgramHeaders = errors.New("elf64: invalid program headers")

	// ErrSegmentOutOfRange indicates a loadable segment whose file bytes
	// extend past the end of the buffer.
	ErrSegmentOutOfRange = errors.New("elf64: segment out of range")

	// ErrTooManySegments indicates more loadable segments than the fixed
	// capacity allows. The image is rejected rather than truncated.
	ErrTooManySegments = errors.New("elf64: too many loadable segments")
)
