//go:build unix

package phys

import "golang.org/x/sys/unix"

// mapRegion reserves size bytes of anonymous private memory to back the
// frame region. Using mmap rather than a heap slice keeps the region out of
// the Go GC's scanning set and releases it wholesale on Close.
func mapRegion(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return unix.Munmap(data)
	}
	return data, cleanup, nil
}
