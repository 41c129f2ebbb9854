//go:build !unix

package phys

// mapRegion falls back to an ordinary heap allocation on platforms without
// the unix mmap surface.
func mapRegion(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
