//go:build !unix

package mmap

// MapAnon falls back to an ordinary heap slab on platforms without anonymous
// mappings. The slab is still a single fixed region acquired once.
func MapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Unmap is a no-op for the heap fallback.
func Unmap(data []byte) error {
	return nil
}
