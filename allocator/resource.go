package allocator

import "unsafe"

// Resource is the general-purpose allocation facade, the layer containers
// and upstream fallbacks speak when they do not care about block identity.
// Local buffers and growing pools both implement it; requests that fit a
// block are served from the freelist and everything else is forwarded
// upstream or refused.
type Resource interface {
	Allocate(size, alignment int) (unsafe.Pointer, error)
	Deallocate(p unsafe.Pointer, size, alignment int) error
}

// BlockSource is the uniform-block contract one allocator layer offers the
// layer above it: a segment manager draws whole upstream blocks through it
// and returns them through it.
type BlockSource interface {
	AllocateRaw() (unsafe.Pointer, error)
	DeallocateRaw(p unsafe.Pointer) error
	BlockSize() int
}
