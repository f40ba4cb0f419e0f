package allocator

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"

	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/internal/mmap"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// LocalBufferOptions configures a LocalBuffer.
type LocalBufferOptions struct {
	// BlockSize is the uniform block size in bytes, a power of two.
	BlockSize int
	// BlockCount is the number of blocks in the slab, a power of two.
	BlockCount int
	// Tag names this buffer in the process-wide thin-pointer registry.
	// No two live buffers may share a tag.
	Tag fancy.Tag
	// Mapped requests an anonymous memory mapping for the slab instead of
	// a heap allocation.
	Mapped bool
	// Upstream, when set, receives requests the buffer cannot satisfy and
	// foreign blocks handed back through the facade.
	Upstream Resource
}

// LocalBuffer manages a fixed number of fixed-size memory blocks in a
// single slab acquired once at construction. It wraps one freelist and
// publishes its base to the thin-pointer registry, so the blocks it hands
// out can be addressed by a two-byte offset.
//
// A buffer must stay alive (and unmoved - the slab never moves) while any
// thin pointer still resolves through it.
type LocalBuffer struct {
	blockSize  int
	blockCount int
	tag        fancy.Tag
	slab       []byte
	mapped     bool
	list       Freelist
	state      State
	upstream   Resource
	closed     bool
}

var _ Resource = (*LocalBuffer)(nil)
var _ BlockSource = (*LocalBuffer)(nil)

// NewLocalBuffer acquires the slab, builds the freelist, and registers the
// thin-pointer base for the configured tag. Registration under an occupied
// tag is a recoverable failure and leaves no slab behind.
func NewLocalBuffer(o LocalBufferOptions) (*LocalBuffer, error) {
	if err := memcore.CheckPow2(o.BlockSize, "block size"); err != nil {
		return nil, err
	}
	if err := memcore.CheckPow2(o.BlockCount, "block count"); err != nil {
		return nil, err
	}

	total := o.BlockSize * o.BlockCount
	var slab []byte
	var err error
	if o.Mapped {
		slab, err = mmap.MapAnon(total)
		if err != nil {
			return nil, cerrors.Wrapf(err, "mapping %d-byte slab", total)
		}
	} else {
		slab = make([]byte, total)
	}

	release := func() {
		if o.Mapped {
			_ = mmap.Unmap(slab)
		}
	}

	base := unsafe.Pointer(&slab[0])
	list, err := NewFreelist(base, o.BlockSize, o.BlockCount)
	if err != nil {
		release()
		return nil, err
	}

	b := &LocalBuffer{
		blockSize:  o.BlockSize,
		blockCount: o.BlockCount,
		tag:        o.Tag,
		slab:       slab,
		mapped:     o.Mapped,
		list:       list,
		upstream:   o.Upstream,
	}
	b.list.Reset(&b.state)

	if err := fancy.RegisterBase(o.Tag, base, total); err != nil {
		release()
		return nil, err
	}
	return b, nil
}

// AllocateBlock pops one block and wraps it in a thin pointer.
func (b *LocalBuffer) AllocateBlock() (fancy.Thin[byte], error) {
	p, err := b.AllocateRaw()
	if err != nil {
		return fancy.NullThin[byte](b.tag), err
	}
	return fancy.ThinFromRaw[byte](b.tag, p), nil
}

// AllocateRaw pops one block as a raw pointer.
func (b *LocalBuffer) AllocateRaw() (unsafe.Pointer, error) {
	p, err := b.list.Pop(&b.state)
	if err != nil {
		return nil, cerrors.Wrapf(memcore.ErrOutOfMemory, "local buffer %d has no free blocks", b.tag)
	}
	return p, nil
}

// DeallocateBlock returns a block to the freelist. A null pointer is a
// recoverable failure. A block the freelist rejects as foreign is forwarded
// to the upstream resource when one is configured.
func (b *LocalBuffer) DeallocateBlock(p fancy.Thin[byte]) error {
	if p.IsNull() {
		return cerrors.Wrap(memcore.ErrInvalidPointer, "cannot deallocate null pointer")
	}
	return b.DeallocateRaw(p.Raw())
}

// DeallocateRaw returns a raw block to the freelist, forwarding foreign
// blocks upstream when possible.
func (b *LocalBuffer) DeallocateRaw(p unsafe.Pointer) error {
	err := b.list.Push(p, &b.state)
	if err != nil && errors.Is(err, memcore.ErrInvalidPointer) && b.upstream != nil {
		return b.upstream.Deallocate(p, b.blockSize, b.blockSize)
	}
	return err
}

// Reset rebuilds the freelist, logically destroying every outstanding
// handle. The caller is responsible for ensuring no live references remain.
func (b *LocalBuffer) Reset() {
	b.list.Reset(&b.state)
}

// Size is the number of currently free blocks.
func (b *LocalBuffer) Size() int {
	return int(b.state.Count)
}

func (b *LocalBuffer) Base() unsafe.Pointer {
	return b.list.Base()
}

func (b *LocalBuffer) BlockSize() int  { return b.blockSize }
func (b *LocalBuffer) BlockAlign() int { return b.blockSize }
func (b *LocalBuffer) BlockCount() int { return b.blockCount }
func (b *LocalBuffer) TotalSize() int  { return b.blockSize * b.blockCount }
func (b *LocalBuffer) Tag() fancy.Tag  { return b.tag }

func (b *LocalBuffer) Owns(p unsafe.Pointer) bool {
	return b.list.Owns(p)
}

// Close unregisters the thin-pointer base and releases the slab. Idempotent.
// The buffer must not be used afterwards.
func (b *LocalBuffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	fancy.UnregisterBase(b.tag)
	if b.mapped {
		if err := mmap.Unmap(b.slab); err != nil {
			return cerrors.Wrap(err, "unmapping slab")
		}
	}
	b.slab = nil
	return nil
}

// Allocate serves the general-purpose facade. Requests that fit within one
// block come from the freelist; larger or stricter requests are forwarded
// upstream. Zero sizes and alignments exceeding the size are contract
// violations.
func (b *LocalBuffer) Allocate(size, alignment int) (unsafe.Pointer, error) {
	if size == 0 {
		memcore.Fatalf("zero-size allocation")
	}
	if alignment == 0 {
		memcore.Fatalf("zero alignment")
	}
	if alignment > size {
		memcore.Fatalf("alignment cannot exceed size")
	}

	if size > b.blockSize || alignment > b.blockSize {
		if b.upstream == nil {
			return nil, cerrors.Wrapf(memcore.ErrOutOfMemory,
				"request of %d bytes exceeds block size %d and no upstream is set", size, b.blockSize)
		}
		return b.upstream.Allocate(size, alignment)
	}
	return b.AllocateRaw()
}

// Deallocate is the facade counterpart of Allocate.
func (b *LocalBuffer) Deallocate(p unsafe.Pointer, size, alignment int) error {
	if p == nil {
		memcore.Fatalf("deallocating nil pointer")
	}
	if size == 0 {
		memcore.Fatalf("zero-size deallocation")
	}
	if alignment == 0 {
		memcore.Fatalf("zero alignment")
	}
	if alignment > size {
		memcore.Fatalf("alignment cannot exceed size")
	}

	if size > b.blockSize || alignment > b.blockSize {
		if b.upstream != nil {
			return b.upstream.Deallocate(p, size, alignment)
		}
		return cerrors.Wrap(memcore.ErrInvalidPointer, "no upstream for oversized deallocation")
	}
	return b.DeallocateRaw(p)
}

// Validate performs internal consistency checks on the freelist.
func (b *LocalBuffer) Validate() error {
	return b.list.validateChain(&b.state)
}

func (b *LocalBuffer) AddStatistics(stats *memcore.Statistics) {
	allocated := b.blockCount - b.Size()
	stats.BlockCount++
	stats.AllocationCount += allocated
	stats.BlockBytes += b.TotalSize()
	stats.AllocationBytes += allocated * b.blockSize
}

func (b *LocalBuffer) AddDetailedStatistics(stats *memcore.DetailedStatistics) {
	b.AddStatistics(&stats.Statistics)
	stats.FreeBlockCount += b.Size()
	stats.SegmentCount++
}

// BufferJsonData populates a json object with information about this buffer
func (b *LocalBuffer) BufferJsonData(json jwriter.ObjectState) {
	json.Name("BlockSize").Int(b.blockSize)
	json.Name("BlockCount").Int(b.blockCount)
	json.Name("TotalBytes").Int(b.TotalSize())
	json.Name("FreeBlocks").Int(b.Size())
	json.Name("Mapped").Bool(b.mapped)
}
