package allocator

import (
	"encoding/binary"
	"math"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// NullIndex is the normalized freelist sentinel. The in-block link narrows
// to one byte when the block count allows it, but State always carries the
// widened form.
const NullIndex uint16 = math.MaxUint16

// State is the mutable half of a freelist: the head offset and the free
// count. It is owned by the caller so that several freelist views can share
// the same storage semantics - a local buffer keeps one State next to its
// slab, while a segment manager keeps one per segment in metadata that lives
// outside the segment.
//
// Invariant: Head == NullIndex exactly when Count == 0.
type State struct {
	Head  uint16
	Count uint16
}

// Freelist is a constant-time LIFO of free blocks over a fixed span of
// memory. The link to the next free block lives in the first bytes of each
// free block; once a block is popped those bytes belong to the caller until
// the block is pushed back.
type Freelist struct {
	base       unsafe.Pointer
	blockSize  int
	blockCount int
	linkWidth  int
}

// NewFreelist builds a freelist view over blockCount blocks of blockSize
// bytes starting at base. Both sizes must be powers of two; the block count
// must leave room for the reserved null sentinel in the chosen link width,
// and the link must fit inside a block.
func NewFreelist(base unsafe.Pointer, blockSize, blockCount int) (Freelist, error) {
	if base == nil {
		return Freelist{}, cerrors.Wrap(memcore.ErrInvalidPointer, "freelist base is nil")
	}
	if err := memcore.CheckPow2(blockSize, "block size"); err != nil {
		return Freelist{}, err
	}
	if err := memcore.CheckPow2(blockCount, "block count"); err != nil {
		return Freelist{}, err
	}
	if blockCount > math.MaxUint16 {
		return Freelist{}, cerrors.Newf("block count %d exceeds the representable range", blockCount)
	}
	linkWidth := memcore.IndexWidth(blockCount)
	if linkWidth > blockSize {
		return Freelist{}, cerrors.Newf(
			"block size %d cannot hold a %d-byte free link", blockSize, linkWidth)
	}
	return Freelist{
		base:       base,
		blockSize:  blockSize,
		blockCount: blockCount,
		linkWidth:  linkWidth,
	}, nil
}

// Rebase returns a view with identical geometry over a different span.
func (f Freelist) Rebase(base unsafe.Pointer) Freelist {
	f.base = base
	return f
}

func (f *Freelist) storageBytes() int {
	return f.blockSize * f.blockCount
}

func (f *Freelist) data() []byte {
	return unsafe.Slice((*byte)(f.base), f.storageBytes())
}

func (f *Freelist) link(index int) uint16 {
	off := index * f.blockSize
	if f.linkWidth == 1 {
		v := f.data()[off]
		if v == math.MaxUint8 {
			return NullIndex
		}
		return uint16(v)
	}
	return binary.LittleEndian.Uint16(f.data()[off:])
}

func (f *Freelist) setLink(index int, next uint16) {
	off := index * f.blockSize
	if f.linkWidth == 1 {
		if next == NullIndex {
			f.data()[off] = math.MaxUint8
		} else {
			f.data()[off] = byte(next)
		}
		return
	}
	binary.LittleEndian.PutUint16(f.data()[off:], next)
}

func (f *Freelist) insert(index int, st *State) {
	f.setLink(index, st.Head)
	st.Head = uint16(index)
	st.Count++
}

// Reset links every block into the list in reverse order, leaving block 0
// at the head and Count == blockCount.
func (f *Freelist) Reset(st *State) {
	st.Head = NullIndex
	st.Count = 0
	for i := f.blockCount - 1; i >= 0; i-- {
		f.insert(i, st)
	}
}

// Pop removes and returns the head block.
func (f *Freelist) Pop(st *State) (unsafe.Pointer, error) {
	if st.Head == NullIndex {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "freelist pop")
	}
	index := int(st.Head)
	if index >= f.blockCount {
		memcore.Fatalf("freelist head %d out of range (%d blocks): heap corruption", index, f.blockCount)
	}
	st.Head = f.link(index)
	st.Count--
	return f.BlockAt(index), nil
}

// Push inserts a block at the head. The block must lie inside this
// freelist's span; a misaligned address indicates corruption and is fatal.
func (f *Freelist) Push(p unsafe.Pointer, st *State) error {
	if !f.Owns(p) {
		return cerrors.Wrap(memcore.ErrInvalidPointer, "freelist push")
	}
	if int(st.Count) >= f.blockCount {
		return cerrors.Wrap(memcore.ErrListFull, "freelist push")
	}
	byteOff := uintptr(p) - uintptr(f.base)
	if byteOff%uintptr(f.blockSize) != 0 {
		memcore.Fatalf("block %#x is not aligned to block size %d: heap corruption", uintptr(p), f.blockSize)
	}
	f.insert(int(byteOff)/f.blockSize, st)
	return nil
}

// Head peeks at the head block without removing it.
func (f *Freelist) Head(st *State) (unsafe.Pointer, error) {
	if st.Head == NullIndex {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "freelist head")
	}
	return f.BlockAt(int(st.Head)), nil
}

// Owns reports whether p lies inside this freelist's span.
func (f *Freelist) Owns(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	return uintptr(p) >= uintptr(f.base) && uintptr(p) < uintptr(f.base)+uintptr(f.storageBytes())
}

// Base is the address of block 0, published as the thin-pointer base by the
// enclosing allocator.
func (f *Freelist) Base() unsafe.Pointer {
	return f.base
}

// BlockAt returns the address of the block at index.
func (f *Freelist) BlockAt(index int) unsafe.Pointer {
	return unsafe.Add(f.base, index*f.blockSize)
}

func (f *Freelist) BlockSize() int  { return f.blockSize }
func (f *Freelist) BlockCount() int { return f.blockCount }

func (f *Freelist) IsEmpty(st *State) bool {
	return st.Head == NullIndex
}

func (f *Freelist) IsFull(st *State) bool {
	return int(st.Count) >= f.blockCount
}

// validateChain walks the free chain and checks it against st: every link
// in range, chain length equal to Count, null-terminated.
func (f *Freelist) validateChain(st *State) error {
	if int(st.Count) > f.blockCount {
		return cerrors.Newf("free count %d exceeds block count %d", st.Count, f.blockCount)
	}
	if (st.Head == NullIndex) != (st.Count == 0) {
		return cerrors.Newf("head/count mismatch: head %d with count %d", st.Head, st.Count)
	}
	seen := 0
	for cur := st.Head; cur != NullIndex; {
		if int(cur) >= f.blockCount {
			return cerrors.Newf("free link %d out of range", cur)
		}
		seen++
		if seen > int(st.Count) {
			return cerrors.Newf("free chain longer than count %d", st.Count)
		}
		cur = f.link(int(cur))
	}
	if seen != int(st.Count) {
		return cerrors.Newf("free chain length %d does not match count %d", seen, st.Count)
	}
	return nil
}
