package allocator

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

const (
	// segmentMetaSize is the accounted footprint of one segment-metadata
	// record: a pointer word plus the freelist head and count, padded.
	segmentMetaSize = 16
	// managerNodeReserve accounts for the enclosing manager-node fields
	// (next link and high-water mark, padded) when sizing the segment
	// table against one upstream block.
	managerNodeReserve = 16
)

// SegmentGeometry derives the per-manager shape from the two block sizes:
// how many small blocks fit one segment, and how many segment slots one
// manager carries.
func SegmentGeometry(blockSize, upstreamBlockSize int) (blocksPerSegment, maxSegments int, err error) {
	if err := memcore.CheckPow2(blockSize, "block size"); err != nil {
		return 0, 0, err
	}
	if upstreamBlockSize < blockSize {
		return 0, 0, cerrors.Newf(
			"upstream block size %d must be >= block size %d", upstreamBlockSize, blockSize)
	}
	if upstreamBlockSize%blockSize != 0 {
		return 0, 0, cerrors.Newf(
			"upstream block size %d must be a multiple of block size %d", upstreamBlockSize, blockSize)
	}
	blocksPerSegment = upstreamBlockSize / blockSize
	maxSegments = (upstreamBlockSize - managerNodeReserve) / segmentMetaSize
	if maxSegments < 1 {
		return 0, 0, cerrors.Newf(
			"upstream block size %d too small for a segment manager", upstreamBlockSize)
	}
	return blocksPerSegment, maxSegments, nil
}

// segmentMeta is the out-of-band record for one segment: the upstream block
// backing it and the freelist state threaded through it. A nil base marks
// the slot invalid (never used, or drained and released upstream).
type segmentMeta struct {
	base  unsafe.Pointer
	state State
}

func (s *segmentMeta) valid() bool {
	return s.base != nil
}

// SegmentManager subdivides upstream blocks ("segments") into smaller
// uniform blocks and routes allocation to the first segment with capacity.
// It is a non-unique, reusable component: the growing pool chains several
// of them, and every method that touches upstream memory takes the upstream
// explicitly.
//
// Blocks handed out always lie inside exactly one currently-valid segment,
// so an element's address is recoverable from a (segment id, in-segment
// offset) pair.
type SegmentManager struct {
	blockSize         int
	upstreamBlockSize int
	blocksPerSegment  int
	maxSegments       int

	// highWaterMark is one past the highest slot ever used; monotonically
	// non-decreasing until reset.
	highWaterMark int
	segments      []segmentMeta
}

// NewSegmentManager sizes a manager for the given block sizes without
// touching upstream memory.
func NewSegmentManager(blockSize, upstreamBlockSize int) (*SegmentManager, error) {
	blocksPerSegment, maxSegments, err := SegmentGeometry(blockSize, upstreamBlockSize)
	if err != nil {
		return nil, err
	}
	// The per-segment freelist must be able to index its blocks.
	if blocksPerSegment > int(NullIndex) {
		return nil, cerrors.Newf("blocks per segment %d exceeds the representable range", blocksPerSegment)
	}
	if memcore.IndexWidth(blocksPerSegment) > blockSize {
		return nil, cerrors.Newf("block size %d cannot hold a free link for %d blocks", blockSize, blocksPerSegment)
	}
	return &SegmentManager{
		blockSize:         blockSize,
		upstreamBlockSize: upstreamBlockSize,
		blocksPerSegment:  blocksPerSegment,
		maxSegments:       maxSegments,
		segments:          make([]segmentMeta, maxSegments),
	}, nil
}

func (m *SegmentManager) viewFor(base unsafe.Pointer) Freelist {
	return Freelist{
		base:       base,
		blockSize:  m.blockSize,
		blockCount: m.blocksPerSegment,
		linkWidth:  memcore.IndexWidth(m.blocksPerSegment),
	}
}

func (m *SegmentManager) BlockSize() int        { return m.blockSize }
func (m *SegmentManager) BlocksPerSegment() int { return m.blocksPerSegment }
func (m *SegmentManager) MaxSegments() int      { return m.maxSegments }
func (m *SegmentManager) MaxBlockCount() int    { return m.blocksPerSegment * m.maxSegments }
func (m *SegmentManager) HighWaterMark() int    { return m.highWaterMark }

// TryAllocate returns one block from the first segment with capacity, in
// index order, creating a new segment when none has any.
func (m *SegmentManager) TryAllocate(upstream BlockSource) (unsafe.Pointer, error) {
	for i := 0; i < m.highWaterMark; i++ {
		seg := &m.segments[i]
		if !seg.valid() || seg.state.Count == 0 {
			continue
		}
		list := m.viewFor(seg.base)
		if p, err := list.Pop(&seg.state); err == nil {
			return p, nil
		}
	}
	return m.allocateNewSegment(upstream)
}

func (m *SegmentManager) allocateNewSegment(upstream BlockSource) (unsafe.Pointer, error) {
	slot := -1
	for i := 0; i < m.maxSegments; i++ {
		if !m.segments[i].valid() {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, cerrors.Wrapf(memcore.ErrSegmentExhausted,
			"all %d segment slots in use", m.maxSegments)
	}
	if slot >= m.highWaterMark {
		m.highWaterMark = slot + 1
	}

	block, err := upstream.AllocateRaw()
	if err != nil {
		return nil, err
	}

	seg := &m.segments[slot]
	seg.base = block
	list := m.viewFor(block)
	list.Reset(&seg.state)

	return m.TryAllocate(upstream)
}

// Deallocate returns a block to its owning segment. A segment whose last
// outstanding block comes back is released upstream immediately and its
// slot invalidated; the slot stays below the high-water mark and can be
// reused later.
func (m *SegmentManager) Deallocate(p unsafe.Pointer, upstream BlockSource) error {
	if p == nil {
		return cerrors.Wrap(memcore.ErrInvalidPointer, "cannot deallocate null block")
	}

	segmentID, err := m.FindSegmentForPointer(p)
	if err != nil {
		return err
	}

	seg := &m.segments[segmentID]
	list := m.viewFor(seg.base)
	if err := list.Push(p, &seg.state); err != nil {
		return err
	}

	if int(seg.state.Count) == m.blocksPerSegment {
		if err := upstream.DeallocateRaw(seg.base); err != nil {
			return err
		}
		*seg = segmentMeta{}
	}
	return nil
}

// Owns reports whether some valid segment's byte range contains p.
func (m *SegmentManager) Owns(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	for i := 0; i < m.highWaterMark; i++ {
		if m.segmentContains(&m.segments[i], p) {
			return true
		}
	}
	return false
}

func (m *SegmentManager) segmentContains(seg *segmentMeta, p unsafe.Pointer) bool {
	if !seg.valid() {
		return false
	}
	return uintptr(p) >= uintptr(seg.base) &&
		uintptr(p) < uintptr(seg.base)+uintptr(m.upstreamBlockSize)
}

// FindSegmentForPointer returns the id of the valid segment containing p,
// used during pointer encoding and conversion.
func (m *SegmentManager) FindSegmentForPointer(p unsafe.Pointer) (int, error) {
	for i := 0; i < m.highWaterMark; i++ {
		if m.segmentContains(&m.segments[i], p) {
			return i, nil
		}
	}
	return 0, cerrors.Wrap(memcore.ErrNotOwned, "pointer not owned by manager")
}

// GetSegmentBase returns the first byte of the identified segment, used
// during pointer resolution.
func (m *SegmentManager) GetSegmentBase(segmentID int) (unsafe.Pointer, error) {
	if segmentID < 0 || segmentID >= m.highWaterMark {
		return nil, cerrors.Wrapf(memcore.ErrInvalidPointer, "invalid segment id %d", segmentID)
	}
	seg := &m.segments[segmentID]
	if !seg.valid() {
		return nil, cerrors.Wrapf(memcore.ErrInvalidPointer, "segment %d not valid", segmentID)
	}
	return seg.base, nil
}

func (m *SegmentManager) HasCapacity() bool {
	for i := 0; i < m.maxSegments; i++ {
		seg := &m.segments[i]
		if !seg.valid() || seg.state.Count > 0 {
			return true
		}
	}
	return false
}

func (m *SegmentManager) IsEmpty() bool {
	for i := 0; i < m.highWaterMark; i++ {
		seg := &m.segments[i]
		if seg.valid() && int(seg.state.Count) != m.blocksPerSegment {
			return false
		}
	}
	return true
}

// SegmentCount counts currently-valid segments. O(n).
func (m *SegmentManager) SegmentCount() int {
	count := 0
	for i := 0; i < m.highWaterMark; i++ {
		if m.segments[i].valid() {
			count++
		}
	}
	return count
}

// AvailableCount sums free blocks across valid segments.
func (m *SegmentManager) AvailableCount() int {
	total := 0
	for i := 0; i < m.highWaterMark; i++ {
		seg := &m.segments[i]
		if seg.valid() {
			total += int(seg.state.Count)
		}
	}
	return total
}

// Cleanup releases every valid segment upstream. Safe to call more than
// once; slots are invalidated as they are released.
func (m *SegmentManager) Cleanup(upstream BlockSource) error {
	for i := 0; i < m.highWaterMark; i++ {
		seg := &m.segments[i]
		if !seg.valid() {
			continue
		}
		if err := upstream.DeallocateRaw(seg.base); err != nil {
			return err
		}
		*seg = segmentMeta{}
	}
	return nil
}

// Reset releases every segment and returns the manager to its initial
// state, high-water mark included.
func (m *SegmentManager) Reset(upstream BlockSource) error {
	if err := m.Cleanup(upstream); err != nil {
		return err
	}
	m.highWaterMark = 0
	for i := range m.segments {
		m.segments[i] = segmentMeta{}
	}
	return nil
}

// Validate performs internal consistency checks on every valid segment's
// free chain.
func (m *SegmentManager) Validate() error {
	if m.highWaterMark > m.maxSegments {
		return cerrors.Newf("high-water mark %d exceeds max segments %d", m.highWaterMark, m.maxSegments)
	}
	for i := 0; i < m.highWaterMark; i++ {
		seg := &m.segments[i]
		if !seg.valid() {
			continue
		}
		list := m.viewFor(seg.base)
		if err := list.validateChain(&seg.state); err != nil {
			return cerrors.Wrapf(err, "segment %d", i)
		}
	}
	return nil
}
