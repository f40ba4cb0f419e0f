package fancy

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// PointerLayout describes the bit packing of a segmented pointer: from LSB
// to MSB, an offset field, a segment field, and a manager field. The widths
// are derived from the owning pool's geometry. The manager width covers
// ManagerCount valid ids plus the reserved all-ones null sentinel, so
// MaxManagerIndex is always at least ManagerCount-1.
type PointerLayout struct {
	OffsetBits  int
	SegmentBits int
	ManagerBits int

	OffsetCount  int
	SegmentCount int
	ManagerCount int

	// BlockSize is the pool block size in bytes; offsets address blocks,
	// not bytes, so resolution multiplies by it.
	BlockSize int
}

// NewPointerLayout derives a layout from a pool's geometry: blocks per
// segment, segments per manager, manager limit, and block size.
func NewPointerLayout(offsetCount, segmentCount, managerCount, blockSize int) (PointerLayout, error) {
	if offsetCount < 1 || segmentCount < 1 || managerCount < 1 {
		return PointerLayout{}, cerrors.Newf(
			"pointer layout requires positive counts, got %d/%d/%d",
			offsetCount, segmentCount, managerCount)
	}

	l := PointerLayout{
		OffsetBits:  memcore.BitWidth(offsetCount),
		SegmentBits: memcore.BitWidth(segmentCount),
		// One extra value above managerCount-1 so the null sentinel never
		// collides with a valid manager id.
		ManagerBits:  memcore.BitWidth(managerCount + 1),
		OffsetCount:  offsetCount,
		SegmentCount: segmentCount,
		ManagerCount: managerCount,
		BlockSize:    blockSize,
	}
	if l.TotalBits() > 63 {
		return PointerLayout{}, cerrors.Newf(
			"pointer layout needs %d bits, more than the 63 available", l.TotalBits())
	}
	return l, nil
}

func (l PointerLayout) TotalBits() int {
	return l.OffsetBits + l.SegmentBits + l.ManagerBits
}

// NullManagerIndex is the reserved all-ones manager value encoding null.
func (l PointerLayout) NullManagerIndex() int {
	return (1 << l.ManagerBits) - 1
}

func (l PointerLayout) MaxManagerIndex() int {
	return l.NullManagerIndex() - 1
}

func (l PointerLayout) MaxSegmentIndex() int {
	return (1 << l.SegmentBits) - 1
}

func (l PointerLayout) MaxOffsetIndex() int {
	return (1 << l.OffsetBits) - 1
}

// BlocksPerManager is the linear span one manager id covers during pointer
// arithmetic.
func (l PointerLayout) BlocksPerManager() int {
	return l.OffsetCount * l.SegmentCount
}

// TotalBlocks is the exclusive upper bound of the pool's linear range.
func (l PointerLayout) TotalBlocks() int {
	return (l.MaxManagerIndex() + 1) * l.BlocksPerManager()
}

// Pack encodes a (manager, segment, offset) triple. Out-of-range values are
// contract violations.
func (l PointerLayout) Pack(manager, segment, offset int) uint64 {
	if manager < 0 || manager > l.MaxManagerIndex() {
		memcore.Fatalf("manager id %d out of range or null (max %d)", manager, l.MaxManagerIndex())
	}
	if segment < 0 || segment > l.MaxSegmentIndex() {
		memcore.Fatalf("segment id %d out of range (max %d)", segment, l.MaxSegmentIndex())
	}
	if offset < 0 || offset > l.MaxOffsetIndex() {
		memcore.Fatalf("offset %d out of range (max %d)", offset, l.MaxOffsetIndex())
	}

	bits := uint64(offset)
	bits |= uint64(segment) << l.OffsetBits
	bits |= uint64(manager) << (l.OffsetBits + l.SegmentBits)
	return bits
}

// Unpack decodes a packed triple. The caller must not pass the null
// encoding.
func (l PointerLayout) Unpack(bits uint64) (manager, segment, offset int) {
	offset = int(bits & ((1 << l.OffsetBits) - 1))
	segment = int((bits >> l.OffsetBits) & ((1 << l.SegmentBits) - 1))
	manager = int((bits >> (l.OffsetBits + l.SegmentBits)) & ((1 << l.ManagerBits) - 1))
	return manager, segment, offset
}
