package fancy

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// Tag identifies one allocator instance in the process-wide pointer
// registry. Every live local buffer and growing pool must carry a distinct
// tag; registration under an occupied tag fails, which is what keeps two
// same-shape allocators from resolving each other's pointers.
//
// The whole stack is single-threaded, so the registry carries no locking.
type Tag uint8

type thinCell struct {
	base unsafe.Pointer
	size int
}

var (
	thinBases = swiss.NewMap[Tag, thinCell](16)
	pools     = swiss.NewMap[Tag, PoolResolver](16)
)

// RegisterBase publishes the base address of a contiguous buffer for thin
// pointers tagged with tag. Registering a nil base is a contract violation;
// registering over an occupied cell is a recoverable failure.
func RegisterBase(tag Tag, base unsafe.Pointer, size int) error {
	if base == nil {
		memcore.Fatalf("cannot register nil base for tag %d", tag)
	}
	if _, ok := thinBases.Get(tag); ok {
		return cerrors.Wrapf(memcore.ErrAlreadyRegistered, "thin base for tag %d", tag)
	}
	thinBases.Put(tag, thinCell{base: base, size: size})
	return nil
}

// UnregisterBase clears the thin-pointer cell for tag. Unconditional.
func UnregisterBase(tag Tag) {
	thinBases.Delete(tag)
}

// LookupBase returns the registered base for tag, if any.
func LookupBase(tag Tag) (unsafe.Pointer, bool) {
	cell, ok := thinBases.Get(tag)
	if !ok {
		return nil, false
	}
	return cell.base, true
}

func mustBase(tag Tag) unsafe.Pointer {
	cell, ok := thinBases.Get(tag)
	if !ok {
		memcore.Fatalf("no base address registered for tag %d", tag)
	}
	return cell.base
}

// PoolResolver is the interface a segmented-pointer registry cell holds.
// A growing pool implements it; segmented pointers use it to turn their
// packed (manager, segment, offset) triple into an address and back.
//
// All lookups are recoverable: a pointer that no manager claims reports
// memcore.ErrNotOwned, which the converting constructor turns into a null
// pointer rather than a failure.
type PoolResolver interface {
	// GetSegmentBase returns the first byte of the identified segment.
	GetSegmentBase(managerID, segmentID int) (unsafe.Pointer, error)
	// FindManagerForPointer returns the id of the manager whose segments
	// contain p.
	FindManagerForPointer(p unsafe.Pointer) (int, error)
	// FindSegmentInManager returns the id of the segment containing p within
	// the identified manager.
	FindSegmentInManager(managerID int, p unsafe.Pointer) (int, error)
	// ComputeOffsetInSegment returns the index of p within the identified
	// segment, in units of elemSize bytes.
	ComputeOffsetInSegment(managerID, segmentID int, p unsafe.Pointer, elemSize int) (int, error)
	// Layout describes the pool's pointer geometry.
	Layout() PointerLayout
}

// RegisterPool publishes pool as the segmented-pointer resolver for tag.
// A nil pool is a contract violation; an occupied cell is a recoverable
// failure.
func RegisterPool(tag Tag, pool PoolResolver) error {
	if pool == nil {
		memcore.Fatalf("cannot register nil pool for tag %d", tag)
	}
	if _, ok := pools.Get(tag); ok {
		return cerrors.Wrapf(memcore.ErrAlreadyRegistered, "pool for tag %d", tag)
	}
	pools.Put(tag, pool)
	return nil
}

// UnregisterPool clears the segmented-pointer cell for tag. Unconditional.
func UnregisterPool(tag Tag) {
	pools.Delete(tag)
}

// LookupPool returns the registered resolver for tag, if any.
func LookupPool(tag Tag) (PoolResolver, bool) {
	return pools.Get(tag)
}

func mustPool(tag Tag) PoolResolver {
	pool, ok := pools.Get(tag)
	if !ok {
		memcore.Fatalf("no pool registered for tag %d", tag)
	}
	return pool
}

func poolFor(tag Tag) (PoolResolver, error) {
	pool, ok := pools.Get(tag)
	if !ok {
		return nil, cerrors.Wrapf(memcore.ErrNotRegistered, "no pool for tag %d", tag)
	}
	return pool, nil
}

// GetSegmentBase delegates to the pool registered for tag; it fails
// recoverably when the cell is empty.
func GetSegmentBase(tag Tag, managerID, segmentID int) (unsafe.Pointer, error) {
	pool, err := poolFor(tag)
	if err != nil {
		return nil, err
	}
	return pool.GetSegmentBase(managerID, segmentID)
}

// FindManagerForPointer delegates to the pool registered for tag.
func FindManagerForPointer(tag Tag, p unsafe.Pointer) (int, error) {
	pool, err := poolFor(tag)
	if err != nil {
		return 0, err
	}
	return pool.FindManagerForPointer(p)
}

// FindSegmentInManager delegates to the pool registered for tag.
func FindSegmentInManager(tag Tag, managerID int, p unsafe.Pointer) (int, error) {
	pool, err := poolFor(tag)
	if err != nil {
		return 0, err
	}
	return pool.FindSegmentInManager(managerID, p)
}

// ComputeOffsetInSegment delegates to the pool registered for tag.
func ComputeOffsetInSegment(tag Tag, managerID, segmentID int, p unsafe.Pointer, elemSize int) (int, error) {
	pool, err := poolFor(tag)
	if err != nil {
		return 0, err
	}
	return pool.ComputeOffsetInSegment(managerID, segmentID, p, elemSize)
}
