package allocator

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// GrowingPoolOptions configures a GrowingPool.
type GrowingPoolOptions struct {
	// BlockSize is the pool block size in bytes, a power of two no larger
	// than the upstream block size.
	BlockSize int
	// MaxManagers bounds the manager chain.
	MaxManagers int
	// Tag names this pool in the process-wide segmented-pointer registry.
	Tag fancy.Tag
	// Upstream supplies the blocks that become segments.
	Upstream BlockSource
}

// managerNode is one link of the pool's manager chain. Nodes are prepended
// on growth, so logical manager ids run from the tail (id 0, the oldest) to
// the head (id managerCount-1, the newest).
type managerNode struct {
	manager SegmentManager
	next    *managerNode
}

// GrowingPool extends a segment-manager domain across a linked chain of
// managers, creating new managers on demand up to MaxManagers, and hands
// out bit-packed segmented pointers instead of machine words.
//
// Two one-byte hint caches remember the last manager that allocated and the
// last manager that claimed a raw pointer. They are advisory only;
// correctness never depends on them.
type GrowingPool struct {
	blockSize   int
	maxManagers int
	tag         fancy.Tag
	upstream    BlockSource

	head         *managerNode
	managerCount int

	allocCache  uint8
	lookupCache uint8

	layout fancy.PointerLayout
	closed bool
}

var _ fancy.PoolResolver = (*GrowingPool)(nil)
var _ Resource = (*GrowingPool)(nil)

// NewGrowingPool validates the geometry, derives the pointer layout, and
// registers the pool in the segmented-pointer registry. Registration under
// an occupied tag is a recoverable failure (this is what makes two
// simultaneously-live pools with the same tag impossible).
func NewGrowingPool(o GrowingPoolOptions) (*GrowingPool, error) {
	if o.Upstream == nil {
		memcore.Fatalf("upstream allocator cannot be nil")
	}
	if o.MaxManagers < 1 {
		return nil, cerrors.Newf("max managers must be positive, got %d", o.MaxManagers)
	}

	blocksPerSegment, maxSegments, err := SegmentGeometry(o.BlockSize, o.Upstream.BlockSize())
	if err != nil {
		return nil, err
	}
	layout, err := fancy.NewPointerLayout(blocksPerSegment, maxSegments, o.MaxManagers, o.BlockSize)
	if err != nil {
		return nil, err
	}

	p := &GrowingPool{
		blockSize:   o.BlockSize,
		maxManagers: o.MaxManagers,
		tag:         o.Tag,
		upstream:    o.Upstream,
		layout:      layout,
	}
	if err := fancy.RegisterPool(o.Tag, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *GrowingPool) BlockSize() int   { return p.blockSize }
func (p *GrowingPool) BlockAlign() int  { return p.blockSize }
func (p *GrowingPool) MaxManagers() int { return p.maxManagers }
func (p *GrowingPool) Tag() fancy.Tag   { return p.tag }

// MaxBlockCount is the pool's hard capacity in blocks.
func (p *GrowingPool) MaxBlockCount() int {
	return p.layout.OffsetCount * p.layout.SegmentCount * p.maxManagers
}

func (p *GrowingPool) TotalSize() int {
	return p.MaxBlockCount() * p.blockSize
}

// ManagerCount is the number of managers created so far.
func (p *GrowingPool) ManagerCount() int {
	return p.managerCount
}

// AllocateBlock returns one block as a segmented pointer. The alloc-cache
// manager is tried first, then every other manager in list order, then a
// new manager is created.
func (p *GrowingPool) AllocateBlock() (fancy.Segmented[byte], error) {
	if cached := int(p.allocCache); cached < p.managerCount {
		mgr := p.getManagerByID(cached)
		if block, err := mgr.TryAllocate(p.upstream); err == nil {
			return p.encodePointer(cached, mgr, block)
		}
	}

	id := p.managerCount
	for node := p.head; node != nil; node = node.next {
		id--
		if id == int(p.allocCache) {
			continue
		}
		if block, err := node.manager.TryAllocate(p.upstream); err == nil {
			p.allocCache = uint8(id)
			return p.encodePointer(id, &node.manager, block)
		}
	}

	return p.allocateNewManager()
}

func (p *GrowingPool) allocateNewManager() (fancy.Segmented[byte], error) {
	if p.managerCount >= p.maxManagers {
		return fancy.NullSegmented[byte](p.tag),
			cerrors.Wrapf(memcore.ErrManagerLimit, "pool already has %d managers", p.maxManagers)
	}

	mgr, err := NewSegmentManager(p.blockSize, p.upstream.BlockSize())
	if err != nil {
		return fancy.NullSegmented[byte](p.tag), err
	}

	node := &managerNode{manager: *mgr}
	node.next = p.head
	p.head = node

	id := p.managerCount
	p.managerCount++
	p.allocCache = uint8(id)

	// The new manager is empty, so this reduces to allocate-new-segment
	// against upstream; upstream exhaustion surfaces here.
	block, err := node.manager.TryAllocate(p.upstream)
	if err != nil {
		return fancy.NullSegmented[byte](p.tag), err
	}
	return p.encodePointer(id, &node.manager, block)
}

func (p *GrowingPool) encodePointer(managerID int, mgr *SegmentManager, block unsafe.Pointer) (fancy.Segmented[byte], error) {
	segmentID, err := mgr.FindSegmentForPointer(block)
	if err != nil {
		return fancy.NullSegmented[byte](p.tag), err
	}
	base, err := mgr.GetSegmentBase(segmentID)
	if err != nil {
		return fancy.NullSegmented[byte](p.tag), err
	}
	if uintptr(block) < uintptr(base) {
		memcore.Fatalf("block %#x before segment base %#x", uintptr(block), uintptr(base))
	}
	offset := int(uintptr(block)-uintptr(base)) / p.blockSize
	return fancy.MakeSegmented[byte](p.tag, p.layout, managerID, segmentID, offset), nil
}

// DeallocateBlock returns a block to its manager. Null pointers, pointers
// from other pools, and out-of-range manager ids are recoverable failures.
func (p *GrowingPool) DeallocateBlock(ptr fancy.Segmented[byte]) error {
	if ptr.IsNull() {
		return cerrors.Wrap(memcore.ErrInvalidPointer, "cannot deallocate null pointer")
	}
	if ptr.Tag() != p.tag {
		return cerrors.Wrapf(memcore.ErrNotOwned, "pointer carries tag %d, pool is %d", ptr.Tag(), p.tag)
	}

	managerID, segmentID, offset := p.layout.Unpack(ptr.Bits())
	if managerID >= p.managerCount {
		return cerrors.Wrapf(memcore.ErrInvalidPointer, "invalid manager id %d", managerID)
	}

	mgr := p.getManagerByID(managerID)
	base, err := mgr.GetSegmentBase(segmentID)
	if err != nil {
		return err
	}
	block := unsafe.Add(base, offset*p.blockSize)
	return mgr.Deallocate(block, p.upstream)
}

// Reset resets every manager and clears the hint caches. Managers
// themselves are kept.
func (p *GrowingPool) Reset() error {
	for node := p.head; node != nil; node = node.next {
		if err := node.manager.Reset(p.upstream); err != nil {
			return err
		}
	}
	p.allocCache = 0
	p.lookupCache = 0
	return nil
}

// Size sums the free blocks across all managers.
func (p *GrowingPool) Size() int {
	total := 0
	for node := p.head; node != nil; node = node.next {
		total += node.manager.AvailableCount()
	}
	return total
}

// getManagerByID maps a logical id onto the chain. Asking for an id at or
// beyond the manager count is a contract violation.
func (p *GrowingPool) getManagerByID(id int) *SegmentManager {
	if id < 0 || id >= p.managerCount {
		memcore.Fatalf("manager id %d out of range (%d managers)", id, p.managerCount)
	}
	currentID := p.managerCount - 1
	for node := p.head; node != nil; node = node.next {
		if currentID == id {
			return &node.manager
		}
		currentID--
	}
	memcore.Fatalf("manager %d not found in chain", id)
	return nil
}

func (p *GrowingPool) managerByIDChecked(id int) (*SegmentManager, error) {
	if id < 0 || id >= p.managerCount {
		return nil, cerrors.Wrapf(memcore.ErrInvalidPointer, "invalid manager id %d", id)
	}
	return p.getManagerByID(id), nil
}

// FindManagerForPointer returns the id of the manager owning a raw pointer,
// consulting the two hint caches before scanning.
func (p *GrowingPool) FindManagerForPointer(raw unsafe.Pointer) (int, error) {
	cachedAlloc := int(p.allocCache)
	cachedLookup := int(p.lookupCache)

	if cachedAlloc < p.managerCount {
		if p.getManagerByID(cachedAlloc).Owns(raw) {
			p.lookupCache = uint8(cachedAlloc)
			return cachedAlloc, nil
		}
	}
	if cachedLookup < p.managerCount && cachedLookup != cachedAlloc {
		if p.getManagerByID(cachedLookup).Owns(raw) {
			return cachedLookup, nil
		}
	}

	id := p.managerCount
	for node := p.head; node != nil; node = node.next {
		id--
		if id == cachedAlloc || id == cachedLookup {
			continue
		}
		if node.manager.Owns(raw) {
			p.lookupCache = uint8(id)
			return id, nil
		}
	}
	return 0, cerrors.Wrap(memcore.ErrNotOwned, "pointer not owned")
}

// GetSegmentBase implements fancy.PoolResolver.
func (p *GrowingPool) GetSegmentBase(managerID, segmentID int) (unsafe.Pointer, error) {
	mgr, err := p.managerByIDChecked(managerID)
	if err != nil {
		return nil, err
	}
	return mgr.GetSegmentBase(segmentID)
}

// FindSegmentInManager implements fancy.PoolResolver.
func (p *GrowingPool) FindSegmentInManager(managerID int, raw unsafe.Pointer) (int, error) {
	mgr, err := p.managerByIDChecked(managerID)
	if err != nil {
		return 0, err
	}
	return mgr.FindSegmentForPointer(raw)
}

// ComputeOffsetInSegment implements fancy.PoolResolver.
func (p *GrowingPool) ComputeOffsetInSegment(managerID, segmentID int, raw unsafe.Pointer, elemSize int) (int, error) {
	mgr, err := p.managerByIDChecked(managerID)
	if err != nil {
		return 0, err
	}
	base, err := mgr.GetSegmentBase(segmentID)
	if err != nil {
		return 0, err
	}
	if uintptr(raw) < uintptr(base) {
		return 0, cerrors.Wrap(memcore.ErrInvalidPointer, "pointer before segment base")
	}
	byteOffset := int(uintptr(raw) - uintptr(base))
	if byteOffset%elemSize != 0 {
		return 0, cerrors.Wrap(memcore.ErrInvalidPointer, "misaligned pointer")
	}
	return byteOffset / elemSize, nil
}

// Layout implements fancy.PoolResolver.
func (p *GrowingPool) Layout() fancy.PointerLayout {
	return p.layout
}

// Owns reports whether any manager's segments contain raw.
func (p *GrowingPool) Owns(raw unsafe.Pointer) bool {
	for node := p.head; node != nil; node = node.next {
		if node.manager.Owns(raw) {
			return true
		}
	}
	return false
}

// Close unregisters the pool and releases every manager's segments
// upstream. Idempotent. The pool must not be used afterwards.
func (p *GrowingPool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	fancy.UnregisterPool(p.tag)
	for node := p.head; node != nil; node = node.next {
		if err := node.manager.Cleanup(p.upstream); err != nil {
			return err
		}
	}
	p.head = nil
	p.managerCount = 0
	p.allocCache = 0
	p.lookupCache = 0
	return nil
}

// Allocate serves the general-purpose facade for requests that fit a block.
func (p *GrowingPool) Allocate(size, alignment int) (unsafe.Pointer, error) {
	if size > p.blockSize || alignment > p.blockSize {
		return nil, cerrors.Wrapf(memcore.ErrOutOfMemory,
			"request of %d bytes exceeds block size %d", size, p.blockSize)
	}
	ptr, err := p.AllocateBlock()
	if err != nil {
		return nil, err
	}
	return ptr.Raw(), nil
}

// Deallocate is the facade counterpart of Allocate. A nil pointer is a
// no-op.
func (p *GrowingPool) Deallocate(raw unsafe.Pointer, size, alignment int) error {
	if raw == nil {
		return nil
	}
	return p.DeallocateBlock(fancy.SegmentedFromRaw[byte](p.tag, raw))
}

// Validate performs internal consistency checks across the manager chain.
func (p *GrowingPool) Validate() error {
	seen := 0
	for node := p.head; node != nil; node = node.next {
		if err := node.manager.Validate(); err != nil {
			return cerrors.Wrapf(err, "manager %d", p.managerCount-1-seen)
		}
		seen++
	}
	if seen != p.managerCount {
		return cerrors.Newf("manager chain has %d nodes, count says %d", seen, p.managerCount)
	}
	return nil
}

func (p *GrowingPool) AddStatistics(stats *memcore.Statistics) {
	for node := p.head; node != nil; node = node.next {
		mgr := &node.manager
		segments := mgr.SegmentCount()
		allocated := segments*mgr.BlocksPerSegment() - mgr.AvailableCount()
		stats.BlockCount += segments
		stats.AllocationCount += allocated
		stats.BlockBytes += segments * p.upstream.BlockSize()
		stats.AllocationBytes += allocated * p.blockSize
	}
}

func (p *GrowingPool) AddDetailedStatistics(stats *memcore.DetailedStatistics) {
	p.AddStatistics(&stats.Statistics)
	for node := p.head; node != nil; node = node.next {
		stats.FreeBlockCount += node.manager.AvailableCount()
		stats.SegmentCount += node.manager.SegmentCount()
		stats.ManagerCount++
	}
}

// PoolJsonData populates a json object with information about this pool
func (p *GrowingPool) PoolJsonData(json jwriter.ObjectState) {
	json.Name("BlockSize").Int(p.blockSize)
	json.Name("MaxManagers").Int(p.maxManagers)
	json.Name("ManagerCount").Int(p.managerCount)
	json.Name("FreeBlocks").Int(p.Size())

	managers := json.Name("Managers").Array()
	id := p.managerCount
	for node := p.head; node != nil; node = node.next {
		id--
		obj := managers.Object()
		obj.Name("Id").Int(id)
		obj.Name("Segments").Int(node.manager.SegmentCount())
		obj.Name("HighWaterMark").Int(node.manager.HighWaterMark())
		obj.Name("FreeBlocks").Int(node.manager.AvailableCount())
		obj.End()
	}
	managers.End()
}

// BuildStatsString renders the pool's state as a JSON document.
func (p *GrowingPool) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	p.PoolJsonData(obj)
	obj.End()
	return string(writer.Bytes())
}

// DebugLogAllocations walks every manager and segment, logging occupancy
// through the provided logger. Diagnostic use only.
func (p *GrowingPool) DebugLogAllocations(logger *slog.Logger) {
	id := p.managerCount
	for node := p.head; node != nil; node = node.next {
		id--
		mgr := &node.manager
		logger.Debug("manager",
			slog.Int("id", id),
			slog.Int("segments", mgr.SegmentCount()),
			slog.Int("freeBlocks", mgr.AvailableCount()),
			slog.Int("highWaterMark", mgr.HighWaterMark()),
		)
	}
}
