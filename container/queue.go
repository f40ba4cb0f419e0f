package container

import (
	"math"
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// ringState is the in-block record of one FIFO segment: the thin offset of
// its element storage plus the circular counters. It is pointer-free so it
// can live inside a list node in pool memory; the element storage itself is
// a separate local-buffer block addressed by storeOff.
type ringState struct {
	storeOff uint16
	head     uint16
	tail     uint16
	free     uint16
}

// Queue is a FIFO implemented as a linked list of fixed-capacity ring
// buffers. It consumes two distinct allocators: a local buffer for the ring
// storage blocks and a growing pool for the list nodes. New rings are
// created at the front as elements arrive; drained rings at the back are
// released immediately.
//
// The queue never owns its allocators.
type Queue[T any] struct {
	ringAlloc *allocator.LocalBuffer
	list      *OffsetList[ringState]
	capacity  int
	elemSize  int
}

// NewQueue builds an empty queue whose rings hold capacity elements each.
func NewQueue[T any](ringAlloc *allocator.LocalBuffer, nodePool *allocator.GrowingPool, capacity int) (*Queue[T], error) {
	if ringAlloc == nil || nodePool == nil {
		memcore.Fatalf("allocator cannot be nil")
	}
	if capacity <= 0 || capacity >= math.MaxUint16 {
		return nil, cerrors.Newf("ring capacity %d out of range", capacity)
	}
	if err := memcore.CheckNoGoPointers(reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return nil, err
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if need := capacity * elemSize; need > ringAlloc.BlockSize() {
		return nil, cerrors.Newf(
			"ring storage of %d bytes exceeds block size %d", need, ringAlloc.BlockSize())
	}

	list, err := NewOffsetList[ringState](nodePool)
	if err != nil {
		return nil, err
	}
	return &Queue[T]{
		ringAlloc: ringAlloc,
		list:      list,
		capacity:  capacity,
		elemSize:  elemSize,
	}, nil
}

func (q *Queue[T]) slot(ring *ringState, index int) *T {
	storage := fancy.ThinFromOffset[byte](q.ringAlloc.Tag(), ring.storeOff)
	return (*T)(unsafe.Add(storage.Raw(), index*q.elemSize))
}

func (q *Queue[T]) growFront() error {
	block, err := q.ringAlloc.AllocateBlock()
	if err != nil {
		return err
	}
	state := ringState{
		storeOff: block.Offset(),
		free:     uint16(q.capacity),
	}
	if err := q.list.PushFront(state); err != nil {
		_ = q.ringAlloc.DeallocateBlock(block)
		return err
	}
	return nil
}

// Push appends value, opening a new front ring when the current one is full
// or the queue is empty.
func (q *Queue[T]) Push(value T) error {
	front, err := q.list.Front()
	if err != nil || front.free == 0 {
		if err := q.growFront(); err != nil {
			return err
		}
		front, _ = q.list.Front()
	}

	*q.slot(front, int(front.tail)) = value
	front.tail = uint16((int(front.tail) + 1) % q.capacity)
	front.free--
	return nil
}

// Pop removes and returns the oldest element, releasing the back ring when
// it drains.
func (q *Queue[T]) Pop() (T, error) {
	var zero T
	if q.list.IsEmpty() {
		return zero, cerrors.Wrap(memcore.ErrListEmpty, "cannot pop from empty queue")
	}

	back, err := q.list.Back()
	if err != nil {
		return zero, err
	}
	value := *q.slot(back, int(back.head))
	back.head = uint16((int(back.head) + 1) % q.capacity)
	back.free++

	if int(back.free) == q.capacity {
		storeOff := back.storeOff
		if err := q.list.EraseBack(); err != nil {
			return value, err
		}
		storage := fancy.ThinFromOffset[byte](q.ringAlloc.Tag(), storeOff)
		if err := q.ringAlloc.DeallocateBlock(storage); err != nil {
			return value, err
		}
	}
	return value, nil
}

// Front returns the oldest element without removing it.
func (q *Queue[T]) Front() (*T, error) {
	back, err := q.list.Back()
	if err != nil {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "front of empty queue")
	}
	return q.slot(back, int(back.head)), nil
}

// Back returns the newest element without removing it.
func (q *Queue[T]) Back() (*T, error) {
	front, err := q.list.Front()
	if err != nil {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "back of empty queue")
	}
	last := int(front.tail) - 1
	if last < 0 {
		last = q.capacity - 1
	}
	return q.slot(front, last), nil
}

func (q *Queue[T]) IsEmpty() bool {
	return q.list.IsEmpty()
}

// Len sums the occupancy of every ring. O(n) in the number of rings.
func (q *Queue[T]) Len() int {
	total := 0
	q.list.Each(func(ring *ringState) bool {
		total += q.capacity - int(ring.free)
		return true
	})
	return total
}

// Clear releases every ring storage block and every list node.
func (q *Queue[T]) Clear() error {
	var offsets []uint16
	q.list.Each(func(ring *ringState) bool {
		offsets = append(offsets, ring.storeOff)
		return true
	})
	if err := q.list.Clear(); err != nil {
		return err
	}
	for _, off := range offsets {
		storage := fancy.ThinFromOffset[byte](q.ringAlloc.Tag(), off)
		if err := q.ringAlloc.DeallocateBlock(storage); err != nil {
			return err
		}
	}
	return nil
}

// Close releases everything the queue holds. The allocators stay with their
// owner.
func (q *Queue[T]) Close() error {
	return q.Clear()
}
