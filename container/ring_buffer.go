package container

import (
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// RingBuffer is a fixed-capacity circular buffer whose element storage is
// exactly one local-buffer block. The counters live in the Go-side struct;
// only the elements live in slab memory, so T must not contain Go pointers.
type RingBuffer[T any] struct {
	alloc    *allocator.LocalBuffer
	storage  fancy.Thin[byte]
	head     int
	tail     int
	free     int
	capacity int
	closed   bool
}

// NewRingBuffer allocates one block from alloc to hold capacity elements.
func NewRingBuffer[T any](alloc *allocator.LocalBuffer, capacity int) (*RingBuffer[T], error) {
	if alloc == nil {
		memcore.Fatalf("allocator cannot be nil")
	}
	if capacity <= 0 {
		return nil, cerrors.Newf("ring buffer capacity must be positive, got %d", capacity)
	}
	if err := memcore.CheckNoGoPointers(reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return nil, err
	}
	var zero T
	if need := capacity * int(unsafe.Sizeof(zero)); need > alloc.BlockSize() {
		return nil, cerrors.Newf(
			"ring storage of %d bytes exceeds block size %d", need, alloc.BlockSize())
	}

	storage, err := alloc.AllocateBlock()
	if err != nil {
		return nil, err
	}
	return &RingBuffer[T]{
		alloc:    alloc,
		storage:  storage,
		free:     capacity,
		capacity: capacity,
	}, nil
}

func (r *RingBuffer[T]) slot(index int) *T {
	var zero T
	return (*T)(unsafe.Add(r.storage.Raw(), index*int(unsafe.Sizeof(zero))))
}

// Push appends value at the tail.
func (r *RingBuffer[T]) Push(value T) error {
	if r.IsFull() {
		return cerrors.Wrap(memcore.ErrListFull, "ring buffer full")
	}
	*r.slot(r.tail) = value
	r.tail = (r.tail + 1) % r.capacity
	r.free--
	return nil
}

// Pop removes and returns the oldest element.
func (r *RingBuffer[T]) Pop() (T, error) {
	var zero T
	if r.IsEmpty() {
		return zero, cerrors.Wrap(memcore.ErrListEmpty, "ring buffer empty")
	}
	value := *r.slot(r.head)
	r.head = (r.head + 1) % r.capacity
	r.free++
	return value, nil
}

// Front returns the oldest element without removing it.
func (r *RingBuffer[T]) Front() (*T, error) {
	if r.IsEmpty() {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "ring buffer empty")
	}
	return r.slot(r.head), nil
}

// Back returns the newest element without removing it.
func (r *RingBuffer[T]) Back() (*T, error) {
	if r.IsEmpty() {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "ring buffer empty")
	}
	back := r.tail - 1
	if back < 0 {
		back = r.capacity - 1
	}
	return r.slot(back), nil
}

// At returns the element at logical index, 0 being the oldest.
func (r *RingBuffer[T]) At(index int) (*T, error) {
	if index < 0 || index >= r.Len() {
		return nil, cerrors.Newf("index %d out of range (%d elements)", index, r.Len())
	}
	return r.slot((r.head + index) % r.capacity), nil
}

func (r *RingBuffer[T]) IsFull() bool  { return r.free == 0 }
func (r *RingBuffer[T]) IsEmpty() bool { return r.free == r.capacity }
func (r *RingBuffer[T]) Len() int      { return r.capacity - r.free }
func (r *RingBuffer[T]) Cap() int      { return r.capacity }

// Clear drops every element without touching the storage block.
func (r *RingBuffer[T]) Clear() {
	r.head = 0
	r.tail = 0
	r.free = r.capacity
}

// Close returns the storage block to the allocator. Idempotent.
func (r *RingBuffer[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.alloc.DeallocateBlock(r.storage)
}
