// Package bytequeue exposes a handle-based byte FIFO over a fixed
// allocator stack, mirroring a C-style interface: opaque handles, explicit
// create/destroy, and weak failure hooks instead of error returns. The
// backing allocators are package-level singletons created on first use;
// every queue shares them.
package bytequeue

import (
	"github.com/dolthub/swiss"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/container"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

const (
	slabBlockSize  = 256
	slabBlockCount = 64
	poolBlockSize  = 64
	poolManagers   = 8
	ringCapacity   = 16

	slabTag fancy.Tag = 0xFA
	poolTag fancy.Tag = 0xFB
)

// OnOutOfMemory is invoked when a queue or an element cannot be allocated.
// The default aborts; tests and embedders may replace it.
var OnOutOfMemory = func() {
	memcore.Fatalf("byte queue out of memory")
}

// OnIllegalOperation is invoked when enqueuing to, dequeuing from, or
// destroying a nil or destroyed handle, and when dequeuing from an empty
// queue. The default aborts; tests and embedders may replace it.
var OnIllegalOperation = func() {
	memcore.Fatalf("illegal operation on byte queue")
}

// Q is the opaque queue handle.
type Q struct {
	impl *container.Queue[byte]
}

var (
	slab        *allocator.LocalBuffer
	pool        *allocator.GrowingPool
	liveHandles *swiss.Map[*Q, struct{}]
	initialized bool
)

func ensureInit() bool {
	if initialized {
		return true
	}
	var err error
	slab, err = allocator.NewLocalBuffer(allocator.LocalBufferOptions{
		BlockSize:  slabBlockSize,
		BlockCount: slabBlockCount,
		Tag:        slabTag,
	})
	if err != nil {
		return false
	}
	pool, err = allocator.NewGrowingPool(allocator.GrowingPoolOptions{
		BlockSize:   poolBlockSize,
		MaxManagers: poolManagers,
		Tag:         poolTag,
		Upstream:    slab,
	})
	if err != nil {
		_ = slab.Close()
		slab = nil
		return false
	}
	liveHandles = swiss.NewMap[*Q, struct{}](16)
	initialized = true
	return true
}

func isLive(q *Q) bool {
	if q == nil || !initialized {
		return false
	}
	_, ok := liveHandles.Get(q)
	return ok
}

// CreateQueue returns a new empty queue, or nil after invoking
// OnOutOfMemory when the backing store cannot supply one.
func CreateQueue() *Q {
	if !ensureInit() {
		OnOutOfMemory()
		return nil
	}
	impl, err := container.NewQueue[byte](slab, pool, ringCapacity)
	if err != nil {
		OnOutOfMemory()
		return nil
	}
	q := &Q{impl: impl}
	liveHandles.Put(q, struct{}{})
	return q
}

// DestroyQueue releases everything the queue holds. Destroying a nil or
// already-destroyed handle is an illegal operation.
func DestroyQueue(q *Q) {
	if !isLive(q) {
		OnIllegalOperation()
		return
	}
	_ = q.impl.Close()
	liveHandles.Delete(q)
}

// EnqueueByte appends b to the queue, invoking OnOutOfMemory when the
// backing store is exhausted.
func EnqueueByte(q *Q, b byte) {
	if !isLive(q) {
		OnIllegalOperation()
		return
	}
	if err := q.impl.Push(b); err != nil {
		OnOutOfMemory()
	}
}

// DequeueByte removes and returns the oldest byte. Dequeuing from an empty
// or invalid queue is an illegal operation and returns zero.
func DequeueByte(q *Q) byte {
	if !isLive(q) {
		OnIllegalOperation()
		return 0
	}
	value, err := q.impl.Pop()
	if err != nil {
		OnIllegalOperation()
		return 0
	}
	return value
}

// QueueIsEmpty reports whether the queue holds no bytes. A nil or destroyed
// handle reads as empty.
func QueueIsEmpty(q *Q) bool {
	if !isLive(q) {
		return true
	}
	return q.impl.IsEmpty()
}

// QueueSize returns the number of bytes held. A nil or destroyed handle
// reads as zero.
func QueueSize(q *Q) int {
	if !isLive(q) {
		return 0
	}
	return q.impl.Len()
}

// QueueClear drops every byte without destroying the queue. No-op on nil or
// destroyed handles.
func QueueClear(q *Q) {
	if isLive(q) {
		_ = q.impl.Clear()
	}
}
