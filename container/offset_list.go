package container

import (
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

// listNode is the in-block layout of one list element: the packed segmented
// pointer to the next node, then the value. The link lives inside the block
// itself, so the list is intrusive on pool memory and holds no Go pointers.
type listNode[T any] struct {
	next  uint64
	value T
}

// OffsetList is a singly-linked list whose nodes live in growing-pool
// blocks and whose links are packed segmented pointers. The list never owns
// the pool.
//
// T must not contain Go pointers: node memory is slab memory the garbage
// collector does not scan.
type OffsetList[T any] struct {
	pool *allocator.GrowingPool
	head uint64
	size int
}

// NewOffsetList verifies that T may live in slab memory and that a node
// fits one pool block.
func NewOffsetList[T any](pool *allocator.GrowingPool) (*OffsetList[T], error) {
	if pool == nil {
		memcore.Fatalf("allocator cannot be nil")
	}
	if err := memcore.CheckNoGoPointers(reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return nil, err
	}
	nodeSize := int(unsafe.Sizeof(listNode[T]{}))
	if nodeSize > pool.BlockSize() {
		return nil, cerrors.Newf("node size %d exceeds pool block size %d", nodeSize, pool.BlockSize())
	}
	return &OffsetList[T]{pool: pool, head: fancy.NullBits}, nil
}

func (l *OffsetList[T]) nodeAt(bits uint64) *listNode[T] {
	ptr := fancy.SegmentedFromBits[byte](l.pool.Tag(), bits)
	return (*listNode[T])(ptr.Raw())
}

func (l *OffsetList[T]) IsEmpty() bool {
	return l.head == fancy.NullBits
}

func (l *OffsetList[T]) Len() int {
	return l.size
}

// PushFront allocates a node from the pool and links it at the head.
func (l *OffsetList[T]) PushFront(value T) error {
	block, err := l.pool.AllocateBlock()
	if err != nil {
		return err
	}
	node := (*listNode[T])(block.Raw())
	node.next = l.head
	node.value = value
	l.head = block.Bits()
	l.size++
	return nil
}

// PopFront unlinks the head node, returns its value, and frees the block.
func (l *OffsetList[T]) PopFront() (T, error) {
	var zero T
	if l.IsEmpty() {
		return zero, cerrors.Wrap(memcore.ErrListEmpty, "list empty")
	}
	old := l.head
	node := l.nodeAt(old)
	value := node.value
	l.head = node.next
	l.size--
	if err := l.pool.DeallocateBlock(fancy.SegmentedFromBits[byte](l.pool.Tag(), old)); err != nil {
		return value, err
	}
	return value, nil
}

// PopBack unlinks the tail node. O(n): the list must be walked to find the
// node before the tail.
func (l *OffsetList[T]) PopBack() (T, error) {
	var zero T
	if l.IsEmpty() {
		return zero, cerrors.Wrap(memcore.ErrListEmpty, "list empty")
	}

	var prev *listNode[T]
	cur := l.head
	for {
		node := l.nodeAt(cur)
		if node.next == fancy.NullBits {
			value := node.value
			if prev != nil {
				prev.next = fancy.NullBits
			} else {
				l.head = fancy.NullBits
			}
			l.size--
			if err := l.pool.DeallocateBlock(fancy.SegmentedFromBits[byte](l.pool.Tag(), cur)); err != nil {
				return value, err
			}
			return value, nil
		}
		prev = node
		cur = node.next
	}
}

// EraseBack removes the tail node without returning its value. O(n).
func (l *OffsetList[T]) EraseBack() error {
	_, err := l.PopBack()
	return err
}

// Front returns a pointer to the head value, living in pool memory.
func (l *OffsetList[T]) Front() (*T, error) {
	if l.IsEmpty() {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "list empty")
	}
	return &l.nodeAt(l.head).value, nil
}

// Back returns a pointer to the tail value. O(n).
func (l *OffsetList[T]) Back() (*T, error) {
	if l.IsEmpty() {
		return nil, cerrors.Wrap(memcore.ErrListEmpty, "list empty")
	}
	cur := l.head
	for {
		node := l.nodeAt(cur)
		if node.next == fancy.NullBits {
			return &node.value, nil
		}
		cur = node.next
	}
}

// Each calls fn for every value from head to tail, stopping early when fn
// returns false.
func (l *OffsetList[T]) Each(fn func(*T) bool) {
	for cur := l.head; cur != fancy.NullBits; {
		node := l.nodeAt(cur)
		next := node.next
		if !fn(&node.value) {
			return
		}
		cur = next
	}
}

// Clear frees every node. O(n).
func (l *OffsetList[T]) Clear() error {
	for !l.IsEmpty() {
		if _, err := l.PopFront(); err != nil {
			return err
		}
	}
	return nil
}
