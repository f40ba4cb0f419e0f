package container_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/container"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

func newRingAlloc(t *testing.T, blockSize, blockCount int, tag fancy.Tag) *allocator.LocalBuffer {
	t.Helper()
	buf, err := allocator.NewLocalBuffer(allocator.LocalBufferOptions{
		BlockSize:  blockSize,
		BlockCount: blockCount,
		Tag:        tag,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, buf.Close())
	})
	return buf
}

func TestRingBufferPushPop(t *testing.T) {
	alloc := newRingAlloc(t, 64, 8, 70)

	ring, err := container.NewRingBuffer[uint32](alloc, 8)
	require.NoError(t, err)
	require.Equal(t, 7, alloc.Size())

	for i := uint32(0); i < 8; i++ {
		require.NoError(t, ring.Push(i))
	}
	require.True(t, ring.IsFull())
	require.ErrorIs(t, ring.Push(99), memcore.ErrListFull)

	for i := uint32(0); i < 8; i++ {
		v, err := ring.Pop()
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.True(t, ring.IsEmpty())
	_, err = ring.Pop()
	require.ErrorIs(t, err, memcore.ErrListEmpty)

	require.NoError(t, ring.Close())
	require.Equal(t, 8, alloc.Size())
	require.NoError(t, ring.Close())
}

func TestRingBufferWrapAround(t *testing.T) {
	alloc := newRingAlloc(t, 64, 8, 71)

	ring, err := container.NewRingBuffer[uint16](alloc, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, ring.Close())
	}()

	// Interleave pushes and pops so the indices wrap several times.
	next := uint16(0)
	expect := uint16(0)
	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, ring.Push(next))
			next++
		}
		for i := 0; i < 3; i++ {
			v, err := ring.Pop()
			require.NoError(t, err)
			require.Equal(t, expect, v)
			expect++
		}
	}
}

func TestRingBufferAccessors(t *testing.T) {
	alloc := newRingAlloc(t, 64, 8, 72)

	ring, err := container.NewRingBuffer[byte](alloc, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, ring.Close())
	}()

	require.NoError(t, ring.Push(10))
	require.NoError(t, ring.Push(20))
	require.NoError(t, ring.Push(30))

	front, err := ring.Front()
	require.NoError(t, err)
	require.Equal(t, byte(10), *front)

	back, err := ring.Back()
	require.NoError(t, err)
	require.Equal(t, byte(30), *back)

	mid, err := ring.At(1)
	require.NoError(t, err)
	require.Equal(t, byte(20), *mid)

	_, err = ring.At(3)
	require.Error(t, err)

	require.Equal(t, 3, ring.Len())
	ring.Clear()
	require.True(t, ring.IsEmpty())
}

func TestRingBufferTooLarge(t *testing.T) {
	alloc := newRingAlloc(t, 64, 8, 73)

	_, err := container.NewRingBuffer[uint64](alloc, 16)
	require.Error(t, err)
}
