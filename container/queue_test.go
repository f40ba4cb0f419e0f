package container_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/container"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

func newQueueAllocators(t *testing.T, ringTag, upstreamTag, poolTag fancy.Tag) (*allocator.LocalBuffer, *allocator.GrowingPool) {
	t.Helper()
	rings := newRingAlloc(t, 64, 32, ringTag)
	_, pool := newNodePool(t, upstreamTag, poolTag)
	return rings, pool
}

func TestQueueFIFOAcrossRings(t *testing.T) {
	rings, pool := newQueueAllocators(t, 84, 85, 86)

	q, err := container.NewQueue[byte](rings, pool, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, q.Close())
	}()

	// Ten elements with four per ring span three rings.
	for i := byte(0); i < 10; i++ {
		require.NoError(t, q.Push(i))
	}
	require.Equal(t, 10, q.Len())
	require.Equal(t, 29, rings.Size())

	for i := byte(0); i < 10; i++ {
		v, err := q.Pop()
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.True(t, q.IsEmpty())
	require.Equal(t, 32, rings.Size())

	_, err = q.Pop()
	require.ErrorIs(t, err, memcore.ErrListEmpty)
}

func TestQueueFrontBack(t *testing.T) {
	rings, pool := newQueueAllocators(t, 87, 88, 89)

	q, err := container.NewQueue[uint16](rings, pool, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, q.Close())
	}()

	for i := uint16(1); i <= 6; i++ {
		require.NoError(t, q.Push(i))
	}

	front, err := q.Front()
	require.NoError(t, err)
	require.Equal(t, uint16(1), *front)

	back, err := q.Back()
	require.NoError(t, err)
	require.Equal(t, uint16(6), *back)
}

func TestQueueInterleaved(t *testing.T) {
	rings, pool := newQueueAllocators(t, 90, 91, 92)

	q, err := container.NewQueue[byte](rings, pool, 2)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, q.Close())
	}()

	next := byte(0)
	expect := byte(0)
	for round := 0; round < 10; round++ {
		require.NoError(t, q.Push(next))
		next++
		require.NoError(t, q.Push(next))
		next++
		v, err := q.Pop()
		require.NoError(t, err)
		require.Equal(t, expect, v)
		expect++
	}
	for !q.IsEmpty() {
		v, err := q.Pop()
		require.NoError(t, err)
		require.Equal(t, expect, v)
		expect++
	}
	require.Equal(t, next, expect)
}

func TestQueueClearReleasesEverything(t *testing.T) {
	rings, pool := newQueueAllocators(t, 93, 94, 95)

	q, err := container.NewQueue[byte](rings, pool, 4)
	require.NoError(t, err)

	for i := byte(0); i < 20; i++ {
		require.NoError(t, q.Push(i))
	}
	require.NoError(t, q.Clear())
	require.True(t, q.IsEmpty())
	require.Equal(t, 32, rings.Size())
	require.Equal(t, 0, pool.Size())

	// The queue is usable again after a clear.
	require.NoError(t, q.Push(42))
	v, err := q.Pop()
	require.NoError(t, err)
	require.Equal(t, byte(42), v)
	require.NoError(t, q.Close())
}

func TestQueueTwoQueuesShareAllocators(t *testing.T) {
	rings, pool := newQueueAllocators(t, 96, 97, 98)

	q0, err := container.NewQueue[byte](rings, pool, 4)
	require.NoError(t, err)
	q1, err := container.NewQueue[byte](rings, pool, 4)
	require.NoError(t, err)

	require.NoError(t, q0.Push(1))
	require.NoError(t, q1.Push(2))
	require.NoError(t, q0.Push(3))

	v, err := q0.Pop()
	require.NoError(t, err)
	require.Equal(t, byte(1), v)
	v, err = q1.Pop()
	require.NoError(t, err)
	require.Equal(t, byte(2), v)
	v, err = q0.Pop()
	require.NoError(t, err)
	require.Equal(t, byte(3), v)

	require.NoError(t, q0.Close())
	require.NoError(t, q1.Close())
	require.Equal(t, 32, rings.Size())
}
