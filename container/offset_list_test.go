package container_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adamsitar/sequential-fifo-queue/allocator"
	"github.com/adamsitar/sequential-fifo-queue/container"
	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

func newNodePool(t *testing.T, upstreamTag, poolTag fancy.Tag) (*allocator.LocalBuffer, *allocator.GrowingPool) {
	t.Helper()
	upstream, err := allocator.NewLocalBuffer(allocator.LocalBufferOptions{
		BlockSize:  512,
		BlockCount: 16,
		Tag:        upstreamTag,
	})
	require.NoError(t, err)
	pool, err := allocator.NewGrowingPool(allocator.GrowingPoolOptions{
		BlockSize:   64,
		MaxManagers: 4,
		Tag:         poolTag,
		Upstream:    upstream,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pool.Close())
		require.NoError(t, upstream.Close())
	})
	return upstream, pool
}

func TestOffsetListPushPopFront(t *testing.T) {
	_, pool := newNodePool(t, 74, 75)

	list, err := container.NewOffsetList[uint64](pool)
	require.NoError(t, err)
	require.True(t, list.IsEmpty())

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, list.PushFront(i))
	}
	require.Equal(t, 3, list.Len())

	for want := uint64(3); want >= 1; want-- {
		v, err := list.PopFront()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	require.True(t, list.IsEmpty())

	_, err = list.PopFront()
	require.ErrorIs(t, err, memcore.ErrListEmpty)
}

func TestOffsetListBackOperations(t *testing.T) {
	_, pool := newNodePool(t, 76, 77)

	list, err := container.NewOffsetList[uint64](pool)
	require.NoError(t, err)

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, list.PushFront(i))
	}

	// The tail is the first value pushed.
	back, err := list.Back()
	require.NoError(t, err)
	require.Equal(t, uint64(1), *back)

	v, err := list.PopBack()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	require.NoError(t, list.EraseBack())
	require.Equal(t, 2, list.Len())

	front, err := list.Front()
	require.NoError(t, err)
	require.Equal(t, uint64(4), *front)
}

func TestOffsetListClearRestoresPool(t *testing.T) {
	upstream, pool := newNodePool(t, 78, 79)

	list, err := container.NewOffsetList[uint64](pool)
	require.NoError(t, err)

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, list.PushFront(i))
	}
	require.NoError(t, list.Clear())
	require.True(t, list.IsEmpty())
	require.Equal(t, 0, pool.Size())
	require.Equal(t, 16, upstream.Size())
}

func TestOffsetListEach(t *testing.T) {
	_, pool := newNodePool(t, 80, 81)

	list, err := container.NewOffsetList[uint32](pool)
	require.NoError(t, err)

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, list.PushFront(i))
	}

	var got []uint32
	list.Each(func(v *uint32) bool {
		got = append(got, *v)
		return true
	})
	require.Equal(t, []uint32{5, 4, 3, 2, 1}, got)

	// Early stop.
	count := 0
	list.Each(func(v *uint32) bool {
		count++
		return count < 2
	})
	require.Equal(t, 2, count)
}

func TestOffsetListRejectsPointeredTypes(t *testing.T) {
	_, pool := newNodePool(t, 82, 83)

	type bad struct {
		P *int
	}
	_, err := container.NewOffsetList[bad](pool)
	require.Error(t, err)
}
