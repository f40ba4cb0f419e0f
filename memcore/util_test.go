package memcore_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memcore.CheckPow2(1, "n"))
	require.NoError(t, memcore.CheckPow2(64, "n"))
	require.ErrorIs(t, memcore.CheckPow2(0, "n"), memcore.PowerOfTwoError)
	require.ErrorIs(t, memcore.CheckPow2(12, "n"), memcore.PowerOfTwoError)
}

func TestAlign(t *testing.T) {
	require.Equal(t, 16, memcore.AlignUp(9, 8))
	require.Equal(t, 8, memcore.AlignUp(8, 8))
	require.Equal(t, 8, memcore.AlignDown(9, 8))
	require.Equal(t, 0, memcore.AlignDown(7, 8))
}

func TestBitWidth(t *testing.T) {
	require.Equal(t, 1, memcore.BitWidth(1))
	require.Equal(t, 1, memcore.BitWidth(2))
	require.Equal(t, 2, memcore.BitWidth(3))
	require.Equal(t, 3, memcore.BitWidth(8))
	require.Equal(t, 4, memcore.BitWidth(9))
}

func TestIndexWidth(t *testing.T) {
	require.Equal(t, 1, memcore.IndexWidth(1))
	require.Equal(t, 1, memcore.IndexWidth(255))
	require.Equal(t, 2, memcore.IndexWidth(256))
	require.Equal(t, 2, memcore.IndexWidth(65535))
}

func TestCheckNoGoPointers(t *testing.T) {
	type flat struct {
		A uint16
		B [4]byte
	}
	type nested struct {
		F flat
		G float64
	}
	type pointered struct {
		P *int
	}

	require.NoError(t, memcore.CheckNoGoPointers(reflect.TypeOf(flat{})))
	require.NoError(t, memcore.CheckNoGoPointers(reflect.TypeOf(nested{})))
	require.Error(t, memcore.CheckNoGoPointers(reflect.TypeOf(pointered{})))
	require.Error(t, memcore.CheckNoGoPointers(reflect.TypeOf("")))
	require.Error(t, memcore.CheckNoGoPointers(reflect.TypeOf([]byte(nil))))
}

func TestFatalfPanics(t *testing.T) {
	require.PanicsWithError(t, "boom 7", func() {
		memcore.Fatalf("boom %d", 7)
	})
}
