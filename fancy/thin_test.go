package fancy_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/adamsitar/sequential-fifo-queue/fancy"
	"github.com/adamsitar/sequential-fifo-queue/memcore"
)

func registerSlab(t *testing.T, tag fancy.Tag, size int) []byte {
	t.Helper()
	slab := make([]byte, size)
	require.NoError(t, fancy.RegisterBase(tag, unsafe.Pointer(&slab[0]), size))
	t.Cleanup(func() {
		fancy.UnregisterBase(tag)
	})
	return slab
}

func TestThinNull(t *testing.T) {
	p := fancy.NullThin[uint32](100)
	require.True(t, p.IsNull())
	require.Equal(t, fancy.NullOffset, p.Offset())
	require.Nil(t, p.Raw())

	require.Panics(t, func() {
		_ = p.Deref()
	})
	require.Panics(t, func() {
		_ = p.Add(1)
	})
}

func TestThinRoundTrip(t *testing.T) {
	slab := registerSlab(t, 101, 256)

	raw := unsafe.Pointer(&slab[64])
	p := fancy.ThinFromRaw[byte](101, raw)
	require.False(t, p.IsNull())
	require.Equal(t, uint16(64), p.Offset())
	require.Equal(t, raw, p.Raw())
	require.Equal(t, raw, unsafe.Pointer(p.Deref()))

	require.True(t, fancy.ThinFromRaw[byte](101, nil).IsNull())
}

func TestThinFromRawBeforeBaseFatal(t *testing.T) {
	slab := registerSlab(t, 102, 256)

	outside := make([]byte, 16)
	// A pointer below the registered base is a contract violation unless it
	// happens to sit above it in memory; pick whichever side is below.
	var below unsafe.Pointer
	if uintptr(unsafe.Pointer(&outside[0])) < uintptr(unsafe.Pointer(&slab[0])) {
		below = unsafe.Pointer(&outside[0])
	} else {
		t.Skip("foreign allocation landed above the slab")
	}
	require.Panics(t, func() {
		fancy.ThinFromRaw[byte](102, below)
	})
}

func TestThinUnregisteredFatal(t *testing.T) {
	p := fancy.ThinFromOffset[byte](103, 8)
	require.Panics(t, func() {
		_ = p.Deref()
	})
}

func TestThinArithmetic(t *testing.T) {
	registerSlab(t, 104, 256)

	p := fancy.ThinFromOffset[uint32](104, 16)
	q := p.Add(4)
	require.Equal(t, uint16(32), q.Offset())
	require.True(t, q.Sub(4).Equal(p))

	require.Panics(t, func() {
		_ = p.Sub(5)
	})
	require.Panics(t, func() {
		_ = p.Add(1 << 14)
	})
}

func TestThinOrdering(t *testing.T) {
	a := fancy.ThinFromOffset[byte](105, 8)
	b := fancy.ThinFromOffset[byte](105, 64)
	null := fancy.NullThin[byte](105)

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.Equal(t, 0, a.Compare(a))

	// The sentinel is the maximum offset, so null sorts after everything.
	require.True(t, a.Less(null))
	require.True(t, b.Less(null))
}

func TestThinRebind(t *testing.T) {
	slab := registerSlab(t, 106, 256)

	p := fancy.ThinFromOffset[byte](106, 32)
	q := fancy.RebindThin[uint64](p)
	require.Equal(t, p.Offset(), q.Offset())
	require.Equal(t, p.Tag(), q.Tag())
	require.Equal(t, unsafe.Pointer(&slab[32]), q.Raw())
}

func TestRegisterBaseDuplicate(t *testing.T) {
	registerSlab(t, 107, 64)

	other := make([]byte, 64)
	err := fancy.RegisterBase(107, unsafe.Pointer(&other[0]), 64)
	require.ErrorIs(t, err, memcore.ErrAlreadyRegistered)

	require.Panics(t, func() {
		_ = fancy.RegisterBase(108, nil, 64)
	})
}
