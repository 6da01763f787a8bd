package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newtest(t *testing.T) *Heap_t {
	t.Helper()
	return New(1<<20, 0xd0000000)
}

// An alloc(n) then immediate free leaves the heap byte-identical to
// before the pair, modulo allocation metadata counters (here: the
// hole-count index, which New(...)'s constructor itself produces as a
// single full-arena hole).
func TestAllocFreeRoundTrip(t *testing.T) {
	h := newtest(t)
	before := h.Snapshot()
	beforeHoles := h.HoleCount()

	off, err := h.Alloc(128, false)
	require.NoError(t, err)
	require.NotZero(t, off)

	h.Free(off)
	require.Equal(t, beforeHoles, h.HoleCount())
	require.Equal(t, before, h.Snapshot())
}

func TestAllocWritesSurviveUntilFree(t *testing.T) {
	h := newtest(t)
	off, err := h.Alloc(64, false)
	require.NoError(t, err)
	buf := h.Bytes(off, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	buf2 := h.Bytes(off, 64)
	for i := range buf2 {
		require.Equal(t, byte(i), buf2[i])
	}
}

func TestAllocSplitsLargeHole(t *testing.T) {
	h := newtest(t)
	off1, err := h.Alloc(64, false)
	require.NoError(t, err)
	require.Equal(t, 1, h.HoleCount()) // remainder of the arena

	off2, err := h.Alloc(64, false)
	require.NoError(t, err)
	require.NotEqual(t, off1, off2)
}

func TestFreeCoalescesAdjacentHoles(t *testing.T) {
	h := newtest(t)
	a, err := h.Alloc(64, false)
	require.NoError(t, err)
	b, err := h.Alloc(64, false)
	require.NoError(t, err)
	c, err := h.Alloc(64, false)
	require.NoError(t, err)

	h.Free(b)
	h.Free(a)
	h.Free(c)
	// fully freed: back to a single hole spanning the arena
	require.Equal(t, 1, h.HoleCount())
}

func TestAlignedAllocReturnsPageAlignedPointer(t *testing.T) {
	h := newtest(t)
	off, err := h.Alloc(37, true)
	require.NoError(t, err)
	require.Zero(t, (h.VBase+uint32(off))%4096)
}

func TestOutOfHeapWhenTooBig(t *testing.T) {
	h := New(256, 0)
	_, err := h.Alloc(1<<20, false)
	require.ErrorIs(t, err, ErrOutOfHeap)
}

func TestCorruptedHeaderPanics(t *testing.T) {
	h := newtest(t)
	off, err := h.Alloc(32, false)
	require.NoError(t, err)
	h.Bytes(off-HeaderSize, 4)[0] ^= 0xff // stomp the magic
	require.Panics(t, func() { h.Free(off) })
}

func TestReallocGrowsAndPreservesContent(t *testing.T) {
	h := newtest(t)
	off, err := h.Alloc(16, false)
	require.NoError(t, err)
	copy(h.Bytes(off, 16), []byte("0123456789abcdef"))

	off2, err := h.Realloc(off, 64)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), h.Bytes(off2, 16))
}

func TestReallocToZeroFrees(t *testing.T) {
	h := newtest(t)
	off, err := h.Alloc(16, false)
	require.NoError(t, err)
	before := h.HoleCount()
	n, err := h.Realloc(off, 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Greater(t, h.HoleCount(), before-1)
}
