package pipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
)

func TestWriteThenReadDeliversSameBytes(t *testing.T) {
	p := New()
	r, w := p.ReadEnd(), p.WriteEnd()

	n, err := w.Write(fdops.MkFakeubuf([]byte("A")))
	require.Zero(t, err)
	require.Equal(t, 1, n)

	dst := make([]byte, 1)
	ub := fdops.MkFakeubuf(dst)
	n, err = r.Read(ub)
	require.Zero(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('A'), dst[0])
}

func TestReadOnEmptyClosedWriteReturnsEOF(t *testing.T) {
	p := New()
	r, w := p.ReadEnd(), p.WriteEnd()
	require.Zero(t, w.Close())

	n, err := r.Read(fdops.MkFakeubuf(make([]byte, 4)))
	require.Zero(t, err)
	require.Zero(t, n)
}

func TestWriteWithNoReadersReturnsEPIPEAndFiresHook(t *testing.T) {
	p := New()
	r, w := p.ReadEnd(), p.WriteEnd()
	require.Zero(t, r.Close())

	fired := false
	we := w.(*writeEnd)
	n, err := we.WriteSignaling(fdops.MkFakeubuf([]byte("x")), func() { fired = true })
	require.Equal(t, 0, n)
	require.Equal(t, -defs.EPIPE, err)
	require.True(t, fired)
}

func TestReadBlocksUntilWriteArrives(t *testing.T) {
	p := New()
	r, w := p.ReadEnd(), p.WriteEnd()

	done := make(chan struct{})
	var n int
	var err defs.Err_t
	go func() {
		dst := make([]byte, 3)
		n, err = r.Read(fdops.MkFakeubuf(dst))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read returned before any write happened")
	case <-time.After(20 * time.Millisecond):
	}

	_, werr := w.Write(fdops.MkFakeubuf([]byte("hey")))
	require.Zero(t, werr)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read never woke up after write")
	}
	require.Zero(t, err)
	require.Equal(t, 3, n)
}
