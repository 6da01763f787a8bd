package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
	"github.com/xnscdev/os0-kernel-sub000/internal/mem"
)

func TestUserbufRoundTripsThroughMappedPage(t *testing.T) {
	pmem, err := mem.New(8<<20, 0)
	require.NoError(t, err)
	as, err := NewAS(pmem)
	require.NoError(t, err)

	const va = uintptr(0xb0000000)
	addr, errno := as.Mmap(va, 4096, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_ANONYMOUS|defs.MAP_PRIVATE, nil, 0)
	require.Zero(t, errno)

	wbuf := NewUserbuf(as, addr, 5)
	n, errno := wbuf.Uiowrite([]byte("hello"))
	require.Zero(t, errno)
	require.Equal(t, 5, n)

	rbuf := NewUserbuf(as, addr, 5)
	out := make([]byte, 5)
	n, errno = rbuf.Uioread(out)
	require.Zero(t, errno)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
	require.Zero(t, rbuf.Remain())
}
