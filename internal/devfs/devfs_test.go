package devfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/fdops"
	"github.com/xnscdev/os0-kernel-sub000/internal/stat"
)

func TestLookupKnownDevices(t *testing.T) {
	for _, name := range []string{"null", "zero", "console"} {
		d, fops, ok := Lookup(name)
		require.True(t, ok, name)
		require.NotNil(t, d)
		require.NotNil(t, fops)
	}
}

func TestLookupUnknownDeviceFails(t *testing.T) {
	_, _, ok := Lookup("nope")
	require.False(t, ok)
}

func TestZeroDeviceReadsAllZeroBytes(t *testing.T) {
	_, fops, _ := Lookup("zero")
	dst := make([]byte, 8)
	for i := range dst {
		dst[i] = 0xff
	}
	n, err := fops.Read(fdops.MkFakeubuf(dst))
	require.Zero(t, err)
	require.Equal(t, 8, n)
	for _, b := range dst {
		require.Zero(t, b)
	}
}

func TestNullDeviceReadReturnsEOF(t *testing.T) {
	_, fops, _ := Lookup("null")
	n, err := fops.Read(fdops.MkFakeubuf(make([]byte, 4)))
	require.Zero(t, err)
	require.Zero(t, n)
}

func TestNullDeviceWriteDiscardsAllBytes(t *testing.T) {
	_, fops, _ := Lookup("null")
	n, err := fops.Write(fdops.MkFakeubuf([]byte("discarded")))
	require.Zero(t, err)
	require.Equal(t, len("discarded"), n)
}

func TestFDProviderLooksUpRegisteredDescriptor(t *testing.T) {
	_, nullFops, _ := Lookup("null")
	SetFDProvider(func(pid int) []FDEntry {
		if pid != 42 {
			return nil
		}
		return []FDEntry{{Num: 3, Fops: nullFops}}
	})
	defer SetFDProvider(nil)

	got, ok := LookupFD(42, 3)
	require.True(t, ok)
	require.Same(t, nullFops, got)

	_, ok = LookupFD(42, 9)
	require.False(t, ok)
}

func TestDeviceFstatReportsCharDeviceMode(t *testing.T) {
	_, fops, _ := Lookup("console")
	var st stat.Stat_t
	require.Zero(t, fops.Fstat(&st))
	require.True(t, st.Mode&0170000 != 0)
}
