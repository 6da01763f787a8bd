package stat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

func TestBytesEncodesFieldsLittleEndian(t *testing.T) {
	var s Stat_t
	s.Wino(42)
	s.Wmode(defs.S_IFREG | 0644)
	s.Wsize(4097)

	b := s.Bytes()
	require.Len(t, b, Size)
	require.Equal(t, uint64(42), binary.LittleEndian.Uint64(b[8:16]))
	require.Equal(t, uint32(defs.S_IFREG|0644), binary.LittleEndian.Uint32(b[16:20]))
}

func TestIsDir(t *testing.T) {
	var s Stat_t
	s.Wmode(defs.S_IFDIR | 0755)
	require.True(t, s.IsDir())
}
