package limits

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xnscdev/os0-kernel-sub000/internal/defs"
)

func TestTakeFailsOnceGivenExhausted(t *testing.T) {
	s := &Sysatomic_t{Given: 2}
	require.True(t, s.Take())
	require.True(t, s.Take())
	require.False(t, s.Take())
	require.Equal(t, int64(2), s.Taken())
}

func TestGiveFreesASlotForAnotherTake(t *testing.T) {
	s := &Sysatomic_t{Given: 1}
	require.True(t, s.Take())
	require.False(t, s.Take())
	s.Give()
	require.True(t, s.Take())
}

func TestTakeOrErrReturnsRequestedErrno(t *testing.T) {
	s := &Sysatomic_t{Given: 0}
	require.Equal(t, -defs.EMFILE, TakeOrErr(s, -defs.EMFILE))
}

func TestMkSysLimitSizesProcessTable(t *testing.T) {
	sl := MkSysLimit()
	require.Equal(t, int64(512), sl.Sysprocs.Given)
}
