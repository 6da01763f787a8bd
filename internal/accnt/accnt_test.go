package accnt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(7)
	u, s := a.Fetch()
	require.EqualValues(t, 150, u)
	require.EqualValues(t, 7, s)
}

func TestAddFoldsChildIntoParent(t *testing.T) {
	var parent, child Accnt_t
	parent.Utadd(10)
	child.Utadd(90)
	child.Systadd(5)
	parent.Add(&child)
	u, s := parent.Fetch()
	require.EqualValues(t, 100, u)
	require.EqualValues(t, 5, s)
}

func TestToRusageEncodesSecondsAndMicros(t *testing.T) {
	var a Accnt_t
	a.Utadd(1_500_000_000) // 1.5s
	ret := make([]uint8, RusageSize)
	a.To_rusage(ret)
	require.EqualValues(t, 1, binary.LittleEndian.Uint64(ret[0:8]))
	require.EqualValues(t, 500_000, binary.LittleEndian.Uint64(ret[8:16]))
}
