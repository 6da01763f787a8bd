package stats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordIRQTalliesBothLineAndTotal(t *testing.T) {
	var st Stats_t
	st.RecordIRQ(0)
	st.RecordIRQ(0)
	st.RecordIRQ(1)
	require.EqualValues(t, 2, st.Nirqs[0].N())
	require.EqualValues(t, 1, st.Nirqs[1].N())
	require.EqualValues(t, 3, st.Irqs.N())
}

func TestRecordIRQOutOfRangePanics(t *testing.T) {
	var st Stats_t
	require.Panics(t, func() { st.RecordIRQ(99) })
}

func TestStringIncludesOnlyNonzeroLines(t *testing.T) {
	var st Stats_t
	st.RecordIRQ(3)
	s := st.String()
	require.True(t, strings.Contains(s, "irq3:"))
	require.False(t, strings.Contains(s, "irq0:"))
}

func TestCyclesAccumulatesAcrossIntervals(t *testing.T) {
	var c Cycles_t
	c.Start()
	c.Stop()
	c.Start()
	c.Stop()
	require.GreaterOrEqual(t, c.Total().Nanoseconds(), int64(0))
}
