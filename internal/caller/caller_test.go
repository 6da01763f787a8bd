package caller

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceIncludesThisFile(t *testing.T) {
	s := Trace(1)
	require.True(t, strings.Contains(s, "caller_test.go"))
}

func TestDistinctCallerFiresOnceThenDedups(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}
	fresh, msg1 := dc.Distinct()
	require.True(t, fresh)
	require.NotEmpty(t, msg1)

	again, msg2 := dc.Distinct()
	require.False(t, again)
	require.Empty(t, msg2)
	require.Equal(t, 1, dc.Len())
}

func TestDistinctCallerDisabledNeverFires(t *testing.T) {
	dc := &Distinct_caller_t{}
	fresh, _ := dc.Distinct()
	require.False(t, fresh)
}
