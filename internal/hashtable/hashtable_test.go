package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetThenGetRoundTrips(t *testing.T) {
	ht := MkHash[string, int](4)
	_, existed := ht.Set("1/foo", 7)
	require.False(t, existed)
	v, ok := ht.Get("1/foo")
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestSetOverwritesAndReturnsPrevious(t *testing.T) {
	ht := MkHash[string, int](4)
	ht.Set("1/foo", 7)
	old, existed := ht.Set("1/foo", 9)
	require.True(t, existed)
	require.Equal(t, 7, old)
	v, _ := ht.Get("1/foo")
	require.Equal(t, 9, v)
}

func TestDelRemovesEntry(t *testing.T) {
	ht := MkHash[string, int](4)
	ht.Set("1/foo", 7)
	ht.Del("1/foo")
	_, ok := ht.Get("1/foo")
	require.False(t, ok)
}

func TestLenCountsAcrossBuckets(t *testing.T) {
	ht := MkHash[string, int](2)
	ht.Set("a", 1)
	ht.Set("b", 2)
	ht.Set("c", 3)
	require.Equal(t, 3, ht.Len())
}

func TestGetMissingReturnsFalse(t *testing.T) {
	ht := MkHash[string, int](4)
	_, ok := ht.Get("nope")
	require.False(t, ok)
}
