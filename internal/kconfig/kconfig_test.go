package kconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Boot on a machine advertising 16 MiB of upper memory.
func TestValidateAccepts16MiB(t *testing.T) {
	b := &Boot_t{Magic: MultibootMagic, MemUpperKB: 16 * 1024}
	require.NoError(t, b.Validate())
	require.Equal(t, 16<<20, b.RAMBytes())
}

func TestValidateRejectsBadMagic(t *testing.T) {
	b := &Boot_t{Magic: 0, MemUpperKB: 16 * 1024}
	require.Error(t, b.Validate())
}

func TestValidateRejectsBelowMinimumRAM(t *testing.T) {
	b := &Boot_t{Magic: MultibootMagic, MemUpperKB: 256}
	require.Error(t, b.Validate())
}
