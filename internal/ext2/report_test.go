package ext2

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatReportsFormattedLayout(t *testing.T) {
	fs, _ := freshFs(t)
	st := fs.Stat()
	require.EqualValues(t, 512, st.BlocksCount)
	require.EqualValues(t, 1024, st.BlockSize)
	require.Greater(t, st.GroupCount, 0)
}

func TestGroupStatsMatchesGroupCount(t *testing.T) {
	fs, _ := freshFs(t)
	st := fs.Stat()
	require.Len(t, fs.GroupStats(), st.GroupCount)
}

func TestFsckOnFreshlyFormattedFsIsClean(t *testing.T) {
	fs, _ := freshFs(t)
	mismatches, err := fs.Fsck()
	require.Zero(t, err)
	require.Empty(t, mismatches)
}

func TestFileDiskRoundTripsBlocks(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	d, err := CreateFileDisk(path, 16, 512)
	require.NoError(t, err)

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.Zero(t, d.WriteBlock(3, buf))
	require.NoError(t, d.Close())

	d2, err := OpenFileDisk(path, 16, 512)
	require.NoError(t, err)
	defer d2.Close()

	got := make([]byte, 512)
	require.Zero(t, d2.ReadBlock(3, got))
	require.Equal(t, buf, got)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
