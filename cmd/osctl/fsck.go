package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xnscdev/os0-kernel-sub000/internal/ext2"
)

var fsckBlocks uint32
var fsckBlockSize int

// fsckCmd opens an existing ext2 image and asks ext2.Filesystem.Fsck
// to recompute every group's free-block/free-inode bitmaps and flag
// mismatches against the cached group-descriptor counters.
var fsckCmd = &cobra.Command{
	Use:   "fsck <image>",
	Short: "check an ext2 image's block-group bitmaps against its group descriptors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image := args[0]
		disk, err := ext2.OpenFileDisk(image, fsckBlocks, fsckBlockSize)
		if err != nil {
			return fmt.Errorf("osctl fsck: %w", err)
		}
		defer disk.Close()

		fs, ferr := ext2.Open(disk)
		if ferr != 0 {
			return fmt.Errorf("osctl fsck: not a valid ext2 image: errno %d", ferr)
		}

		mismatches, ferr := fs.Fsck()
		if ferr != 0 {
			return fmt.Errorf("osctl fsck: check failed: errno %d", ferr)
		}
		if len(mismatches) == 0 {
			fmt.Println("clean")
			return nil
		}
		for _, m := range mismatches {
			fmt.Println(m)
		}
		return fmt.Errorf("osctl fsck: %d inconsistent group(s)", len(mismatches))
	},
}

func init() {
	fsckCmd.Flags().Uint32VarP(&fsckBlocks, "blocks", "n", 8192, "number of blocks in the image")
	fsckCmd.Flags().IntVarP(&fsckBlockSize, "block-size", "b", 1024, "block size in bytes")
}
