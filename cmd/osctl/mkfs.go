package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xnscdev/os0-kernel-sub000/internal/ext2"
)

var (
	mkfsBlocks    uint32
	mkfsBlockSize int
)

// mkfsCmd is the successor to biscuit/src/mkfs/mkfs.go: where that
// tool stitched a bootloader, kernel image, and a skeleton directory
// tree into biscuit's custom ufs format, this one formats a plain
// disk-image file with a real ext2 filesystem via the ext2 package,
// since this kernel core drives ext2, not ufs.
var mkfsCmd = &cobra.Command{
	Use:   "mkfs <image>",
	Short: "format a disk-image file with a fresh ext2 filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image := args[0]
		disk, err := ext2.CreateFileDisk(image, mkfsBlocks, mkfsBlockSize)
		if err != nil {
			return fmt.Errorf("osctl mkfs: %w", err)
		}
		defer disk.Close()

		fs, ferr := ext2.Mkfs(disk, ext2.MkfsOptions{BlockSize: mkfsBlockSize})
		if ferr != 0 {
			return fmt.Errorf("osctl mkfs: format failed: errno %d", ferr)
		}
		st := fs.Stat()
		fmt.Printf("formatted %s: %d blocks of %d bytes, %d groups, %d inodes\n",
			image, st.BlocksCount, st.BlockSize, st.GroupCount, st.InodesCount)
		return nil
	},
}

func init() {
	mkfsCmd.Flags().Uint32VarP(&mkfsBlocks, "blocks", "n", 8192, "number of blocks in the image")
	mkfsCmd.Flags().IntVarP(&mkfsBlockSize, "block-size", "b", 1024, "block size in bytes")
}
