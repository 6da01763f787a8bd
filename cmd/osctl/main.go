// Command osctl is the host-side toolbox for this kernel's on-disk
// image: it formats, checks, and inspects an ext2 image, patches a
// kernel binary's ELF entry point, lists the module's own packages,
// and merges frame-allocator profile samples. Grounded on biscuit's
// standalone mkfs/chentry host tools, restructured as cobra
// subcommands in `arctir-proctor`'s CLI shape rather than one
// argv-parsing binary per job.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "osctl",
	Short: "host-side toolbox for the kernel's disk images and build artifacts",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(0)
		}
	},
}

func main() {
	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(chentryCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(profileCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
