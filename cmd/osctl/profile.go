package main

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"
)

var profileOut string

// profileCmd merges several pprof-format frame-allocator profile
// sample files given on the command line (internal/mem's
// Physmem_t.ProfileSample builds such profiles in memory; nothing in
// this tree writes them to disk) into one, the same profile.Merge biscuit used to
// stitch together sampled profiling data taken across a long test.
var profileCmd = &cobra.Command{
	Use:   "profile <sample.pb.gz> [more samples...]",
	Short: "merge pprof frame-allocator profile samples into one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profs := make([]*profile.Profile, 0, len(args))
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("osctl profile: %w", err)
			}
			p, perr := profile.Parse(f)
			f.Close()
			if perr != nil {
				return fmt.Errorf("osctl profile: parsing %s: %w", path, perr)
			}
			profs = append(profs, p)
		}

		merged, err := profile.Merge(profs)
		if err != nil {
			return fmt.Errorf("osctl profile: merge: %w", err)
		}

		if profileOut == "" {
			fmt.Print(merged.String())
			return nil
		}
		out, err := os.Create(profileOut)
		if err != nil {
			return fmt.Errorf("osctl profile: %w", err)
		}
		defer out.Close()
		return merged.Write(out)
	},
}

func init() {
	profileCmd.Flags().StringVarP(&profileOut, "output", "o", "", "write the merged profile to this file instead of stdout")
}
