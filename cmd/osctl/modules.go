package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"
)

var modulesPattern string

// modulesCmd lists the module's own packages, a lightweight successor
// to biscuit's `golang.org/x/tools/go/pointer`-based static analysis
// (that API is deprecated in biscuit's own go.mod, see DESIGN.md) —
// go/packages.Load is the modern replacement for "what packages does
// this module have", without pulling in a whole-program pointer
// analysis this core has no use for.
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "list the packages making up this module",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles}
		pattern := modulesPattern
		if pattern == "" {
			pattern = "./..."
		}
		pkgs, err := packages.Load(cfg, pattern)
		if err != nil {
			return fmt.Errorf("osctl modules: %w", err)
		}
		for _, p := range pkgs {
			fmt.Printf("%s\t%d files\n", p.PkgPath, len(p.GoFiles))
		}
		return nil
	},
}

func init() {
	modulesCmd.Flags().StringVar(&modulesPattern, "pattern", "", "package pattern to load (default ./...)")
}
