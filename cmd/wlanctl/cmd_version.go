package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No configuration is needed to report the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wlanctl %s %s %s/%s\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if !verbose {
				return
			}
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return
			}
			fmt.Fprintf(out, "module %s %s\n", info.Main.Path, info.Main.Version)
			for _, dep := range info.Deps {
				fmt.Fprintf(out, "  %s %s\n", dep.Path, dep.Version)
			}
		},
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "include module dependencies")
	return cmd
}
