package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print every setting after merging defaults, the config file, SOFTWLAN_* environment variables and flags.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n, _ := cmd.Flags().GetInt("capacity"); n > 0 {
				a.v.Set("scheduler.capacity", n)
			}
			keys := a.v.AllKeys()
			slices.Sort(keys)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%v\n", k, a.v.Get(k))
			}
			return w.Flush()
		},
	}
}
