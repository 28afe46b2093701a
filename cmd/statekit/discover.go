package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/micro-nova/statekit/internal/zeroconf"
)

func (c *cli) discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List statekitd instances advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			peers, err := zeroconf.Browse(ctx)
			if err != nil {
				return err
			}
			if c.outputFormat == "yaml" {
				return c.formatOutput(cmd.OutOrStdout(), peers)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tURL\tTXT")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%v\n", p.Instance, p.URL(), p.TXT)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to listen for announcements")
	return cmd
}
