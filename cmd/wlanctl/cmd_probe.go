package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/pkg"
)

type probeOptions struct {
	count int
	power string
}

func newProbeCmd(a *app) *cobra.Command {
	var o probeOptions
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Start a driver and measure worker probe latency",
		Long: `Start a driver, post thread probes to the control and transmit workers and
report the round trip of each. With --power the data flows are suspended into
the given power state and resumed before the driver stops.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.capacity(cmd)
			return a.probe(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().IntVarP(&o.count, "count", "n", 3, "number of probes")
	cmd.Flags().StringVar(&o.power, "power", "", "also cycle through this power state (bmps, imps, deep-sleep, off)")
	return cmd
}

func (a *app) probe(ctx context.Context, out io.Writer, o probeOptions) (err error) {
	if o.count <= 0 {
		return fmt.Errorf("%w: count %d", pkg.ErrInvalidParameter, o.count)
	}
	var state hal.PowerState
	if o.power != "" {
		if state, err = hal.ParsePowerState(o.power); err != nil {
			return err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d, _, err := a.newDriver()
	if err != nil {
		return err
	}
	begin := time.Now()
	if err := d.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "started %s in %s\n", d.ID(), time.Since(begin).Round(time.Microsecond))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Handshake.StopTimeout)
		defer cancel()
		err = multierr.Append(err, d.Stop(stopCtx))
	}()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tLATENCY\tRESULT")
	for i := range o.count {
		begin := time.Now()
		perr := d.Probe(ctx)
		result := "ok"
		if perr != nil {
			result = perr.Error()
			err = multierr.Append(err, perr)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, time.Since(begin).Round(time.Microsecond), result)
	}
	if ferr := w.Flush(); ferr != nil {
		return multierr.Append(err, ferr)
	}
	if err != nil || o.power == "" {
		return err
	}

	begin = time.Now()
	if err := d.Suspend(ctx, state); err != nil {
		return err
	}
	fmt.Fprintf(out, "suspended to %s in %s\n", state, time.Since(begin).Round(time.Microsecond))
	begin = time.Now()
	if err := d.Resume(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "resumed in %s\n", time.Since(begin).Round(time.Microsecond))
	return nil
}
