package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softwlan/driver"
	"github.com/ardnew/softwlan/hal"
	"github.com/ardnew/softwlan/metrics"
	"github.com/ardnew/softwlan/pkg"
	"github.com/ardnew/softwlan/pkg/prof"
	"github.com/ardnew/softwlan/sched"
)

type runOptions struct {
	duration   time.Duration
	producers  int
	frameSize  int
	interval   time.Duration
	suspend    time.Duration
	cpuProfile string
	profileDir string
}

// trafficCounts is the outcome of a traffic run.
type trafficCounts struct {
	sent      atomic.Uint64
	exhausted atomic.Uint64
	received  atomic.Uint64
}

func newRunCmd(a *app) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up a loopback driver and drive traffic through it",
		Long: `Start a driver on the loopback bus, run concurrent frame producers for the
given duration, then stop the driver and print scheduler statistics.

Every transmitted frame is looped back by the bus and delivered to the receive
data path, so a single run exercises both directions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.capacity(cmd)
			return a.run(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&o.duration, "duration", 5*time.Second, "traffic duration")
	flags.IntVar(&o.producers, "producers", 4, "concurrent frame producers")
	flags.IntVar(&o.frameSize, "frame-size", 256, "frame size in bytes")
	flags.DurationVar(&o.interval, "interval", 0, "pause between frames of one producer")
	flags.DurationVar(&o.suspend, "suspend", 0, "suspend the data flows for this long halfway through")
	flags.StringVar(&o.cpuProfile, "cpuprofile", "", "write a CPU profile (needs -tags profile)")
	flags.StringVar(&o.profileDir, "profile-dir", "", "write heap and contention profiles here on exit (needs -tags profile)")
	flags.String("metrics-addr", "", "serve /metrics and /debug/pprof/ on this address")
	flags.Bool("send-retry", false, "retry sends while envelopes are exhausted")
	_ = a.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	_ = a.v.BindPFlag("datapath.send_retry", flags.Lookup("send-retry"))
	return cmd
}

func (o runOptions) validate() error {
	var err error
	if o.duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: duration %s", pkg.ErrInvalidParameter, o.duration))
	}
	if o.producers <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: producers %d", pkg.ErrInvalidParameter, o.producers))
	}
	if o.frameSize < 8 || o.frameSize > hal.MaxFrameSize {
		err = multierr.Append(err, fmt.Errorf("%w: frame size %d not in [8, %d]", pkg.ErrInvalidParameter, o.frameSize, hal.MaxFrameSize))
	}
	return err
}

func (a *app) run(ctx context.Context, out io.Writer, o runOptions) (err error) {
	if err := o.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.cpuProfile != "" {
		if err := prof.StartCPU(o.cpuProfile); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, prof.StopCPU()) }()
	}
	if o.profileDir != "" {
		prof.SetContention(1)
		defer func() { err = multierr.Append(err, prof.Snapshot(o.profileDir)) }()
	}

	d, _, err := a.newDriver()
	if err != nil {
		return err
	}
	var counts trafficCounts
	d.OnReceive(func([]byte) { counts.received.Add(1) })

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer func() {
		var st sched.Stats
		if s := d.Scheduler(); s != nil {
			st = s.Stats()
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Handshake.StopTimeout)
		defer cancel()
		err = multierr.Append(err, d.Stop(stopCtx))
		printReport(out, d, &counts)
		printSchedStats(out, st)
	}()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		shutdown, err := serveMetrics(addr, d)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	pkg.LogInfo(pkg.ComponentCLI, "traffic started",
		"id", d.ID(), "producers", o.producers, "duration", o.duration, "frameSize", o.frameSize)

	runCtx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for p := 0; p < o.producers; p++ {
		g.Go(func() error {
			return produce(gctx, d, p, o, &counts)
		})
	}
	if o.suspend > 0 {
		g.Go(func() error {
			return suspendCycle(gctx, d, o.duration/2, o.suspend)
		})
	}
	return g.Wait()
}

// produce sends numbered frames until ctx ends. Sends rejected for lack of
// envelopes or frame buffers are counted and skipped.
func produce(ctx context.Context, d *driver.Driver, id int, o runOptions, counts *trafficCounts) error {
	frame := make([]byte, o.frameSize)
	binary.BigEndian.PutUint32(frame[0:4], uint32(id))

	for seq := uint32(0); ctx.Err() == nil; seq++ {
		binary.BigEndian.PutUint32(frame[4:8], seq)
		err := d.Send(ctx, frame)
		switch {
		case err == nil:
			counts.sent.Add(1)
		case errors.Is(err, pkg.ErrResourceExhausted):
			counts.exhausted.Add(1)
			time.Sleep(50 * time.Microsecond)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("producer %d: %w", id, err)
		}
		if o.interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.interval):
			}
		}
	}
	return nil
}

// suspendCycle suspends the data flows after delay and resumes them after
// hold.
func suspendCycle(ctx context.Context, d *driver.Driver, delay, hold time.Duration) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(delay):
	}
	if err := d.Suspend(ctx, hal.PowerBmps); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	select {
	case <-ctx.Done():
	case <-time.After(hold):
	}
	return d.Resume(context.Background())
}

// serveMetrics serves the driver collector, Go runtime metrics and pprof.
// The returned function shuts the server down.
func serveMetrics(addr string, d *driver.Driver) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewDriverCollector(d),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	prof.Register(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(pkg.ComponentCLI, "metrics server failed", "error", err)
		}
	}()
	pkg.LogInfo(pkg.ComponentCLI, "serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// printReport writes driver and scheduler statistics.
func printReport(out io.Writer, d *driver.Driver, counts *trafficCounts) {
	st := d.Stats()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "driver\t%s\t%s\n", st.ID, st.State)
	fmt.Fprintf(w, "sent\t%d\n", counts.sent.Load())
	fmt.Fprintf(w, "exhausted\t%d\n", counts.exhausted.Load())
	fmt.Fprintf(w, "received\t%d\n", counts.received.Load())
	fmt.Fprintf(w, "tx frames\t%d\terrors %d\n", st.TxFrames, st.TxErrors)
	fmt.Fprintf(w, "rx frames\t%d\tdropped %d\n", st.RxFrames, st.RxDropped)
	_ = w.Flush()
}

// printSchedStats writes a per-queue table of st.
func printSchedStats(out io.Writer, st sched.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "pool\tcap %d\tfree %d\thigh %d\tmisses %d\n",
		st.Pool.Capacity, st.Pool.Free, st.Pool.HighWater, st.Pool.Misses)
	fmt.Fprintln(w, "QUEUE\tDEPTH\tENQUEUED\tDISPATCHED\tFAILED\tDROPPED\tREJECTED")
	for _, q := range st.Queues {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			q.Name, q.Depth, q.Enqueued, q.Dispatched, q.Failed, q.Dropped, q.Rejected)
	}
	hs := st.Handshakes
	fmt.Fprintf(w, "handshakes\tstarted %d\tcompleted %d\ttimed out %d\tlate %d\n",
		hs.Started, hs.Completed, hs.TimedOut, hs.Late)
	_ = w.Flush()
}
