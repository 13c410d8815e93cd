package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/batch"
	"github.com/garethgeorge/geobatch/internal/metrics"
	"github.com/garethgeorge/geobatch/internal/progress"
	"github.com/garethgeorge/geobatch/internal/workload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	simWorkers       int
	simMetricsAddr   string
	simHold          time.Duration
	simDrawUnbounded bool
	simCfg           = workload.DefaultConfig()
)

func init() {
	cmd := newSimulateCmd()
	addWorkloadFlags(cmd)
	cmd.Flags().IntVar(&simWorkers, "workers", 1, "Number of independent simulations to run in parallel")
	cmd.Flags().StringVar(&simMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().DurationVar(&simHold, "hold", 0, "Keep serving metrics this long after the simulations finish")
	rootCmd.AddCommand(cmd)
}

// addWorkloadFlags binds the flags shared by every command that runs a
// simulation.
func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&simCfg.Seed, "seed", simCfg.Seed, "Random seed; worker i uses seed+i")
	cmd.Flags().IntVar(&simCfg.Frames, "frames", simCfg.Frames, "Frames to simulate")
	cmd.Flags().IntVar(&simCfg.OpsPerFrame, "ops", simCfg.OpsPerFrame, "Random operations per frame")
	cmd.Flags().IntVar(&simCfg.BufferSize, "buffer-size", simCfg.BufferSize, "Vertex capacity of the batched allocator")
	cmd.Flags().IntVar(&simCfg.MaxDraws, "max-draws", simCfg.MaxDraws, "Draw call capacity of the batched allocator")
	cmd.Flags().BoolVar(&simDrawUnbounded, "draw-unbounded", false, "Draw meshes allocated without a bounding sphere")
	cmd.Flags().IntVar(&simCfg.Geometries, "geometries", simCfg.Geometries, "Source geometries of the instanced allocator")
	cmd.Flags().IntVar(&simCfg.MaxInstancesPerDrawCall, "max-instances", simCfg.MaxInstancesPerDrawCall, "Instances per instanced draw call")
	cmd.Flags().IntVar(&simCfg.MaxDrawCallsPerGeometry, "max-draws-per-geometry", simCfg.MaxDrawCallsPerGeometry, "Instanced draw calls per source geometry")
}

func workloadConfig() workload.Config {
	cfg := simCfg
	if simDrawUnbounded {
		cfg.Unbounded = batch.DrawUnbounded
	}
	cfg.Logger = newLogger()
	return cfg
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run seeded allocator workloads",
		Long: `The simulate command runs one or more independent synthetic workloads
against fresh allocators. Every frame applies random alloc/free/instance
operations, renders through a discarding device and validates every allocator
invariant. Capacity exhaustion is counted, not fatal.

Example:
  geobatchctl simulate --frames 1000 --workers 8
  geobatchctl simulate --workers 4 --metrics-addr :9090 --hold 1m
  geobatchctl simulate --buffer-size 1024 --max-draws 32 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context())
		},
	}
	return cmd
}

func runSimulate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if simWorkers <= 0 {
		return errors.Newf("--workers must be > 0, got %d", simWorkers)
	}
	log := newLogger()

	collector := metrics.NewCollector()
	if simMetricsAddr != "" {
		stop, err := serveMetrics(collector, simMetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	results := make([]workload.Result, simWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < simWorkers; i++ {
		g.Go(func() error {
			cfg := workloadConfig()
			cfg.Name = fmt.Sprintf("sim-%d", i)
			cfg.Seed += int64(i)
			sim, err := workload.New(cfg, collector)
			if err != nil {
				return errors.Wrapf(err, "worker %d", i)
			}
			var prog progress.FrameTracker = progress.NoopFrameTracker{}
			if verbose {
				prog = progress.NewLogFrameTracker(log)
			}
			res, err := sim.Run(gctx, prog)
			results[i] = res
			if err != nil {
				return errors.Wrapf(err, "worker %d (seed %d)", i, cfg.Seed)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if simMetricsAddr != "" && simHold > 0 {
		log.Info("holding metrics endpoint", "addr", simMetricsAddr, "for", simHold)
		select {
		case <-time.After(simHold):
		case <-ctx.Done():
		}
	}

	if jsonOut {
		return printJSON(os.Stdout, results)
	}
	printInfo("%-8s %8s %8s %8s %8s %12s %12s %14s\n", "NAME", "FRAMES", "ALLOCS", "FREES", "FAILED", "DRAWS", "INSTANCES", "UPLOADED")
	for _, r := range results {
		printInfo("%-8s %8d %8d %8d %8d %12d %12d %14d\n", r.Name, r.Frames, r.Allocs, r.Frees, r.AllocFailures, r.DrawCalls, r.Instances, r.UploadedBytes)
	}
	return nil
}

// serveMetrics starts a promhttp endpoint for collector and returns a
// function that shuts it down.
func serveMetrics(collector *metrics.Collector, addr string) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, errors.Wrap(err, "register collector")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
