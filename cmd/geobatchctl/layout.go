package main

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/progress"
	"github.com/garethgeorge/geobatch/internal/workload"
	"github.com/klauspost/compress/zstd"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
)

var layoutOut string

func init() {
	cmd := newLayoutCmd()
	addWorkloadFlags(cmd)
	cmd.Flags().StringVarP(&layoutOut, "out", "o", "", "Write the layout to a file; a .zst suffix compresses it")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Dump allocator memory layout after a simulation",
		Long: `The layout command runs a single seeded simulation and writes the
detailed slot map of both allocators as JSON: every free list slot, every
draw table row and every per-instance texture.

Example:
  geobatchctl layout --frames 100
  geobatchctl layout --seed 7 --frames 5000 -o layout.json.zst`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Context())
		},
	}
	return cmd
}

func runLayout(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := workloadConfig()
	sim, err := workload.New(cfg, nil)
	if err != nil {
		return err
	}
	if _, err := sim.Run(ctx, progress.NoopFrameTracker{}); err != nil {
		return err
	}

	w := jwriter.NewWriter()
	sim.PrintDetailedMap(&w)
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "encode layout")
	}

	if layoutOut == "" {
		_, err := os.Stdout.Write(append(w.Bytes(), '\n'))
		return err
	}
	return writeLayout(layoutOut, w.Bytes())
}

func writeLayout(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create layout file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close layout file")
		}
	}()

	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return errors.Wrap(err, "create zstd encoder")
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return errors.Wrap(err, "compress layout")
		}
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, "flush zstd encoder")
		}
		printInfo("wrote %d bytes of layout (compressed) to %s\n", len(data), path)
		return nil
	}
	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "write layout")
	}
	printInfo("wrote %d bytes of layout to %s\n", len(data), path)
	return nil
}
