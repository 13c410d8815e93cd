package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/garethgeorge/geobatch/internal/workload"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// resetFlags restores the package-level flag values changed by a test.
func resetFlags(t *testing.T) {
	t.Helper()
	saved := struct {
		verbose, quiet, jsonOut, drawUnbounded bool
		workers                                int
		metricsAddr, layoutOut                 string
		hold                                   time.Duration
		cfg                                    workload.Config
	}{verbose, quiet, jsonOut, simDrawUnbounded, simWorkers, simMetricsAddr, layoutOut, simHold, simCfg}
	t.Cleanup(func() {
		verbose, quiet, jsonOut, simDrawUnbounded = saved.verbose, saved.quiet, saved.jsonOut, saved.drawUnbounded
		simWorkers, simMetricsAddr, layoutOut, simCfg = saved.workers, saved.metricsAddr, saved.layoutOut, saved.cfg
		simHold = saved.hold
	})
	quiet = true
}
