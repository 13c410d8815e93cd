// Package progress reports the progress of long-running workloads.
package progress

import (
	"log/slog"
	"sync"
)

// FrameTracker follows a workload that runs a known number of frames.
type FrameTracker interface {
	SetMessage(msg string)
	SetTotal(total int64)
	SetDone(n int)
	SetError(err error)
	MarkFinished()
}

type NoopFrameTracker struct{}

var _ FrameTracker = NoopFrameTracker{}

func (n NoopFrameTracker) SetMessage(msg string) {}
func (n NoopFrameTracker) SetTotal(total int64)  {}
func (n NoopFrameTracker) SetDone(n2 int)        {}
func (n NoopFrameTracker) SetError(err error)    {}
func (n NoopFrameTracker) MarkFinished()         {}

// LogFrameTracker logs at each tenth of the total. It is safe for use by
// several workloads at once.
type LogFrameTracker struct {
	log *slog.Logger

	mu      sync.Mutex
	msg     string
	total   int64
	done    int
	logged  int64
	err     error
	stopped bool
}

var _ FrameTracker = (*LogFrameTracker)(nil)

func NewLogFrameTracker(log *slog.Logger) *LogFrameTracker {
	return &LogFrameTracker{log: log, logged: -1}
}

func (t *LogFrameTracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msg = msg
}

func (t *LogFrameTracker) SetTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

func (t *LogFrameTracker) SetDone(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = n
	if t.total <= 0 {
		return
	}
	step := int64(n) * 10 / t.total
	if step > t.logged {
		t.logged = step
		t.log.Info(t.msg, "done", n, "total", t.total, "percent", step*10)
	}
}

func (t *LogFrameTracker) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.log.Error(t.msg, "done", t.done, "total", t.total, "err", err)
}

func (t *LogFrameTracker) MarkFinished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	if t.err == nil {
		t.log.Info(t.msg+" finished", "done", t.done, "total", t.total)
	}
}

func (t *LogFrameTracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
