package progress

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFrameTracker(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogFrameTracker(slog.New(slog.NewTextHandler(&buf, nil)))
	tr.SetMessage("simulate")
	tr.SetTotal(100)
	for i := 0; i <= 100; i++ {
		tr.SetDone(i)
	}
	tr.MarkFinished()
	tr.MarkFinished()

	out := buf.String()
	// One record per tenth, including 0% and 100%, plus the finish record.
	assert.Equal(t, 12, strings.Count(out, "\n"))
	assert.Contains(t, out, "percent=50")
	assert.Equal(t, 1, strings.Count(out, "simulate finished"))
	assert.NoError(t, tr.Err())
}

func TestLogFrameTracker_Error(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogFrameTracker(slog.New(slog.NewTextHandler(&buf, nil)))
	tr.SetMessage("simulate")
	tr.SetDone(3)
	err := errors.New("out of memory")
	tr.SetError(err)
	tr.MarkFinished()

	assert.ErrorIs(t, tr.Err(), err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.NotContains(t, buf.String(), "finished")
}

func TestNoopFrameTracker(t *testing.T) {
	var tr FrameTracker = NoopFrameTracker{}
	tr.SetTotal(10)
	tr.SetDone(5)
	tr.MarkFinished()
}
