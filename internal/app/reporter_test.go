package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats Stats

func (s staticStats) Stats() Stats { return Stats(s) }

func TestStatusReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewStatusReporter(staticStats{Created: 4, Delivered: 2, Rejected: 1, LostRaces: 3}, time.Hour, logger)

	got := r.Report(context.Background())
	assert.Equal(t, int64(4), got.Created)

	out := buf.String()
	assert.Contains(t, out, `"msg":"engine_status"`)
	assert.Contains(t, out, `"decided_since_last":3`)
	assert.Contains(t, out, `"lost_races":3`)
}

func TestStatusReporter_RunStopsOnCancel(t *testing.T) {
	r := NewStatusReporter(staticStats{}, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
