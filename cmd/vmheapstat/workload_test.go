package main

import (
	"io"
	"testing"

	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newWorkload(t *testing.T, concurrent bool) (*workload, *heap.Heap) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	table := heap.NewTypeTable()
	types := registerWorkloadTypes(table)

	h, err := heap.New(logger, table, heap.CreateOptions{MinorPageBudget: 8})
	require.NoError(t, err)

	c, err := gc.New(logger, h, gc.Options{StepBudget: 4})
	require.NoError(t, err)

	return &workload{
		collector:  c,
		thread:     stack.NewThread(c, stack.ThreadOptions{Registers: 64, AutoChunkPages: 1}),
		types:      types,
		concurrent: concurrent,
	}, h
}

func TestWorkload(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		w, h := newWorkload(t, concurrent)
		require.NoError(t, w.run(5000))

		stats := w.collector.Stats()
		require.Greater(t, stats.MinorCycles, 1)
		require.GreaterOrEqual(t, stats.MajorCycles, 1)
		require.Positive(t, stats.ObjectsMoved)
		require.Positive(t, stats.ObjectsFreed)
		require.Equal(t, gc.StateNormal, w.collector.State())
		require.NoError(t, h.Validate())

		require.NoError(t, w.thread.Close())
		require.NoError(t, h.Destroy())
	}
}

func TestReportEncoding(t *testing.T) {
	w, h := newWorkload(t, false)
	require.NoError(t, w.run(500))

	r := buildReport(h, w.collector)
	data, err := encodeReport(r)
	require.NoError(t, err)

	decoded, err := unmarshalReport(data)
	require.NoError(t, err)
	require.Equal(t, r.Collector, decoded.Collector)
	require.Equal(t, r.MappedPages, decoded.MappedPages)
	require.Contains(t, decoded.Regions, "Minor")
	require.NotContains(t, decoded.Regions, "None")

	require.NoError(t, w.thread.Close())
	require.NoError(t, h.Destroy())
}
