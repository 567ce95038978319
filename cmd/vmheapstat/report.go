package main

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/memutils"
)

// report is the binary form of a run's statistics
type report struct {
	Regions     map[string]memutils.DetailedStatistics `cbor:"regions"`
	Total       memutils.DetailedStatistics            `cbor:"total"`
	MappedPages int                                    `cbor:"mappedPages"`
	Collector   gc.CycleStats                          `cbor:"collector"`
}

var reportEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	reportEncMode = em
}

func buildReport(h *heap.Heap, c *gc.Collector) report {
	var stats heap.Statistics
	h.CalculateStatistics(&stats)

	r := report{
		Regions:     make(map[string]memutils.DetailedStatistics),
		Total:       stats.Total,
		MappedPages: h.MappedPages(),
		Collector:   c.Stats(),
	}
	for kind := heap.RegionMinor; kind <= heap.RegionAuto; kind++ {
		r.Regions[kind.String()] = stats.Regions[kind]
	}
	return r
}

func encodeReport(r report) ([]byte, error) {
	return reportEncMode.Marshal(r)
}

func unmarshalReport(data []byte) (report, error) {
	var r report
	err := cbor.Unmarshal(data, &r)
	return r, err
}
