package gc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// CycleStats contains collector metrics, accumulated across cycles
type CycleStats struct {
	// MinorCycles is the number of minor cycles that have completed
	MinorCycles int
	// MajorCycles is the number of major cycles that have completed
	MajorCycles int
	// EntriesProcessed is the number of Mark Queue and Remembered Set entries popped by minor steps
	EntriesProcessed int
	// EntriesAborted is the number of popped entries that required no evacuation: null, no longer Minor,
	// already moved, already outside the collection targets, or retired by the mutator mid-cycle
	EntriesAborted int
	// ObjectsMoved is the number of objects evacuated, including promotions
	ObjectsMoved int
	// BytesMoved is the number of payload bytes copied by evacuation
	BytesMoved int
	// ObjectsPromoted is the number of objects evacuated into the Major region
	ObjectsPromoted int
	// PagesReleased is the number of Minor pages released at the end of minor cycles
	PagesReleased int
	// ObjectsMarked is the number of elder objects blackened by major marking
	ObjectsMarked int
	// ObjectsFreed is the number of elder objects freed by major sweeping
	ObjectsFreed int
	// BytesFreed is the number of payload bytes freed by major sweeping
	BytesFreed int
	// FinalizersRun is the number of finalizers the collector has invoked
	FinalizersRun int
}

func (s *CycleStats) Add(other CycleStats) {
	s.MinorCycles += other.MinorCycles
	s.MajorCycles += other.MajorCycles
	s.EntriesProcessed += other.EntriesProcessed
	s.EntriesAborted += other.EntriesAborted
	s.ObjectsMoved += other.ObjectsMoved
	s.BytesMoved += other.BytesMoved
	s.ObjectsPromoted += other.ObjectsPromoted
	s.PagesReleased += other.PagesReleased
	s.ObjectsMarked += other.ObjectsMarked
	s.ObjectsFreed += other.ObjectsFreed
	s.BytesFreed += other.BytesFreed
	s.FinalizersRun += other.FinalizersRun
}

func (s *CycleStats) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("entriesProcessed", s.EntriesProcessed),
		slog.Int("entriesAborted", s.EntriesAborted),
		slog.Int("objectsMoved", s.ObjectsMoved),
		slog.Int("bytesMoved", s.BytesMoved),
		slog.Int("objectsPromoted", s.ObjectsPromoted),
		slog.Int("pagesReleased", s.PagesReleased),
		slog.Int("objectsMarked", s.ObjectsMarked),
		slog.Int("objectsFreed", s.ObjectsFreed),
		slog.Int("bytesFreed", s.BytesFreed),
		slog.Int("finalizersRun", s.FinalizersRun),
	}
}

func (s *CycleStats) PrintJson(json jwriter.ObjectState) {
	json.Name("MinorCycles").Int(s.MinorCycles)
	json.Name("MajorCycles").Int(s.MajorCycles)
	json.Name("EntriesProcessed").Int(s.EntriesProcessed)
	json.Name("EntriesAborted").Int(s.EntriesAborted)
	json.Name("ObjectsMoved").Int(s.ObjectsMoved)
	json.Name("BytesMoved").Int(s.BytesMoved)
	json.Name("ObjectsPromoted").Int(s.ObjectsPromoted)
	json.Name("PagesReleased").Int(s.PagesReleased)
	json.Name("ObjectsMarked").Int(s.ObjectsMarked)
	json.Name("ObjectsFreed").Int(s.ObjectsFreed)
	json.Name("BytesFreed").Int(s.BytesFreed)
	json.Name("FinalizersRun").Int(s.FinalizersRun)
}

// BuildStatsString renders the collector's state and accumulated statistics as JSON
func (c *Collector) BuildStatsString() string {
	stats := c.Stats()

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("State").String(c.State().String())
	if c.State() == StateMajorGC {
		root.Name("MajorPhase").String(c.major.phase.String())
	}
	root.Name("RememberedSet").Int(c.remembered.Len())
	root.Name("Carried").Int(c.remembered.CarriedLen())
	root.Name("MarkQueue").Int(c.queue.Len())
	if c.State() == StateMinorGC {
		root.Name("Retired").Int(c.retired.Len())
	}
	root.Name("GrayQueue").Int(c.gray.Len())
	root.Name("Roots").Int(c.roots.Count())

	statsObj := root.Name("Stats").Object()
	stats.PrintJson(statsObj)
	statsObj.End()

	root.End()
	return string(writer.Bytes())
}
