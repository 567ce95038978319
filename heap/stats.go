package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/regvm/vmheap/memutils"
)

// regionKindCount sizes per-region statistics arrays
const regionKindCount = int(RegionAuto) + 1

// Statistics breaks allocation statistics down by region
type Statistics struct {
	Regions [regionKindCount]memutils.DetailedStatistics
	Total   memutils.DetailedStatistics
}

// CalculateStatistics walks every span and fills stats with detailed per-region statistics
func (h *Heap) CalculateStatistics(stats *Statistics) {
	for i := range stats.Regions {
		stats.Regions[i].Clear()
	}
	stats.Total.Clear()

	h.mutex.Lock()
	h.minor.AddDetailedStatistics(&stats.Regions[RegionMinor])
	for _, page := range h.targets {
		page.slab.AddDetailedStatistics(&stats.Regions[RegionMinor])
	}
	h.major.AddDetailedStatistics(&stats.Regions[RegionMajor])
	h.static.AddDetailedStatistics(&stats.Regions[RegionStatic])
	for _, s := range h.autoSpans {
		s.linear.AddDetailedStatistics(&stats.Regions[RegionAuto])
	}
	h.mutex.Unlock()

	h.huge.AddDetailedStatistics(&stats.Regions[RegionHuge])

	for i := range stats.Regions {
		stats.Total.AddDetailedStatistics(&stats.Regions[i])
	}
}

// ElderStatistics sums the Major and Huge regions, which are what major collections are triggered by
func (h *Heap) ElderStatistics() memutils.Statistics {
	var stats memutils.Statistics

	h.mutex.Lock()
	h.major.AddStatistics(&stats)
	h.mutex.Unlock()

	h.huge.AddStatistics(&stats)
	return stats
}

// BuildStatsString renders the heap's statistics as JSON. With detailed set, every page and huge object is
// listed as well.
func (h *Heap) BuildStatsString(detailed bool) string {
	var stats Statistics
	h.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	printDetailedStatistics(totalObj, &stats.Total)
	totalObj.End()

	regionsObj := root.Name("Regions").Object()
	for kind := RegionMinor; int(kind) < regionKindCount; kind++ {
		regionObj := regionsObj.Name(kind.String()).Object()
		printDetailedStatistics(regionObj, &stats.Regions[kind])
		regionObj.End()
	}
	regionsObj.End()

	root.Name("MappedPages").Int(h.MappedPages())
	root.Name("ElderPhase").String(h.ElderPhase().String())

	if detailed {
		pagesObj := root.Name("Pages").Object()
		h.mutex.Lock()
		h.minor.PrintDetailedMap(pagesObj)
		h.major.PrintDetailedMap(pagesObj)
		h.static.PrintDetailedMap(pagesObj)
		h.mutex.Unlock()
		pagesObj.End()

		h.huge.BuildStatsString(root, h)
	}

	root.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("SpanCount").Int(stats.SpanCount)
	json.Name("SpanBytes").Int(stats.SpanBytes)
	json.Name("SlotCount").Int(stats.SlotCount)
	json.Name("ObjectCount").Int(stats.ObjectCount)
	json.Name("ObjectWords").Int(stats.ObjectWords())
	json.Name("FreeBytes").Int(stats.FreeBytes())
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)

	if stats.ObjectCount > 0 {
		json.Name("ObjectSizeMin").Int(stats.ObjectSizeMin)
		json.Name("ObjectSizeMax").Int(stats.ObjectSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

func (h *Heap) printObject(json *jwriter.ObjectState, obj Addr) {
	header := h.Header(obj)
	json.Name("Object").String(obj.String())
	json.Name("Type").Int(int(header.TypeID()))
	if info, err := h.types.Type(TypeToken(header.TypeID())); err == nil {
		json.Name("TypeName").String(info.Name)
	}
	json.Name("Color").String(header.Color().String())
	json.Name("Flags").String(header.Flags().String())
}
