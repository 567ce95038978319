package memutils

import "math"

// Statistics summarizes the spans of one region and the objects they hold. Object sizes include the
// header word.
type Statistics struct {
	SpanCount   int
	SpanBytes   int
	ObjectCount int
	ObjectBytes int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

// AddSpan records a mapped span of the given size
func (s *Statistics) AddSpan(size int) {
	s.SpanCount++
	s.SpanBytes += size
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.SpanCount += other.SpanCount
	s.SpanBytes += other.SpanBytes
	s.ObjectCount += other.ObjectCount
	s.ObjectBytes += other.ObjectBytes
}

// ObjectWords is the number of words, headers included, occupied by live objects
func (s *Statistics) ObjectWords() int {
	return s.ObjectBytes / WordSize
}

// FreeBytes is the mapped memory not occupied by an object
func (s *Statistics) FreeBytes() int {
	return s.SpanBytes - s.ObjectBytes
}

// Occupancy is the fraction of mapped memory holding objects
func (s *Statistics) Occupancy() float64 {
	if s.SpanBytes == 0 {
		return 0
	}
	return float64(s.ObjectBytes) / float64(s.SpanBytes)
}

// DetailedStatistics adds size extremes and free range counts, which need a walk over every slot
type DetailedStatistics struct {
	Statistics
	// SlotCount is the number of fixed-size slots in slab spans, allocated or not
	SlotCount        int
	FreeRangeCount   int
	ObjectSizeMin    int
	ObjectSizeMax    int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	*s = DetailedStatistics{
		ObjectSizeMin:    math.MaxInt,
		FreeRangeSizeMin: math.MaxInt,
	}
}

// AddFreeRange records a run of free memory inside a span
func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++
	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, size)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, size)
}

// AddObject records one live object of the given size
func (s *DetailedStatistics) AddObject(size int) {
	s.ObjectCount++
	s.ObjectBytes += size
	s.ObjectSizeMin = min(s.ObjectSizeMin, size)
	s.ObjectSizeMax = max(s.ObjectSizeMax, size)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.SlotCount += other.SlotCount
	s.FreeRangeCount += other.FreeRangeCount
	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, other.FreeRangeSizeMin)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, other.FreeRangeSizeMax)
	s.ObjectSizeMin = min(s.ObjectSizeMin, other.ObjectSizeMin)
	s.ObjectSizeMax = max(s.ObjectSizeMax, other.ObjectSizeMax)
}
