package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/regvm/vmheap/internal/utils"
	"github.com/regvm/vmheap/memutils"
)

// hugeList tracks every live huge span, each of which holds exactly one object
type hugeList struct {
	mutex utils.OptionalRWMutex

	count    int
	listHead *span
	listTail *span
}

func (l *hugeList) Init(useMutex bool) {
	l.mutex.SetExternallySynchronized(!useMutex)
}

func (l *hugeList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	actualCount := 0
	for s := l.listHead; s != nil; s = s.next {
		actualCount++
		if s.kind != RegionHuge {
			return errors.Errorf("a %s span at %s is in the huge list", s.kind, s.base)
		}
	}

	if l.count != actualCount {
		return errors.Errorf("the listed number of huge spans in the list (%d) does not match the actual number of spans (%d)", l.count, actualCount)
	}

	return nil
}

func (l *hugeList) AddStatistics(stats *memutils.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for s := l.listHead; s != nil; s = s.next {
		size := len(s.words) * 8
		stats.AddSpan(size)
		stats.ObjectCount++
		stats.ObjectBytes += size
	}
}

func (l *hugeList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for s := l.listHead; s != nil; s = s.next {
		size := len(s.words) * 8
		stats.AddSpan(size)
		stats.AddObject(size)
	}
}

func (l *hugeList) BuildStatsString(json jwriter.ObjectState, h *Heap) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	s := json.Name("Huge").Array()
	defer s.End()

	for item := l.listHead; item != nil; item = item.next {
		o := s.Object()
		o.Name("Address").String(item.base.String())
		o.Name("Pages").Int(item.pages)
		h.printObject(&o, item.base+8)
		o.End()
	}
}

func (l *hugeList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count == 0
}

func (l *hugeList) Count() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count
}

// Snapshot returns the spans currently in the list
func (l *hugeList) Snapshot() []*span {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	spans := make([]*span, 0, l.count)
	for s := l.listHead; s != nil; s = s.next {
		spans = append(spans, s)
	}
	return spans
}

func (l *hugeList) Register(s *span) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.pushSpan(s)
}

func (l *hugeList) Unregister(s *span) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.removeSpan(s)
}

func (l *hugeList) removeSpan(s *span) {
	prev := s.prev
	next := s.next

	if prev != nil {
		prev.next = next
	} else {
		l.listHead = next
	}

	if next != nil {
		next.prev = prev
	} else {
		l.listTail = prev
	}

	s.next = nil
	s.prev = nil

	l.count--
}

func (l *hugeList) pushSpan(s *span) {
	if l.count == 0 {
		l.listHead = s
		l.listTail = s
		l.count = 1
	} else {
		s.prev = l.listTail
		l.listTail.next = s

		l.listTail = s
		l.count++
	}
}
