package heap

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

func (h *Heap) ElderPhase() ElderPhase {
	return ElderPhase(h.elderPhase.Load())
}

func (h *Heap) SetElderPhase(phase ElderPhase) {
	old := ElderPhase(h.elderPhase.Swap(int32(phase)))
	if old != phase {
		h.logger.Debug("elder phase changed", slog.String("from", old.String()), slog.String("to", phase.String()))
	}
}

// BeginSweep enters the sweeping phase and returns the base address of every Major page and Huge span that
// existed when it began. Spans mapped afterwards are not swept by this cycle.
func (h *Heap) BeginSweep() []Addr {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	spans := append(h.major.Pages(), h.huge.Snapshot()...)
	bases := make([]Addr, 0, len(spans))
	for _, s := range spans {
		s.swept = false
		bases = append(bases, s.base)
	}

	h.elderPhase.Store(int32(ElderSweeping))
	return bases
}

// SpanObjects returns every live object in the elder span beginning at base. If that span no longer exists,
// is not elder, or was mapped after the sweep began, it returns nothing.
func (h *Heap) SpanObjects(base Addr) []Addr {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	s := h.regions.Lookup(base)
	if s == nil || s.base != base || !s.kind.IsElder() || s.swept {
		return nil
	}

	if s.kind == RegionHuge {
		return []Addr{s.base + 8}
	}

	var objects []Addr
	visitSlabObjects(s, func(obj Addr) {
		objects = append(objects, obj)
	})
	return objects
}

// FinishSweep records that the span beginning at base has been swept
func (h *Heap) FinishSweep(base Addr) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if s := h.regions.Lookup(base); s != nil && s.base == base {
		s.swept = true
	}
}

// VisitStaticObjects calls visit with every object in the Static region
func (h *Heap) VisitStaticObjects(visit func(obj Addr)) {
	h.mutex.Lock()
	pages := h.static.Pages()
	h.mutex.Unlock()

	for _, page := range pages {
		visitSlabObjects(page, visit)
	}
}

// FreeObject returns an unreachable elder object's storage to its region, and returns the number of payload
// bytes released. Empty Major pages are unmapped. The caller is responsible for running the finalizer first.
func (h *Heap) FreeObject(obj Addr) (int, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	s := h.spanFor(obj)
	if !s.isObject(obj) {
		panic(errors.AssertionFailedf("%s is not a live object", obj))
	}

	switch s.kind {
	case RegionHuge:
		words, err := h.SizeOf(ObjHeader(s.load(obj.Header())))
		if err != nil {
			return 0, err
		}
		h.huge.Unregister(s)
		h.unmapSpan(s)
		return words * 8, nil
	case RegionMajor:
		offset := s.objectSlot(obj)
		if err := s.slab.Free(s.slab.HandleForOffset(offset)); err != nil {
			return 0, err
		}

		if s.slab.IsEmpty() {
			h.major.list(s.slotWords).remove(s)
			h.unmapSpan(s)
		}
		return (s.slotWords - 1) * 8, nil
	}

	panic(errors.AssertionFailedf("objects in the %s region cannot be freed individually", s.kind))
}
