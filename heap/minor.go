package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/memutils/metadata"
	"golang.org/x/exp/slog"
)

// FlipMinor turns every current Minor page into a collection target. Targets receive no further
// allocations; survivors are copied out of them and they are released together by ReleaseTargets.
// It returns the number of pages flipped.
func (h *Heap) FlipMinor() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(h.targets) > 0 {
		panic(errors.AssertionFailedf("minor pages flipped while %d targets from the previous cycle are still mapped", len(h.targets)))
	}

	for i := range h.minor.lists {
		for _, page := range h.minor.lists[i].takeAll() {
			page.target.Store(true)
			h.targets = append(h.targets, page)
		}
	}

	h.logger.Debug("minor pages flipped", slog.Int("targets", len(h.targets)))
	return len(h.targets)
}

// IsCollectionTarget reports whether addr lies in a Minor page that the current cycle is evacuating
func (h *Heap) IsCollectionTarget(addr Addr) bool {
	s := h.regions.Lookup(addr)
	return s != nil && s.target.Load()
}

// ReleaseTargets unmaps every collection target page. Any object left in them is garbage.
func (h *Heap) ReleaseTargets() (pages int, objects int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, page := range h.targets {
		objects += page.slab.AllocationCount()
		h.unmapSpan(page)
	}

	pages = len(h.targets)
	h.targets = nil

	h.logger.Debug("minor targets released", slog.Int("pages", pages), slog.Int("objects", objects))
	return pages, objects
}

// MinorPressure is the fraction of the Minor page budget currently in use
func (h *Heap) MinorPressure() float64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return float64(h.minor.PageCount()) / float64(h.minorPageBudget)
}

func (h *Heap) MinorPageCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.minor.PageCount()
}

// VisitMinorObjects calls visit with every live object in a Minor page that is not a collection target
func (h *Heap) VisitMinorObjects(visit func(obj Addr)) {
	h.mutex.Lock()
	pages := h.minor.Pages()
	h.mutex.Unlock()

	for _, page := range pages {
		visitSlabObjects(page, visit)
	}
}

func visitSlabObjects(page *span, visit func(obj Addr)) {
	_ = page.slab.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		if !free {
			visit(page.slotObject(offset))
		}
		return nil
	})
}
