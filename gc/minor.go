package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/heap"
	"golang.org/x/exp/slog"
)

type minorCycle struct {
	// full is set when the cycle should continue into a major one regardless of elder growth
	full  bool
	stats CycleStats
}

// beginMinor flips the Minor region and queues every root slot. Root scanning happens exactly once per
// cycle, here, and the first queued entry is processed by the same step.
func (c *Collector) beginMinor() (int, error) {
	c.requestedMinor.Store(false)
	c.minor = minorCycle{full: c.requestedFull.Swap(false)}
	c.retired.Clear()
	c.setState(StateMinorGC)

	flipped := c.heap.FlipMinor()
	carried := c.remembered.MergeCarried()

	slots := c.roots.Collect()
	for _, slot := range slots {
		c.queue.Push(slot)
	}

	c.logger.Debug("minor collection started",
		slog.Int("targets", flipped),
		slog.Int("carried", carried),
		slog.Int("roots", len(slots)),
		slog.Int("rememberedSet", c.remembered.Len()),
	)

	return c.minorStep()
}

func (c *Collector) minorComplete() bool {
	return c.queue.IsEmpty() && c.remembered.IsEmpty()
}

// minorStep takes entries from the Mark Queue, then the Remembered Set, until one of them evacuates an
// object or both are empty. Entries that need no evacuation only heal or carry their slot.
func (c *Collector) minorStep() (int, error) {
	for {
		slot, queued := c.queue.Pop()
		if !queued {
			addr, ok := c.remembered.Pop()
			if !ok {
				return 0, nil
			}
			slot = heap.HeapSlot(addr)
		}

		if queued && c.retired.Contains(slot) {
			c.minor.stats.EntriesAborted++
			continue
		}

		moved, aborted, err := c.processEntry(slot)
		if err != nil {
			return moved, err
		}

		if aborted {
			c.minor.stats.EntriesAborted++
			continue
		}

		c.minor.stats.EntriesProcessed++
		return moved, nil
	}
}

// processEntry makes slot reference the surviving copy of its target. It reports the payload bytes copied
// and whether the entry turned out to need no evacuation.
func (c *Collector) processEntry(slot heap.Slot) (bytesMoved int, aborted bool, err error) {
	if slot.IsHeap() && !c.heap.IsTracked(slot.Addr) {
		return 0, true, nil
	}

	value := c.heap.LoadSlot(slot).Pointer()
	if value == heap.NullAddr || !c.heap.IsCollectionTarget(value) {
		c.carry(slot)
		return 0, true, nil
	}

	alreadyMoved := c.heap.Header(value).Has(heap.IsMoved)
	dst, bytesMoved, err := c.evacuate(value)
	if err != nil {
		return 0, false, err
	}

	// A failed swap means a mutator stored something else through the write barrier, which owns the slot now
	c.heap.CompareAndSwapSlot(slot, heap.PointerReg(value), heap.PointerReg(dst))
	c.carry(slot)

	return bytesMoved, alreadyMoved, nil
}

// carry keeps an old-to-young slot remembered for the next cycle
func (c *Collector) carry(slot heap.Slot) {
	if !slot.IsHeap() || !c.heap.IsTracked(slot.Addr) || c.heap.RegionOf(slot.Addr) == heap.RegionMinor {
		return
	}

	value := c.heap.LoadSlot(slot).Pointer()
	if value != heap.NullAddr && c.heap.IsTracked(value) && c.heap.RegionOf(value) == heap.RegionMinor {
		c.remembered.Carry(slot.Addr)
	}
}

// evacuate copies obj out of the collection targets, or returns the copy made earlier. Survivors that reach
// the promotion threshold are copied into the Major region.
func (c *Collector) evacuate(obj heap.Addr) (heap.Addr, int, error) {
	c.evacuationMutex.Lock()
	defer c.evacuationMutex.Unlock()

	header := c.heap.Header(obj)
	if header.Has(heap.IsMoved) {
		return c.heap.ForwardingAddress(obj), 0, nil
	}

	words, err := c.heap.SizeOf(header)
	if err != nil {
		return heap.NullAddr, 0, err
	}

	age := int(header.Age()) + 1
	kind := heap.RegionMinor
	if age >= c.options.PromotionThreshold {
		kind = heap.RegionMajor
	}

	dst, err := c.heap.Relocate(obj, kind, header.WithAge(uint8(age)))
	if err != nil {
		return heap.NullAddr, 0, errors.Wrapf(err, "failed to evacuate %s", obj)
	}

	c.heap.Store(obj, heap.PointerReg(dst))
	c.heap.SetHeader(obj, header.WithFlags(heap.IsMoved))

	err = c.heap.VisitPointers(dst, func(slot heap.Addr, value heap.Addr) {
		if c.heap.IsCollectionTarget(value) {
			c.queue.Push(heap.HeapSlot(slot))
		} else {
			c.carry(heap.HeapSlot(slot))
		}
	})
	if err != nil {
		return dst, words * 8, err
	}

	c.minor.stats.ObjectsMoved++
	c.minor.stats.BytesMoved += words * 8
	if kind == heap.RegionMajor {
		c.minor.stats.ObjectsPromoted++
	}

	return dst, words * 8, nil
}

// forward returns where obj lives now, following a completed evacuation
func (c *Collector) forward(obj heap.Addr) heap.Addr {
	if obj == heap.NullAddr || !c.heap.IsCollectionTarget(obj) {
		return obj
	}

	if c.heap.Header(obj).Has(heap.IsMoved) {
		return c.heap.ForwardingAddress(obj)
	}
	return obj
}

func (c *Collector) finishMinor() (bool, error) {
	c.retired.Clear()
	pages, garbage := c.heap.ReleaseTargets()
	c.minor.stats.PagesReleased = pages
	c.minor.stats.MinorCycles = 1

	c.addStats(c.minor.stats)
	c.logCycle("minor collection finished", c.minor.stats)
	c.logger.Debug("minor garbage released", slog.Int("objects", garbage))

	if c.minor.full || c.elderGrowthExceeded() {
		c.beginMajor()
		return false, nil
	}

	c.setState(StateNormal)
	return true, nil
}

func (c *Collector) elderGrowthExceeded() bool {
	elder := c.heap.ElderStatistics()

	floor := c.lastElderBytes
	if floor < majorFloorBytes {
		floor = majorFloorBytes
	}

	return float64(elder.ObjectBytes) >= float64(floor)*(1+c.options.MajorGrowthRatio)
}
