package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/heap"
	"golang.org/x/exp/slog"
)

type majorCycle struct {
	phase majorPhase
	sweep []heap.Addr
	next  int
	stats CycleStats
}

func (c *Collector) beginMajor() {
	c.major = majorCycle{phase: majorMarkRoots}
	c.setState(StateMajorGC)
}

// majorStep performs one unit of the major cycle: the whole root snapshot, one gray object, or one span
func (c *Collector) majorStep() (bool, error) {
	switch c.major.phase {
	case majorMarkRoots:
		return false, c.markRoots()
	case majorMarking:
		return false, c.markStep()
	case majorSweeping:
		if c.major.next >= len(c.major.sweep) {
			c.finishMajor()
			return true, nil
		}

		base := c.major.sweep[c.major.next]
		c.major.next++
		return false, c.sweepSpan(base)
	}

	panic(errors.AssertionFailedf("unknown major phase %d", c.major.phase))
}

// markRoots takes the snapshot the major cycle marks from. The whole young generation is treated as roots
// along with statics, registered roots, and scanner-reported slots.
func (c *Collector) markRoots() error {
	c.heap.SetElderPhase(heap.ElderMarking)

	for _, slot := range c.roots.Collect() {
		c.shade(c.heap.LoadSlot(slot).Pointer())
	}

	var err error
	shadeReferents := func(obj heap.Addr) {
		if err != nil {
			return
		}
		err = c.heap.VisitPointers(obj, func(slot heap.Addr, value heap.Addr) {
			c.shade(value)
		})
	}
	c.heap.VisitStaticObjects(shadeReferents)
	c.heap.VisitMinorObjects(shadeReferents)
	if err != nil {
		return err
	}

	c.logger.Debug("major collection started", slog.Int("gray", c.gray.Len()))
	c.major.phase = majorMarking
	return nil
}

// shade grays a white elder object
func (c *Collector) shade(obj heap.Addr) {
	if obj == heap.NullAddr || !c.heap.IsObject(obj) || !c.heap.RegionOf(obj).IsElder() {
		return
	}

	for {
		header := c.heap.Header(obj)
		if header.Color() != heap.White {
			return
		}
		if c.heap.CompareAndSwapHeader(obj, header, header.WithColor(heap.Gray)) {
			c.gray.Push(obj)
			return
		}
	}
}

func (c *Collector) markStep() error {
	obj, ok := c.gray.Pop()
	if !ok {
		c.major.sweep = c.heap.BeginSweep()
		c.major.phase = majorSweeping
		c.logger.Debug("major marking finished",
			slog.Int("marked", c.major.stats.ObjectsMarked),
			slog.Int("spans", len(c.major.sweep)),
		)
		return nil
	}

	for {
		header := c.heap.Header(obj)
		if c.heap.CompareAndSwapHeader(obj, header, header.WithColor(heap.Black)) {
			break
		}
	}
	c.major.stats.ObjectsMarked++

	return c.heap.VisitPointers(obj, func(slot heap.Addr, value heap.Addr) {
		c.shade(value)
	})
}

// sweepSpan frees every white object in one elder span and whitens the survivors for the next cycle
func (c *Collector) sweepSpan(base heap.Addr) error {
	for _, obj := range c.heap.SpanObjects(base) {
		header := c.heap.Header(obj)

		switch header.Color() {
		case heap.Black:
			c.heap.SetHeader(obj, header.WithColor(heap.White))
		case heap.White:
			if err := c.free(obj, header); err != nil {
				return err
			}
		default:
			panic(errors.AssertionFailedf("object %s is still %s during sweeping", obj, header.Color()))
		}
	}

	c.heap.FinishSweep(base)
	return nil
}

func (c *Collector) free(obj heap.Addr, header heap.ObjHeader) error {
	info, err := c.heap.TypeOf(obj)
	if err != nil {
		return err
	}

	if info.Finalizer != nil {
		info.Finalizer(c.heap, obj)
		c.major.stats.FinalizersRun++
	}

	words, err := c.heap.SizeOf(header)
	if err != nil {
		return err
	}
	c.remembered.ForgetRange(obj.Header(), obj.Words(words))

	bytes, err := c.heap.FreeObject(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to free %s", obj)
	}

	c.major.stats.ObjectsFreed++
	c.major.stats.BytesFreed += bytes
	return nil
}

func (c *Collector) finishMajor() {
	c.heap.SetElderPhase(heap.ElderIdle)
	c.lastElderBytes = c.heap.ElderStatistics().ObjectBytes

	c.major.stats.MajorCycles = 1
	c.addStats(c.major.stats)
	c.logCycle("major collection finished", c.major.stats)

	c.setState(StateNormal)
}
