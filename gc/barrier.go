package gc

import (
	"github.com/regvm/vmheap/heap"
)

// WriteBarrier stores a pointer into slot. Every mutator pointer store into the heap or a root must go
// through it: it records old-to-young slots in the Remembered Set and, while the elder generation is being
// marked, shades the reference being overwritten.
func (c *Collector) WriteBarrier(slot heap.Slot, value heap.Reg) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.State() == StateMinorGC {
		slot = c.resolveSlot(slot)
		value = heap.PointerReg(c.forward(value.Pointer()))
		if c.heap.IsCollectionTarget(value.Pointer()) {
			// the queued entry for slot must evacuate it after all
			c.retired.Restore(slot)
		}
	}

	if c.heap.ElderPhase() == heap.ElderMarking {
		c.shade(c.heap.LoadSlot(slot).Pointer())
	}

	c.remember(slot, value.Pointer())
	c.heap.StoreSlot(slot, value)
}

// ReadBarrier loads a pointer from slot. While a minor cycle is running, a reference into the collection
// targets is replaced by the surviving copy, evacuating the object first if no one has yet, and the slot is
// healed so later loads skip the work.
func (c *Collector) ReadBarrier(slot heap.Slot) (heap.Reg, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.State() != StateMinorGC {
		return c.heap.LoadSlot(slot), nil
	}

	slot = c.resolveSlot(slot)
	value := c.heap.LoadSlot(slot)
	obj := value.Pointer()
	if obj == heap.NullAddr || !c.heap.IsCollectionTarget(obj) {
		return value, nil
	}

	dst, _, err := c.evacuate(obj)
	if err != nil {
		return value, err
	}

	if c.heap.CompareAndSwapSlot(slot, value, heap.PointerReg(dst)) {
		c.remember(slot, dst)
	}
	return heap.PointerReg(dst), nil
}

// remember inserts slot into the Remembered Set when it is outside Minor and value is inside
func (c *Collector) remember(slot heap.Slot, value heap.Addr) {
	if value == heap.NullAddr || !slot.IsHeap() {
		return
	}
	if c.heap.RegionOf(slot.Addr) == heap.RegionMinor {
		return
	}
	if c.heap.IsTracked(value) && c.heap.RegionOf(value) == heap.RegionMinor {
		c.remembered.Insert(slot.Addr)
	}
}

// resolveSlot redirects a heap slot inside an evacuated object to the same slot of its copy
func (c *Collector) resolveSlot(slot heap.Slot) heap.Slot {
	if !slot.IsHeap() || !c.heap.IsCollectionTarget(slot.Addr) {
		return slot
	}

	obj, ok := c.heap.ObjectContaining(slot.Addr)
	if !ok || !c.heap.Header(obj).Has(heap.IsMoved) {
		return slot
	}

	return heap.HeapSlot(c.heap.ForwardingAddress(obj) + (slot.Addr - obj))
}

// LoadPointer reads a pointer member of obj through the read barrier
func (c *Collector) LoadPointer(obj heap.Addr, word int) (heap.Addr, error) {
	value, err := c.ReadBarrier(heap.HeapSlot(obj.Words(word)))
	return value.Pointer(), err
}

// StorePointer writes a pointer member of obj through the write barrier
func (c *Collector) StorePointer(obj heap.Addr, word int, value heap.Addr) {
	c.WriteBarrier(heap.HeapSlot(obj.Words(word)), heap.PointerReg(value))
}

// LoadWord reads a non-pointer member of obj. No barrier is needed.
func (c *Collector) LoadWord(obj heap.Addr, word int) heap.Reg {
	return c.LoadValue(heap.HeapSlot(obj.Words(word)))
}

// StoreWord writes a non-pointer member of obj
func (c *Collector) StoreWord(obj heap.Addr, word int, value heap.Reg) {
	c.StoreValue(heap.HeapSlot(obj.Words(word)), value)
}

// LoadValue reads a slot that holds a non-pointer value
func (c *Collector) LoadValue(slot heap.Slot) heap.Reg {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.State() == StateMinorGC {
		slot = c.resolveSlot(slot)
	}
	return c.heap.LoadSlot(slot)
}

// StoreValue writes a non-pointer value into slot. A slot that used to hold a pointer stops being
// remembered, and the overwritten pointer is still shaded if marking is in progress. While a minor cycle
// runs, any entry the cycle queued for the slot is dropped so the value is never read as a reference.
func (c *Collector) StoreValue(slot heap.Slot, value heap.Reg) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.State() == StateMinorGC {
		slot = c.resolveSlot(slot)
		c.retired.Retire(slot)
	}
	if c.heap.ElderPhase() == heap.ElderMarking {
		c.shade(c.heap.LoadSlot(slot).Pointer())
	}
	if slot.IsHeap() && c.heap.RegionOf(slot.Addr) != heap.RegionMinor {
		c.remembered.Remove(slot.Addr)
	}

	c.heap.StoreSlot(slot, value)
}
