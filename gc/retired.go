package gc

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/regvm/vmheap/heap"
)

type addrRange struct {
	start, end heap.Addr
}

// retiredSlots records slots that stopped being valid pointer slots while a minor cycle was running: roots
// that were unregistered, slots overwritten with a non-pointer value, and released ranges. Mark Queue
// entries for them are skipped instead of being read as references.
type retiredSlots struct {
	mutex  sync.Mutex
	slots  *swiss.Map[heap.Slot, struct{}]
	ranges []addrRange
}

func (r *retiredSlots) Init() {
	r.slots = swiss.NewMap[heap.Slot, struct{}](42)
}

func (r *retiredSlots) Retire(slot heap.Slot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.slots.Put(slot, struct{}{})
}

// Restore undoes Retire for a slot that holds a reference again
func (r *retiredSlots) Restore(slot heap.Slot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.slots.Delete(slot)
}

func (r *retiredSlots) RetireRange(start, end heap.Addr) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.ranges = append(r.ranges, addrRange{start: start, end: end})
}

func (r *retiredSlots) Contains(slot heap.Slot) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.slots.Has(slot) {
		return true
	}
	if !slot.IsHeap() {
		return false
	}

	for _, released := range r.ranges {
		if slot.Addr >= released.start && slot.Addr < released.end {
			return true
		}
	}
	return false
}

func (r *retiredSlots) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.slots.Count() + len(r.ranges)
}

func (r *retiredSlots) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.slots.Count() > 0 {
		r.slots = swiss.NewMap[heap.Slot, struct{}](42)
	}
	r.ranges = r.ranges[:0]
}
