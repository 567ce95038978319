package gc

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/regvm/vmheap/heap"
)

// RootHandle identifies a registered root so that it can be unregistered
type RootHandle uint64

// RootScanner reports every root slot the collector cannot otherwise enumerate, such as registers and
// auto stack objects. It is invoked once per collection cycle, before that cycle's first unit of work.
type RootScanner func(visit func(slot heap.Slot))

type rootSet struct {
	mutex    sync.Mutex
	explicit *swiss.Map[RootHandle, *heap.Reg]
	scanners *swiss.Map[RootHandle, RootScanner]
	next     RootHandle
}

func (r *rootSet) Init() {
	r.explicit = swiss.NewMap[RootHandle, *heap.Reg](42)
	r.scanners = swiss.NewMap[RootHandle, RootScanner](42)
	r.next = 1
}

func (r *rootSet) Register(slot *heap.Reg) RootHandle {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	handle := r.next
	r.next++
	r.explicit.Put(handle, slot)
	return handle
}

// Unregister removes a root and returns the slot it referred to
func (r *rootSet) Unregister(handle RootHandle) (*heap.Reg, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slot, ok := r.explicit.Get(handle)
	if ok {
		r.explicit.Delete(handle)
	}
	return slot, ok
}

func (r *rootSet) AddScanner(scanner RootScanner) RootHandle {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	handle := r.next
	r.next++
	r.scanners.Put(handle, scanner)
	return handle
}

func (r *rootSet) RemoveScanner(handle RootHandle) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.scanners.Delete(handle)
}

func (r *rootSet) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.explicit.Count()
}

// Collect invokes every scanner once and returns their slots along with every explicit root
func (r *rootSet) Collect() []heap.Slot {
	r.mutex.Lock()
	scanners := make([]RootScanner, 0, r.scanners.Count())
	r.scanners.Iter(func(k RootHandle, v RootScanner) (stop bool) {
		scanners = append(scanners, v)
		return false
	})

	slots := make([]heap.Slot, 0, r.explicit.Count())
	r.explicit.Iter(func(k RootHandle, v *heap.Reg) (stop bool) {
		slots = append(slots, heap.RegSlot(v))
		return false
	})
	r.mutex.Unlock()

	for _, scanner := range scanners {
		scanner(func(slot heap.Slot) {
			slots = append(slots, slot)
		})
	}

	return slots
}
