package gc

import (
	"sync"

	"github.com/dolthub/swiss"
	"github.com/regvm/vmheap/heap"
)

// RememberedSet holds the addresses of non-Minor slots that may reference a Minor object. Insertions from
// any number of mutator threads are serialized by a short critical section.
//
// Slots that still reference a Minor object after a minor cycle processed them are carried: they are kept
// out of the live set until the next cycle starts, when MergeCarried moves them back in.
type RememberedSet struct {
	mutex   sync.Mutex
	entries *swiss.Map[heap.Addr, struct{}]
	carried *swiss.Map[heap.Addr, struct{}]
}

func NewRememberedSet() *RememberedSet {
	return &RememberedSet{
		entries: swiss.NewMap[heap.Addr, struct{}](42),
		carried: swiss.NewMap[heap.Addr, struct{}](42),
	}
}

// Insert records slot. Repeated inserts of the same slot collapse into one entry.
func (s *RememberedSet) Insert(slot heap.Addr) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries.Put(slot, struct{}{})
}

// Remove drops slot from both the live and carried sets
func (s *RememberedSet) Remove(slot heap.Addr) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries.Delete(slot)
	s.carried.Delete(slot)
}

func (s *RememberedSet) Contains(slot heap.Addr) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.entries.Has(slot)
}

func (s *RememberedSet) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.entries.Count()
}

func (s *RememberedSet) IsEmpty() bool {
	return s.Len() == 0
}

// Pop removes and returns an arbitrary entry
func (s *RememberedSet) Pop() (heap.Addr, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var slot heap.Addr
	var found bool
	s.entries.Iter(func(k heap.Addr, v struct{}) (stop bool) {
		slot = k
		found = true
		return true
	})

	if found {
		s.entries.Delete(slot)
	}
	return slot, found
}

// Carry sets slot aside for the next cycle
func (s *RememberedSet) Carry(slot heap.Addr) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.carried.Put(slot, struct{}{})
}

func (s *RememberedSet) CarriedLen() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.carried.Count()
}

// MergeCarried moves every carried slot into the live set
func (s *RememberedSet) MergeCarried() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := s.carried.Count()
	s.carried.Iter(func(k heap.Addr, v struct{}) (stop bool) {
		s.entries.Put(k, struct{}{})
		return false
	})
	s.carried.Clear()
	return count
}

// ForgetRange drops every live or carried slot in [start, end), which is about to stop being a valid slot
func (s *RememberedSet) ForgetRange(start, end heap.Addr) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	forgotten := 0
	for _, set := range []*swiss.Map[heap.Addr, struct{}]{s.entries, s.carried} {
		var doomed []heap.Addr
		set.Iter(func(k heap.Addr, v struct{}) (stop bool) {
			if k >= start && k < end {
				doomed = append(doomed, k)
			}
			return false
		})

		for _, slot := range doomed {
			set.Delete(slot)
		}
		forgotten += len(doomed)
	}

	return forgotten
}
