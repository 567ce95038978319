package heap

import (
	"github.com/dolthub/swiss"
	"github.com/regvm/vmheap/internal/utils"
	"golang.org/x/exp/slices"
)

// regionMap resolves addresses to the span that owns them. Single-page and auto spans are found by page id in
// constant time; huge spans are kept ordered by address and found by binary search.
type regionMap struct {
	mutex utils.OptionalRWMutex
	pages *swiss.Map[PageID, *span]
	huge  []*span
}

func (m *regionMap) Init(useMutex bool) {
	m.mutex.SetExternallySynchronized(!useMutex)
	m.pages = swiss.NewMap[PageID, *span](42)
}

func compareSpanBase(s *span, target Addr) int {
	switch {
	case s.base < target:
		return -1
	case s.base > target:
		return 1
	default:
		return 0
	}
}

func (m *regionMap) Insert(s *span) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if s.kind == RegionHuge {
		index, _ := slices.BinarySearchFunc(m.huge, s.base, compareSpanBase)
		m.huge = slices.Insert(m.huge, index, s)
		return
	}

	for page := 0; page < s.pages; page++ {
		m.pages.Put(s.base.Page()+PageID(page), s)
	}
}

func (m *regionMap) Remove(s *span) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if s.kind == RegionHuge {
		index, found := slices.BinarySearchFunc(m.huge, s.base, compareSpanBase)
		if found {
			m.huge = slices.Delete(m.huge, index, index+1)
		}
		return
	}

	for page := 0; page < s.pages; page++ {
		m.pages.Delete(s.base.Page() + PageID(page))
	}
}

// Lookup returns the span containing addr, or nil if no span does
func (m *regionMap) Lookup(addr Addr) *span {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if s, ok := m.pages.Get(addr.Page()); ok {
		return s
	}

	// The last huge span starting at or below addr is the only one that can contain it
	index, found := slices.BinarySearchFunc(m.huge, addr, compareSpanBase)
	if !found {
		index--
	}
	if index >= 0 && index < len(m.huge) && m.huge[index].contains(addr) {
		return m.huge[index]
	}

	return nil
}

func (m *regionMap) PageCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.pages.Count()
}

func (m *regionMap) HugeCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.huge)
}
