package heap

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/memutils"
	"github.com/regvm/vmheap/memutils/metadata"
)

var pagePool = sync.Pool{
	New: func() any {
		return &span{words: make([]uint64, WordsPerPage)}
	},
}

// span is one or more contiguous pages owned by a single region. Slab spans are one page divided into
// equal slots; huge spans hold exactly one object; auto spans are bump-allocated stack chunks.
type span struct {
	base  Addr
	pages int
	kind  RegionKind
	words []uint64

	slotWords int
	slab      *metadata.SlabBlockMetadata
	linear    *metadata.LinearBlockMetadata

	// target is set on Minor pages being evacuated by the current minor cycle. Barriers read it without
	// holding the heap mutex.
	target atomic.Bool
	// swept is cleared on elder spans when a major sweep begins and set once the sweeper has visited them
	swept bool

	prev, next *span
}

var _ metadata.FreeLinks = &span{}

func (s *span) limit() Addr {
	return s.base + Addr(s.pages*PageSize)
}

func (s *span) contains(addr Addr) bool {
	return addr >= s.base && addr < s.limit()
}

func (s *span) wordIndex(addr Addr) int {
	if memutils.AlignDown(int(addr), memutils.WordSize) != int(addr) {
		panic(errors.AssertionFailedf("unaligned word access at %s", addr))
	}
	if !s.contains(addr) {
		panic(errors.AssertionFailedf("word access at %s is outside the %s span at %s", addr, s.kind, s.base))
	}
	return int(addr-s.base) / 8
}

func (s *span) load(addr Addr) Reg {
	return Reg(atomic.LoadUint64(&s.words[s.wordIndex(addr)]))
}

func (s *span) store(addr Addr, value Reg) {
	atomic.StoreUint64(&s.words[s.wordIndex(addr)], uint64(value))
}

func (s *span) compareAndSwap(addr Addr, old, new Reg) bool {
	return atomic.CompareAndSwapUint64(&s.words[s.wordIndex(addr)], uint64(old), uint64(new))
}

func (s *span) zero(addr Addr, words int) {
	start := s.wordIndex(addr)
	for i := start; i < start+words; i++ {
		atomic.StoreUint64(&s.words[i], 0)
	}
}

// ReadLink follows the free list link stored in the first word of the free slot at offset
func (s *span) ReadLink(offset int) int {
	next := Addr(atomic.LoadUint64(&s.words[offset/8]))
	if next == NullAddr {
		return metadata.NoLink
	}
	return int(next - s.base)
}

// WriteLink stores the address of the next free slot into the first word of the free slot at offset
func (s *span) WriteLink(offset int, next int) {
	var link Addr
	if next != metadata.NoLink {
		link = s.base + Addr(next)
	}
	atomic.StoreUint64(&s.words[offset/8], uint64(link))
}

// slotObject converts a slot offset within a slab span to the object pointer stored in that slot
func (s *span) slotObject(offset int) Addr {
	return s.base + Addr(offset) + 8
}

// objectSlot converts an object pointer in a slab span back to its slot offset
func (s *span) objectSlot(obj Addr) int {
	return s.slab.SlotOffsetFor(int(obj.Header() - s.base))
}

// isObject reports whether obj is the pointer of a live allocation in this span
func (s *span) isObject(obj Addr) bool {
	switch {
	case s.slab != nil:
		offset := int(obj.Header() - s.base)
		return s.slab.IsAllocated(offset)
	case s.kind == RegionHuge:
		return obj == s.base+8
	default:
		return s.contains(obj.Header())
	}
}

func (s *span) Validate() error {
	if s.base%PageSize != 0 {
		return errors.Newf("span base %s is not page aligned", s.base)
	}
	if len(s.words) != s.pages*WordsPerPage {
		return errors.Newf("span at %s spans %d pages but holds %d words", s.base, s.pages, len(s.words))
	}

	if s.slab != nil {
		if err := s.slab.Validate(); err != nil {
			return errors.Wrapf(err, "slab page at %s", s.base)
		}

		// Headers must agree with the page they live in
		return s.slab.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
			if free {
				return nil
			}
			header := ObjHeader(s.words[offset/8])
			if header.Has(IsMinor) != (s.kind == RegionMinor) {
				return errors.Newf("object at %s has header %s but lives in a %s page", s.slotObject(offset), header, s.kind)
			}
			return nil
		})
	}

	if s.linear != nil {
		return s.linear.Validate()
	}

	return nil
}
