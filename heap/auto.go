package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/memutils/metadata"
	"golang.org/x/exp/slices"
)

// AutoChunk is a contiguous run of pages in the Auto region that an auto stack bump-allocates objects from.
// Objects in a chunk never move and are never collected: they are released when the frame that allocated
// them pops.
type AutoChunk struct {
	span *span
}

func (c *AutoChunk) Base() Addr  { return c.span.base }
func (c *AutoChunk) Limit() Addr { return c.span.limit() }
func (c *AutoChunk) Pages() int  { return c.span.pages }

// Mark returns a value that Rewind can later use to pop every object allocated after this call
func (c *AutoChunk) Mark() int { return c.span.linear.Mark() }

// Used returns the number of bytes between the chunk base and the top of its stack
func (c *AutoChunk) Used() int { return c.span.linear.Top() }

// MapAutoChunk maps a new chunk of at least the given number of pages into the Auto region
func (h *Heap) MapAutoChunk(pages int) (*AutoChunk, error) {
	if pages < 1 {
		return nil, errors.Newf("auto chunks must span at least one page, but %d were requested", pages)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	s, err := h.mapSpan(RegionAuto, pages, 0)
	if err != nil {
		return nil, err
	}

	s.linear = metadata.NewLinearBlockMetadata()
	s.linear.Init(pages * PageSize)
	h.autoSpans = append(h.autoSpans, s)

	return &AutoChunk{span: s}, nil
}

// UnmapAutoChunk releases a chunk. Every object in it must already have been popped.
func (h *Heap) UnmapAutoChunk(c *AutoChunk) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !c.span.linear.IsEmpty() {
		return errors.Newf("auto chunk at %s still holds %d objects", c.span.base, c.span.linear.AllocationCount())
	}

	index := slices.Index(h.autoSpans, c.span)
	if index < 0 {
		return errors.Newf("auto chunk at %s is not mapped", c.span.base)
	}
	h.autoSpans = slices.Delete(h.autoSpans, index, index+1)
	h.unmapSpan(c.span)
	return nil
}

// AllocateAuto bump-allocates a zeroed object of the given type in the chunk. It returns false if the chunk
// does not have room.
func (h *Heap) AllocateAuto(c *AutoChunk, token TypeToken) (Addr, bool, error) {
	info, err := h.types.Type(token)
	if err != nil {
		return NullAddr, false, err
	}

	words := info.PayloadWords() + 1
	success, request, err := c.span.linear.CreateAllocationRequest(words*8, 8)
	if err != nil || !success {
		return NullAddr, false, err
	}

	if err = c.span.linear.Alloc(request); err != nil {
		return NullAddr, false, err
	}

	obj := c.span.base + Addr(request.Offset) + 8
	c.span.zero(obj, words-1)
	c.span.store(obj.Header(), Reg(info.HeaderPrototype()))

	return obj, true, nil
}

// RewindAuto pops every object allocated in the chunk since mark was taken and returns them in allocation order
func (h *Heap) RewindAuto(c *AutoChunk, mark int) ([]Addr, error) {
	popped, err := c.span.linear.Rewind(mark)
	if err != nil {
		return nil, err
	}

	objects := make([]Addr, len(popped))
	for i, suballoc := range popped {
		objects[i] = c.span.base + Addr(suballoc.Offset) + 8
	}
	return objects, nil
}

// AutoObjects returns every live object in the chunk, in allocation order
func (h *Heap) AutoObjects(c *AutoChunk) []Addr {
	var objects []Addr
	_ = c.span.linear.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, free bool) error {
		if !free {
			objects = append(objects, c.span.base+Addr(offset)+8)
		}
		return nil
	})
	return objects
}
