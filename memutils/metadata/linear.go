package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/regvm/vmheap/memutils"
	"golang.org/x/exp/slices"
)

// LinearBlockMetadata is a BlockMetadata implementation that represents a simple
// stack memory arena. Allocations are bumped onto the end of the block, and space only
// becomes available again when allocations are popped from the end, either one at a time
// with Free or en masse with Rewind.
type LinearBlockMetadata struct {
	BlockMetadataBase

	sumFreeSize    int
	top            int
	suballocations []Suballocation
}

var _ BlockMetadata = &LinearBlockMetadata{}

// NewLinearBlockMetadata creates a new, uninitialized LinearBlockMetadata
func NewLinearBlockMetadata() *LinearBlockMetadata {
	return &LinearBlockMetadata{
		suballocations: []Suballocation{},
	}
}

// SumFreeSize returns the number of free bytes of memory in the block.
func (m *LinearBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

// IsEmpty will return true if this block has no live suballocations
func (m *LinearBlockMetadata) IsEmpty() bool {
	return m.AllocationCount() == 0
}

// AllocationOffset accepts a BlockAllocationHandle that maps to a live allocation within the block
// and returns the offset in bytes within the block for that allocation.
func (m *LinearBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	if _, err := m.findSuballocation(int(allocHandle) - 1); err != nil {
		return 0, err
	}
	return int(allocHandle) - 1, nil
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *LinearBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

// Validate performs internal consistency checks on the metadata.
func (m *LinearBlockMetadata) Validate() error {
	offset := 0
	used := 0
	for i, suballoc := range m.suballocations {
		if suballoc.Offset < offset {
			return errors.Errorf("suballocation %d at offset %d overlaps the previous suballocation ending at %d", i, suballoc.Offset, offset)
		}
		if suballoc.Size < 1 {
			return errors.Errorf("suballocation %d at offset %d has invalid size %d", i, suballoc.Offset, suballoc.Size)
		}
		offset = suballoc.Offset + suballoc.Size
		used += suballoc.Size
	}

	if offset != m.top {
		return errors.Errorf("the stack top is %d, but the last suballocation ends at %d", m.top, offset)
	}

	if m.top > m.size {
		return errors.Errorf("the stack top %d is beyond the block size %d", m.top, m.size)
	}

	if m.sumFreeSize != m.size-used {
		return errors.Errorf("the free size of the metadata is %d, but the suballocations leave %d free", m.sumFreeSize, m.size-used)
	}

	return nil
}

// AllocationCount returns the number of suballocations currently live
func (m *LinearBlockMetadata) AllocationCount() int {
	return len(m.suballocations)
}

// FreeRegionsCount returns the number of alignment gaps plus the tail region, if any
func (m *LinearBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

// VisitAllRegions will call the provided callback once for each allocation and free region in
// the block.
func (m *LinearBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error {
	offset := 0
	for _, suballoc := range m.suballocations {
		if suballoc.Offset > offset {
			if err := handleBlock(NoAllocation, offset, suballoc.Offset-offset, true); err != nil {
				return err
			}
		}

		if err := handleBlock(BlockAllocationHandle(suballoc.Offset+1), suballoc.Offset, suballoc.Size, false); err != nil {
			return err
		}
		offset = suballoc.Offset + suballoc.Size
	}

	if offset < m.size {
		return handleBlock(NoAllocation, offset, m.size-offset, true)
	}

	return nil
}

func (m *LinearBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddSpan(m.size)

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddObject(size)
		}
		return nil
	})
}

func (m *LinearBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.AddSpan(m.size)
	stats.ObjectCount += len(m.suballocations)
	stats.ObjectBytes += m.size - m.sumFreeSize
}

func (m *LinearBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("Top").Int(m.top)
}

// MayHaveFreeBlock returns true if the space past the top of the stack can hold size bytes
func (m *LinearBlockMetadata) MayHaveFreeBlock(size int) bool {
	return m.size-m.top >= size
}

// Top returns the offset just past the last live suballocation
func (m *LinearBlockMetadata) Top() int { return m.top }

// Mark returns a value that can later be passed to Rewind to pop every allocation made after this call
func (m *LinearBlockMetadata) Mark() int {
	return len(m.suballocations)
}

// Rewind pops every allocation made since mark was taken and returns them in allocation order
func (m *LinearBlockMetadata) Rewind(mark int) ([]Suballocation, error) {
	if mark < 0 || mark > len(m.suballocations) {
		return nil, errors.Errorf("rewind mark %d is outside the live stack of %d allocations", mark, len(m.suballocations))
	}

	popped := make([]Suballocation, len(m.suballocations)-mark)
	copy(popped, m.suballocations[mark:])

	for _, suballoc := range popped {
		m.sumFreeSize += suballoc.Size
	}

	m.suballocations = m.suballocations[:mark]
	m.top = 0
	if mark > 0 {
		last := m.suballocations[mark-1]
		m.top = last.Offset + last.Size
	}

	memutils.DebugValidate(m)
	return popped, nil
}

func (m *LinearBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}

	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, allocRequest, err
	}

	offset := memutils.AlignUp(m.top, allocAlignment)
	if offset+allocSize > m.size {
		return false, allocRequest, nil
	}

	allocRequest.Type = AllocationRequestEndOfStack
	allocRequest.Offset = offset
	allocRequest.Size = allocSize
	allocRequest.BlockAllocationHandle = BlockAllocationHandle(offset + 1)
	return true, allocRequest, nil
}

func (m *LinearBlockMetadata) Alloc(req AllocationRequest) error {
	if req.Type != AllocationRequestEndOfStack {
		return errors.Errorf("linear metadata cannot commit a request of type %s", req.Type)
	}

	if req.Offset < m.top || req.Offset+req.Size > m.size {
		return errors.Errorf("request for offset %d is stale, the stack top is now at %d", req.Offset, m.top)
	}

	m.suballocations = append(m.suballocations, Suballocation{Offset: req.Offset, Size: req.Size})
	m.top = req.Offset + req.Size
	m.sumFreeSize -= req.Size

	memutils.DebugValidate(m)
	return nil
}

// Free pops a single suballocation. Only the most recent live allocation may be freed.
func (m *LinearBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	offset := int(allocHandle) - 1
	if len(m.suballocations) == 0 || m.suballocations[len(m.suballocations)-1].Offset != offset {
		return errors.Wrapf(memutils.ErrInvalidHandle, "offset %d is not the top of the stack", offset)
	}

	_, err := m.Rewind(len(m.suballocations) - 1)
	return err
}

func (m *LinearBlockMetadata) Clear() {
	m.sumFreeSize = m.size
	m.top = 0
	m.suballocations = m.suballocations[:0]
}

func (m *LinearBlockMetadata) findSuballocation(offset int) (*Suballocation, error) {
	index, found := slices.BinarySearchFunc(m.suballocations, offset, func(suballoc Suballocation, target int) int {
		return suballoc.Offset - target
	})
	if !found {
		return nil, errors.Wrapf(memutils.ErrInvalidHandle, "no suballocation at offset %d", offset)
	}

	return &m.suballocations[index], nil
}
