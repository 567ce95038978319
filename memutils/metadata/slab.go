package metadata

import (
	"math/bits"
	"sync/atomic"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/regvm/vmheap/memutils"
)

// NoLink terminates an intrusive free list
const NoLink int = -1

// FreeLinks lets a SlabBlockMetadata keep its free list inside the slots it manages: the link to the
// next free slot is written into the first word of each free slot, so the metadata itself costs no memory
// per free slot.
type FreeLinks interface {
	// ReadLink returns the offset of the free slot that follows the free slot at offset, or NoLink
	ReadLink(offset int) int
	// WriteLink records next as the successor of the free slot at offset
	WriteLink(offset int, next int)
}

// SlabBlockMetadata is a BlockMetadata implementation for a block divided into equal-sized slots. Every
// allocation occupies exactly one slot. Slots that have never been handed out sit past a frontier and
// are claimed in offset order; freed slots are pushed onto an intrusive free list and reused first.
//
// IsAllocated may be called concurrently with Alloc and Free. Every other method requires external
// synchronization.
type SlabBlockMetadata struct {
	BlockMetadataBase

	slotSize   int
	slotCount  int
	links      FreeLinks
	freeHead   int
	freeCount  int
	frontier   int
	allocCount int
	allocated  []atomic.Uint64
}

var _ BlockMetadata = &SlabBlockMetadata{}

// NewSlabBlockMetadata creates a new SlabBlockMetadata whose slots are slotSize bytes. The free list is
// threaded through links.
func NewSlabBlockMetadata(slotSize int, links FreeLinks) *SlabBlockMetadata {
	if slotSize < memutils.WordSize {
		panic("slab slots must be able to hold a free list link")
	}

	return &SlabBlockMetadata{
		slotSize: slotSize,
		links:    links,
		freeHead: NoLink,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *SlabBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.slotCount = size / m.slotSize
	m.allocated = make([]atomic.Uint64, (m.slotCount+63)/64)
	m.Clear()
}

// SlotSize is the size in bytes of each slot in this block
func (m *SlabBlockMetadata) SlotSize() int { return m.slotSize }

// SlotCount is the number of slots that fit in this block
func (m *SlabBlockMetadata) SlotCount() int { return m.slotCount }

// IsAllocated reports whether the slot beginning at offset is currently handed out
func (m *SlabBlockMetadata) IsAllocated(offset int) bool {
	if offset < 0 || offset%m.slotSize != 0 || offset/m.slotSize >= m.slotCount {
		return false
	}
	index := offset / m.slotSize
	return m.allocated[index/64].Load()&(1<<(index%64)) != 0
}

// SlotOffsetFor returns the offset of the slot that contains the byte at offset
func (m *SlabBlockMetadata) SlotOffsetFor(offset int) int {
	return (offset / m.slotSize) * m.slotSize
}

func (m *SlabBlockMetadata) setAllocated(index int, value bool) {
	word := &m.allocated[index/64]
	bit := uint64(1) << (index % 64)
	for {
		old := word.Load()
		updated := old &^ bit
		if value {
			updated = old | bit
		}
		if word.CompareAndSwap(old, updated) {
			return
		}
	}
}

func (m *SlabBlockMetadata) Validate() error {
	var bitCount int
	for i := range m.allocated {
		bitCount += bits.OnesCount64(m.allocated[i].Load())
	}

	if bitCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but %d slots are marked allocated", m.allocCount, bitCount)
	}

	if m.frontier > m.slotCount {
		return errors.Errorf("the frontier %d is beyond the slot count %d", m.frontier, m.slotCount)
	}

	listCount := 0
	for offset := m.freeHead; offset != NoLink; offset = m.links.ReadLink(offset) {
		if offset%m.slotSize != 0 || offset/m.slotSize >= m.frontier {
			return errors.Errorf("free list entry at offset %d is not a slot below the frontier", offset)
		}
		if m.IsAllocated(offset) {
			return errors.Errorf("slot at offset %d is in the free list but is allocated", offset)
		}

		listCount++
		if listCount > m.slotCount {
			return errors.New("the free list contains a cycle")
		}
	}

	if listCount != m.freeCount {
		return errors.Errorf("the free list holds %d slots, but the metadata expected %d", listCount, m.freeCount)
	}

	if m.allocCount+m.freeCount != m.frontier {
		return errors.Errorf("%d allocated slots and %d free list slots do not add up to the frontier %d", m.allocCount, m.freeCount, m.frontier)
	}

	return nil
}

func (m *SlabBlockMetadata) AllocationCount() int { return m.allocCount }

func (m *SlabBlockMetadata) FreeRegionsCount() int {
	count := 0
	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, free bool) error {
		if free {
			count++
		}
		return nil
	})
	return count
}

func (m *SlabBlockMetadata) SumFreeSize() int {
	return (m.slotCount - m.allocCount) * m.slotSize
}

func (m *SlabBlockMetadata) MayHaveFreeBlock(size int) bool {
	return size <= m.slotSize && m.allocCount < m.slotCount
}

func (m *SlabBlockMetadata) IsEmpty() bool { return m.allocCount == 0 }

func (m *SlabBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, free bool) error) error {
	freeStart := NoLink
	for index := 0; index < m.slotCount; index++ {
		offset := index * m.slotSize
		if !m.IsAllocated(offset) {
			if freeStart == NoLink {
				freeStart = offset
			}
			continue
		}

		if freeStart != NoLink {
			if err := handleBlock(NoAllocation, freeStart, offset-freeStart, true); err != nil {
				return err
			}
			freeStart = NoLink
		}

		if err := handleBlock(BlockAllocationHandle(index), offset, m.slotSize, false); err != nil {
			return err
		}
	}

	if freeStart != NoLink {
		return handleBlock(NoAllocation, freeStart, m.slotCount*m.slotSize-freeStart, true)
	}

	return nil
}

func (m *SlabBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	offset := int(allocHandle) * m.slotSize
	if !m.IsAllocated(offset) {
		return 0, errors.Wrapf(memutils.ErrInvalidHandle, "slot %d", allocHandle)
	}
	return offset, nil
}

// HandleForOffset returns the handle of the slot beginning at offset
func (m *SlabBlockMetadata) HandleForOffset(offset int) BlockAllocationHandle {
	return BlockAllocationHandle(offset / m.slotSize)
}

func (m *SlabBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddSpan(m.size)
	stats.SlotCount += m.slotCount

	_ = m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddObject(size)
		}
		return nil
	})
}

func (m *SlabBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.AddSpan(m.size)
	stats.ObjectCount += m.allocCount
	stats.ObjectBytes += m.allocCount * m.slotSize
}

func (m *SlabBlockMetadata) Clear() {
	for i := range m.allocated {
		m.allocated[i].Store(0)
	}
	m.freeHead = NoLink
	m.freeCount = 0
	m.frontier = 0
	m.allocCount = 0
}

func (m *SlabBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.SumFreeSize(), m.AllocationCount(), m.FreeRegionsCount())
	json.Name("SlotSize").Int(m.slotSize)
}

func (m *SlabBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Errorf("invalid allocSize: %d", allocSize)
	}

	if allocSize > m.slotSize {
		return false, allocRequest, errors.Errorf("allocSize %d does not fit in slots of %d bytes", allocSize, m.slotSize)
	}

	if allocAlignment > uint(m.slotSize) || m.slotSize%int(allocAlignment) != 0 {
		return false, allocRequest, errors.Errorf("slots of %d bytes cannot honor an alignment of %d", m.slotSize, allocAlignment)
	}

	memutils.DebugCheckPow2(allocAlignment, "allocAlignment")
	memutils.DebugValidate(m)

	if m.freeHead != NoLink {
		allocRequest.Type = AllocationRequestFreeList
		allocRequest.Offset = m.freeHead
	} else if m.frontier < m.slotCount {
		allocRequest.Type = AllocationRequestFrontier
		allocRequest.Offset = m.frontier * m.slotSize
	} else {
		return false, allocRequest, nil
	}

	allocRequest.Size = m.slotSize
	allocRequest.BlockAllocationHandle = BlockAllocationHandle(allocRequest.Offset / m.slotSize)
	return true, allocRequest, nil
}

func (m *SlabBlockMetadata) Alloc(request AllocationRequest) error {
	switch request.Type {
	case AllocationRequestFreeList:
		if request.Offset != m.freeHead {
			return errors.Errorf("free list request for offset %d is stale, the free list head is now %d", request.Offset, m.freeHead)
		}
		m.freeHead = m.links.ReadLink(request.Offset)
		m.freeCount--
	case AllocationRequestFrontier:
		if request.Offset != m.frontier*m.slotSize {
			return errors.Errorf("frontier request for offset %d is stale, the frontier is now at %d", request.Offset, m.frontier*m.slotSize)
		}
		m.frontier++
	default:
		return errors.Errorf("slab metadata cannot commit a request of type %s", request.Type)
	}

	m.setAllocated(request.Offset/m.slotSize, true)
	m.allocCount++

	memutils.DebugValidate(m)
	return nil
}

func (m *SlabBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	offset := int(allocHandle) * m.slotSize
	if !m.IsAllocated(offset) {
		return errors.Wrapf(memutils.ErrInvalidHandle, "slot %d is not allocated", allocHandle)
	}

	m.setAllocated(int(allocHandle), false)
	m.allocCount--
	m.links.WriteLink(offset, m.freeHead)
	m.freeHead = offset
	m.freeCount++

	memutils.DebugValidate(m)
	return nil
}
