package metadata

// AllocationRequestType is an enum that indicates the type of allocation that is being made.
// It is returned in AllocationRequest from CreateAllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestFreeList indicates that the allocation request was sourced from metadata.SlabBlockMetadata
	// and reuses the slot at the head of its free list
	AllocationRequestFreeList AllocationRequestType = iota
	// AllocationRequestFrontier indicates that the allocation request was sourced from metadata.SlabBlockMetadata
	// and claims the first slot that has never been handed out
	AllocationRequestFrontier
	// AllocationRequestEndOfStack indicates that the allocation request was sourced from metadata.LinearBlockMetadata
	// and that it will be bumped onto the end of the stack
	AllocationRequestEndOfStack
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestFreeList:   "FreeList",
	AllocationRequestFrontier:   "Frontier",
	AllocationRequestEndOfStack: "EndOfStack",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to allocate new memory. This allocation can be applied to the actual memory system consuming
// memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size the total size of the allocation, maybe larger than what was originally requested
	Size int
	// Offset is the offset in bytes within the block at which the allocation will be placed
	Offset int
	// Type identifies the sort of allocation this request represents (and can be used
	// to identify the BlockMetadata implementation used to generate this request).
	Type AllocationRequestType
}
