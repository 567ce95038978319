package metadata_test

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/regvm/vmheap/memutils"
	"github.com/regvm/vmheap/memutils/metadata"
	"github.com/stretchr/testify/require"
)

type fakeLinks map[int]int

func (l fakeLinks) ReadLink(offset int) int {
	next, ok := l[offset]
	if !ok {
		return metadata.NoLink
	}
	return next
}

func (l fakeLinks) WriteLink(offset int, next int) {
	l[offset] = next
}

func allocSlot(t *testing.T, slab *metadata.SlabBlockMetadata, expectedType metadata.AllocationRequestType) metadata.AllocationRequest {
	success, request, err := slab.CreateAllocationRequest(16, 8)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, expectedType, request.Type)

	require.NoError(t, slab.Alloc(request))
	return request
}

func TestSlabAllocFrontierThenFreeList(t *testing.T) {
	links := fakeLinks{}
	slab := metadata.NewSlabBlockMetadata(16, links)
	slab.Init(64)
	require.Equal(t, 4, slab.SlotCount())
	require.True(t, slab.IsEmpty())

	var offsets []int
	for i := 0; i < 4; i++ {
		request := allocSlot(t, slab, metadata.AllocationRequestFrontier)
		offsets = append(offsets, request.Offset)
	}
	require.Equal(t, []int{0, 16, 32, 48}, offsets)

	success, _, err := slab.CreateAllocationRequest(16, 8)
	require.NoError(t, err)
	require.False(t, success)
	require.False(t, slab.MayHaveFreeBlock(16))

	require.NoError(t, slab.Free(slab.HandleForOffset(16)))
	require.NoError(t, slab.Free(slab.HandleForOffset(48)))
	require.False(t, slab.IsAllocated(48))
	require.Equal(t, 16, links[48])

	request := allocSlot(t, slab, metadata.AllocationRequestFreeList)
	require.Equal(t, 48, request.Offset)
	require.True(t, slab.IsAllocated(48))
	require.NoError(t, slab.Validate())

	var stats memutils.DetailedStatistics
	stats.Clear()
	slab.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			SpanCount:   1,
			SpanBytes:   64,
			ObjectCount: 3,
			ObjectBytes: 48,
		},
		SlotCount:        4,
		FreeRangeCount:   1,
		ObjectSizeMin:    16,
		ObjectSizeMax:    16,
		FreeRangeSizeMin: 16,
		FreeRangeSizeMax: 16,
	}, stats)
	require.Equal(t, 16, slab.SumFreeSize())
	require.Equal(t, 1, slab.FreeRegionsCount())
}

func TestSlabRejectsBadRequests(t *testing.T) {
	testCases := map[string]struct {
		size      int
		alignment uint
	}{
		"ZeroSize":        {size: 0, alignment: 8},
		"TooLarge":        {size: 17, alignment: 8},
		"AlignmentTooBig": {size: 8, alignment: 32},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			slab := metadata.NewSlabBlockMetadata(16, fakeLinks{})
			slab.Init(64)

			success, _, err := slab.CreateAllocationRequest(testCase.size, testCase.alignment)
			require.Error(t, err)
			require.False(t, success)
		})
	}
}

func TestSlabStaleRequest(t *testing.T) {
	slab := metadata.NewSlabBlockMetadata(16, fakeLinks{})
	slab.Init(64)

	success, stale, err := slab.CreateAllocationRequest(16, 8)
	require.NoError(t, err)
	require.True(t, success)

	allocSlot(t, slab, metadata.AllocationRequestFrontier)
	require.Error(t, slab.Alloc(stale))
}

func TestSlabFreeInvalidHandle(t *testing.T) {
	slab := metadata.NewSlabBlockMetadata(16, fakeLinks{})
	slab.Init(64)

	err := slab.Free(2)
	require.ErrorIs(t, err, memutils.ErrInvalidHandle)

	_, err = slab.AllocationOffset(metadata.BlockAllocationHandle(math.MaxInt32))
	require.ErrorIs(t, err, memutils.ErrInvalidHandle)
}

func TestSlabClear(t *testing.T) {
	slab := metadata.NewSlabBlockMetadata(32, fakeLinks{})
	slab.Init(128)

	allocSlot(t, slab, metadata.AllocationRequestFrontier)
	allocSlot(t, slab, metadata.AllocationRequestFrontier)
	require.Equal(t, 2, slab.AllocationCount())

	slab.Clear()
	require.True(t, slab.IsEmpty())
	require.Equal(t, 128, slab.SumFreeSize())
	require.NoError(t, slab.Validate())

	request := allocSlot(t, slab, metadata.AllocationRequestFrontier)
	require.Equal(t, 0, request.Offset)
}

func TestSlabConcurrentIsAllocated(t *testing.T) {
	slab := metadata.NewSlabBlockMetadata(16, fakeLinks{})
	slab.Init(4096)

	// slot 0 stays allocated throughout while its neighbours in the same bitmap word churn
	pinned := allocSlot(t, slab, metadata.AllocationRequestFrontier)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var lost atomic.Int32
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if !slab.IsAllocated(pinned.Offset) {
				lost.Add(1)
			}
			slab.IsAllocated(16)
		}
	}()

	for round := 0; round < 500; round++ {
		var requests []metadata.AllocationRequest
		for i := 0; i < 32; i++ {
			success, request, err := slab.CreateAllocationRequest(16, 8)
			require.NoError(t, err)
			require.True(t, success)
			require.NoError(t, slab.Alloc(request))
			requests = append(requests, request)
		}
		for _, request := range requests {
			require.NoError(t, slab.Free(request.BlockAllocationHandle))
		}
	}
	close(stop)
	wg.Wait()

	require.Zero(t, lost.Load())
	require.Equal(t, 1, slab.AllocationCount())
	require.NoError(t, slab.Validate())
}
