package heap_test

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/memutils"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type testTypes struct {
	table     *heap.TypeTable
	small     heap.TypeToken
	node      heap.TypeToken
	finalized heap.TypeToken
	big       heap.TypeToken
	huge      heap.TypeToken
}

func newTestHeap(t *testing.T, options heap.CreateOptions) (*heap.Heap, testTypes) {
	table := heap.NewTypeTable()
	types := testTypes{
		table: table,
		small: table.MustRegister(heap.StructType("Small", 1)),
		node:  table.MustRegister(heap.StructType("Node", 3, 0, 1)),
		big:   table.MustRegister(heap.StaticListType("Big", 300, false)),
		huge:  table.MustRegister(heap.StaticListType("Huge", 600, true)),
	}

	finalized := heap.StructType("Finalized", 2)
	finalized.Finalizer = func(mem heap.WordReader, obj heap.Addr) {}
	types.finalized = table.MustRegister(finalized)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h, err := heap.New(logger, table, options)
	require.NoError(t, err)

	return h, types
}

func TestAllocateRegionSelection(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	testCases := map[string]struct {
		token  heap.TypeToken
		region heap.RegionKind
		minor  bool
	}{
		"Small":     {token: types.small, region: heap.RegionMinor, minor: true},
		"Node":      {token: types.node, region: heap.RegionMinor, minor: true},
		"Finalized": {token: types.finalized, region: heap.RegionMajor},
		"Big":       {token: types.big, region: heap.RegionMajor},
		"Huge":      {token: types.huge, region: heap.RegionHuge},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			obj, err := h.Allocate(testCase.token)
			require.NoError(t, err)
			require.NotEqual(t, heap.NullAddr, obj)
			require.Zero(t, obj%8)

			require.Equal(t, testCase.region, h.RegionOf(obj))
			header := h.Header(obj)
			require.Equal(t, uint32(testCase.token), header.TypeID())
			require.Equal(t, testCase.minor, header.Has(heap.IsMinor))
			require.Equal(t, uint8(0), header.Age())
			require.True(t, h.IsObject(obj))
		})
	}

	require.NoError(t, h.Validate())
}

func TestAllocateZeroesPayload(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	obj, err := h.Allocate(types.node)
	require.NoError(t, err)
	for word := 0; word < 3; word++ {
		h.Store(obj.Words(word), heap.IntReg(int64(word+10)))
	}
	require.Equal(t, int64(11), h.Load(obj.Words(1)).Int())

	// Nothing collects Major objects here, so free one by hand and reuse the slot
	fin, err := h.Allocate(types.finalized)
	require.NoError(t, err)
	h.Store(fin, heap.IntReg(99))
	keep, err := h.Allocate(types.finalized)
	require.NoError(t, err)

	freed, err := h.FreeObject(fin)
	require.NoError(t, err)
	require.Positive(t, freed)
	require.False(t, h.IsObject(fin))

	again, err := h.Allocate(types.finalized)
	require.NoError(t, err)
	require.Equal(t, fin, again)
	require.Equal(t, heap.Reg(0), h.Load(again))
	require.True(t, h.IsObject(keep))
}

func TestBigObjectSizeComesFromTypes(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	obj, err := h.Allocate(types.big)
	require.NoError(t, err)

	header := h.Header(obj)
	require.True(t, header.IsBig())

	words, err := h.SizeOf(header)
	require.NoError(t, err)
	require.Equal(t, 300, words)
}

func TestHugeObjectTracking(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	before := h.MinorPageCount()
	obj, err := h.Allocate(types.huge)
	require.NoError(t, err)

	require.Equal(t, heap.RegionHuge, h.RegionOf(obj))
	require.Equal(t, heap.RegionHuge, h.RegionOf(obj.Words(599)))
	require.Equal(t, before, h.MinorPageCount())

	// Interior words resolve to the single object of the span
	container, ok := h.ObjectContaining(obj.Words(300))
	require.True(t, ok)
	require.Equal(t, obj, container)

	_, err = h.FreeObject(obj)
	require.NoError(t, err)
	require.False(t, h.IsTracked(obj))
}

func TestUntrackedAddressPanics(t *testing.T) {
	h, _ := newTestHeap(t, heap.CreateOptions{})

	require.Panics(t, func() {
		h.RegionOf(0x8)
	})
	require.Panics(t, func() {
		h.Load(0x123458)
	})
	require.False(t, h.IsTracked(0x8))
}

func TestUnalignedAccessPanics(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	obj, err := h.Allocate(types.node)
	require.NoError(t, err)
	require.Panics(t, func() {
		h.Load(obj + 3)
	})
}

func TestMaxPagesExhaustion(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{MaxPages: 2})

	_, err := h.Allocate(types.huge)
	require.NoError(t, err)

	_, err = h.Allocate(types.small)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
}

func TestFlipAndReleaseTargets(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	old, err := h.Allocate(types.node)
	require.NoError(t, err)
	require.False(t, h.IsCollectionTarget(old))

	require.Equal(t, 1, h.FlipMinor())
	require.True(t, h.IsCollectionTarget(old))
	require.Equal(t, 0, h.MinorPageCount())

	h.Store(old, heap.IntReg(42))
	copied, err := h.Relocate(old, heap.RegionMinor, h.Header(old).WithAge(1))
	require.NoError(t, err)
	require.False(t, h.IsCollectionTarget(copied))
	require.Equal(t, int64(42), h.Load(copied).Int())
	require.Equal(t, uint8(1), h.Header(copied).Age())
	require.True(t, h.Header(copied).Has(heap.IsMinor))

	promoted, err := h.Relocate(copied, heap.RegionMajor, h.Header(copied))
	require.NoError(t, err)
	require.Equal(t, heap.RegionMajor, h.RegionOf(promoted))
	require.False(t, h.Header(promoted).Has(heap.IsMinor))

	pages, objects := h.ReleaseTargets()
	require.Equal(t, 1, pages)
	require.Equal(t, 1, objects)
	require.False(t, h.IsTracked(old))
	require.NoError(t, h.Validate())
}

func TestElderAllocationColor(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	h.SetElderPhase(heap.ElderMarking)
	marked, err := h.Allocate(types.finalized)
	require.NoError(t, err)
	require.Equal(t, heap.Black, h.Header(marked).Color())

	bases := h.BeginSweep()
	require.Len(t, bases, 1)

	unswept, err := h.Allocate(types.finalized)
	require.NoError(t, err)
	require.Equal(t, heap.Black, h.Header(unswept).Color())

	h.FinishSweep(bases[0])
	swept, err := h.Allocate(types.finalized)
	require.NoError(t, err)
	require.Equal(t, heap.White, h.Header(swept).Color())

	require.Empty(t, h.SpanObjects(bases[0]))
	h.SetElderPhase(heap.ElderIdle)
}

func TestStaticLazyInitialization(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	var calls atomic.Int32
	static, err := h.AllocateStatic(types.node, func(obj heap.Addr) error {
		calls.Add(1)
		h.Store(obj, heap.IntReg(7))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, heap.StaticUninitialized, static.State())
	require.Equal(t, heap.RegionStatic, h.RegionOf(static.Addr()))

	var wg sync.WaitGroup
	addrs := make([]heap.Addr, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addrs[i], errs[i] = h.LoadStatic(static)
		}(i)
	}
	wg.Wait()

	for i := range addrs {
		require.NoError(t, errs[i])
		require.Equal(t, static.Addr(), addrs[i])
	}

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, heap.StaticReady, static.State())
	require.Equal(t, int64(7), h.Load(static.Addr()).Int())
}

func TestStaticInitializerFailureRetries(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	fail := true
	static, err := h.AllocateStatic(types.small, func(obj heap.Addr) error {
		if fail {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)

	_, err = h.LoadStatic(static)
	require.ErrorContains(t, err, "not yet")
	require.Equal(t, heap.StaticUninitialized, static.State())

	fail = false
	addr, err := h.LoadStatic(static)
	require.NoError(t, err)
	require.Equal(t, static.Addr(), addr)
	require.Len(t, h.Statics(), 1)
}

func TestAutoChunk(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	chunk, err := h.MapAutoChunk(1)
	require.NoError(t, err)
	require.Equal(t, heap.RegionAuto, h.RegionOf(chunk.Base()))

	first, ok, err := h.AllocateAuto(chunk, types.node)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, chunk.Base()+8, first)

	mark := chunk.Mark()
	second, ok, err := h.AllocateAuto(chunk, types.small)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []heap.Addr{first, second}, h.AutoObjects(chunk))

	popped, err := h.RewindAuto(chunk, mark)
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{second}, popped)

	_, ok, err = h.AllocateAuto(chunk, types.huge)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, h.UnmapAutoChunk(chunk))
	require.Error(t, h.Destroy())

	_, err = h.RewindAuto(chunk, 0)
	require.NoError(t, err)
	require.NoError(t, h.UnmapAutoChunk(chunk))
	require.NoError(t, h.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	h, types := newTestHeap(t, heap.CreateOptions{})

	_, err := h.Allocate(types.node)
	require.NoError(t, err)
	_, err = h.Allocate(types.huge)
	require.NoError(t, err)

	var stats heap.Statistics
	h.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.Regions[heap.RegionMinor].ObjectCount)
	require.Equal(t, 1, stats.Regions[heap.RegionHuge].ObjectCount)
	require.Equal(t, 2, stats.Total.ObjectCount)

	str := h.BuildStatsString(true)
	require.True(t, strings.HasPrefix(str, "{"))
	require.Contains(t, str, `"Minor"`)
	require.Contains(t, str, `"TypeName":"Huge"`)
}

func TestVisitPointerSlots(t *testing.T) {
	table := heap.NewTypeTable()
	wide := table.MustRegister(heap.StructType("Wide", 12, 1, 7, 8, 11))
	list := table.MustRegister(heap.DynamicListType("List", 4, true))

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h, err := heap.New(logger, table, heap.CreateOptions{})
	require.NoError(t, err)

	obj, err := h.Allocate(wide)
	require.NoError(t, err)

	var slots []heap.Addr
	require.NoError(t, h.VisitPointerSlots(obj, func(slot heap.Addr) {
		slots = append(slots, slot)
	}))
	require.Equal(t, []heap.Addr{obj.Words(1), obj.Words(7), obj.Words(8), obj.Words(11)}, slots)

	listObj, err := h.Allocate(list)
	require.NoError(t, err)
	h.Store(listObj.Words(heap.DynamicListLengthWord), heap.IntReg(2))
	h.Store(listObj.Words(heap.DynamicListElement(1)), heap.PointerReg(obj))

	var values []heap.Addr
	require.NoError(t, h.VisitPointers(listObj, func(slot heap.Addr, value heap.Addr) {
		require.Equal(t, listObj.Words(heap.DynamicListElement(1)), slot)
		values = append(values, value)
	}))
	require.Equal(t, []heap.Addr{obj}, values)
}
