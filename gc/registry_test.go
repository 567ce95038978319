package gc_test

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/heap/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

var errUnknownType = errors.New("unknown type")

type failingRegistry struct {
	small   heap.TypeToken
	list    heap.TypeToken
	holder  heap.TypeToken
	failing *atomic.Bool
}

// newCollectorWithRegistryMock backs the collector with a mocked registry that answers from a real type table
// until failing is set
func newCollectorWithRegistryMock(t *testing.T) (*gc.Collector, *heap.Heap, failingRegistry) {
	table := heap.NewTypeTable()
	types := failingRegistry{
		small:   table.MustRegister(heap.StructType("Small", 1)),
		list:    table.MustRegister(heap.DynamicListType("List", 4, true)),
		failing: &atomic.Bool{},
	}
	holder := heap.StructType("Holder", 2, 0)
	holder.Finalizer = func(mem heap.WordReader, obj heap.Addr) {}
	types.holder = table.MustRegister(holder)

	ctrl := gomock.NewController(t)
	registry := mocks.NewMockTypeRegistry(ctrl)
	registry.EXPECT().Type(gomock.Any()).DoAndReturn(func(token heap.TypeToken) (*heap.TypeInfo, error) {
		if types.failing.Load() {
			return nil, errUnknownType
		}
		return table.Type(token)
	}).AnyTimes()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h, err := heap.New(logger, registry, heap.CreateOptions{})
	require.NoError(t, err)

	c, err := gc.New(logger, h, gc.Options{})
	require.NoError(t, err)

	return c, h, types
}

func TestAllocateSurfacesRegistryFailure(t *testing.T) {
	c, _, types := newCollectorWithRegistryMock(t)

	_, err := c.Allocate(types.small)
	require.NoError(t, err)

	types.failing.Store(true)
	_, err = c.Allocate(types.small)
	require.ErrorIs(t, err, errUnknownType)
}

func TestEvacuationSurfacesRegistryFailure(t *testing.T) {
	c, h, types := newCollectorWithRegistryMock(t)

	// a native scanner means the copy can only be scanned through the registry
	list, err := c.Allocate(types.list)
	require.NoError(t, err)
	require.Equal(t, heap.RegionMinor, h.RegionOf(list))
	root := heap.PointerReg(list)
	c.RegisterRoot(&root)

	types.failing.Store(true)
	c.RequestMinor()
	_, err = c.SingleThreadStep()
	require.ErrorIs(t, err, errUnknownType)
}

func TestSweepSurfacesRegistryFailure(t *testing.T) {
	c, h, types := newCollectorWithRegistryMock(t)

	dead, err := c.Allocate(types.holder)
	require.NoError(t, err)
	require.Equal(t, heap.RegionMajor, h.RegionOf(dead))

	c.RequestFull()
	for h.ElderPhase() != heap.ElderSweeping {
		_, err := c.SingleThreadStep()
		require.NoError(t, err)
	}

	types.failing.Store(true)
	for steps := 0; steps < 100; steps++ {
		done, err := c.SingleThreadStep()
		if err != nil {
			require.ErrorIs(t, err, errUnknownType)
			require.True(t, h.IsObject(dead))
			return
		}
		require.False(t, done)
	}
	require.FailNow(t, "sweeping never consulted the registry")
}
