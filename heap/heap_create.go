package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/internal/utils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

var heapCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	heapCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return heapCreateFlagsMapping.FlagsToString(f)
}

const (
	// HeapCreateExternallySynchronized ensures that this heap will not be synchronized internally. The
	// consumer must guarantee it is used from only one thread at a time or is synchronized by some other
	// mechanism, but performance may improve because internal mutexes are not used.
	HeapCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	HeapCreateExternallySynchronized.Register("HeapCreateExternallySynchronized")
}

const (
	// defaultMinorPageBudget is the value that is used as the MinorPageBudget when none is provided via
	// CreateOptions. It is equal to 1Mb of young objects.
	defaultMinorPageBudget int = 256
	// firstPage leaves the low addresses unmapped so that small integers are never mistaken for pointers
	firstPage PageID = 16
)

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
	// MaxPages bounds the number of pages the heap may map at once, including huge spans and auto
	// stack chunks. Zero means no limit. Allocations beyond the limit fail with memutils.ErrOutOfMemory.
	MaxPages int
	// MinorPageBudget is the number of Minor pages the collector aims to keep the young generation
	// within. It does not limit allocation; it only drives MinorPressure.
	MinorPageBudget int
}

// New creates a new Heap
//
// types - The registry consulted for object sizes, pointer layouts and finalizers
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, types TypeRegistry, options CreateOptions) (*Heap, error) {
	if types == nil {
		return nil, errors.New("heap.New requires a TypeRegistry")
	}
	if options.MaxPages < 0 {
		return nil, errors.Newf("heap.CreateOptions.MaxPages must not be negative, but was %d", options.MaxPages)
	}
	if options.MinorPageBudget < 0 {
		return nil, errors.Newf("heap.CreateOptions.MinorPageBudget must not be negative, but was %d", options.MinorPageBudget)
	}

	useMutex := options.Flags&HeapCreateExternallySynchronized == 0

	h := &Heap{
		logger:      logger,
		types:       types,
		createFlags: options.Flags,
		maxPages:    options.MaxPages,
		nextPage:    firstPage,
	}
	h.mutex.SetExternallySynchronized(!useMutex)

	if options.MinorPageBudget == 0 {
		h.minorPageBudget = defaultMinorPageBudget
	} else {
		h.minorPageBudget = options.MinorPageBudget
	}

	h.regions.Init(useMutex)
	h.huge.Init(useMutex)
	h.minor.Init(RegionMinor)
	h.major.Init(RegionMajor)
	h.static.Init(RegionStatic)

	logger.Debug("heap created",
		slog.String("flags", options.Flags.String()),
		slog.Int("maxPages", options.MaxPages),
		slog.Int("minorPageBudget", h.minorPageBudget),
	)

	return h, nil
}
