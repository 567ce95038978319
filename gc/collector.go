package gc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/internal/utils"
	"github.com/regvm/vmheap/memutils"
	"golang.org/x/exp/slog"
)

// Collector drives incremental generational collection of a heap. It never runs on its own: the embedding
// VM paces it by calling SingleThreadStep between instructions, or ConcurrentStep from a dedicated thread
// while mutators keep running and calling the barriers.
type Collector struct {
	logger  *slog.Logger
	heap    *heap.Heap
	options Options

	// lock is held exclusively by ConcurrentStep and shared by barriers and allocation
	lock utils.OptionalRWMutex
	// evacuationMutex makes evacuation of a single object atomic with respect to read barriers on other threads
	evacuationMutex utils.OptionalMutex

	state          atomic.Int32
	requestedMinor atomic.Bool
	requestedFull  atomic.Bool

	roots      rootSet
	retired    retiredSlots
	remembered *RememberedSet
	queue      MarkQueue[heap.Slot]
	gray       MarkQueue[heap.Addr]

	minor minorCycle
	major majorCycle

	statsMutex     sync.Mutex
	stats          CycleStats
	lastElderBytes int
}

// New creates a Collector for h
func New(logger *slog.Logger, h *heap.Heap, options Options) (*Collector, error) {
	if h == nil {
		return nil, errors.New("gc.New requires a heap")
	}

	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}

	useMutex := options.Flags&CollectorCreateExternallySynchronized == 0
	c := &Collector{
		logger:     logger,
		heap:       h,
		options:    options,
		remembered: NewRememberedSet(),
	}
	c.lock.SetExternallySynchronized(!useMutex)
	c.evacuationMutex.SetExternallySynchronized(!useMutex)
	c.roots.Init()
	c.retired.Init()

	logger.Debug("collector created",
		slog.String("flags", options.Flags.String()),
		slog.Int("promotionThreshold", options.PromotionThreshold),
		slog.Float64("minorTriggerRatio", options.MinorTriggerRatio),
		slog.Float64("majorGrowthRatio", options.MajorGrowthRatio),
		slog.Int("stepBudget", options.StepBudget),
	)

	return c, nil
}

func (c *Collector) Heap() *heap.Heap { return c.heap }

func (c *Collector) Options() Options { return c.options }

func (c *Collector) State() State { return State(c.state.Load()) }

func (c *Collector) setState(state State) {
	old := State(c.state.Swap(int32(state)))
	if old != state {
		c.logger.Debug("collector state changed", slog.String("from", old.String()), slog.String("to", state.String()))
	}
}

// RememberedSet exposes the set of old-to-young slots recorded by the write barrier
func (c *Collector) RememberedSet() *RememberedSet { return c.remembered }

// Stats returns the statistics accumulated over every finished cycle
func (c *Collector) Stats() CycleStats {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	return c.stats
}

func (c *Collector) addStats(delta CycleStats) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.stats.Add(delta)
}

// Allocate creates a new object of the given type. Region choice is transparent to the caller.
func (c *Collector) Allocate(token heap.TypeToken) (heap.Addr, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.heap.Allocate(token)
}

// AllocateStatic reserves a process-lifetime object that init fills in on its first LoadStatic
func (c *Collector) AllocateStatic(token heap.TypeToken, init heap.StaticInitializer) (*heap.Static, error) {
	return c.heap.AllocateStatic(token, init)
}

// LoadStatic returns the address of a static object, initializing it first if needed. The initializer runs
// synchronously, before LoadStatic returns.
func (c *Collector) LoadStatic(static *heap.Static) (heap.Addr, error) {
	return c.heap.LoadStatic(static)
}

// RegisterRoot makes slot a root until UnregisterRoot is called. The caller must not mutate slot while
// registering it, and must unregister it before it becomes invalid.
func (c *Collector) RegisterRoot(slot *heap.Reg) RootHandle {
	return c.roots.Register(slot)
}

// UnregisterRoot stops treating the slot as a root. A cycle in progress no longer updates it.
func (c *Collector) UnregisterRoot(handle RootHandle) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	slot, ok := c.roots.Unregister(handle)
	if ok && c.State() == StateMinorGC {
		c.retired.Retire(heap.RegSlot(slot))
	}
	return ok
}

// RegisterRootScanner adds a callback that reports roots the collector cannot otherwise enumerate. Every
// scanner is invoked once per cycle, lazily, at that cycle's first step.
func (c *Collector) RegisterRootScanner(scanner RootScanner) RootHandle {
	return c.roots.AddScanner(scanner)
}

func (c *Collector) UnregisterRootScanner(handle RootHandle) bool {
	return c.roots.RemoveScanner(handle)
}

// ForgetRange drops remembered slots inside [start, end), which is about to be released
func (c *Collector) ForgetRange(start, end heap.Addr) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.State() == StateMinorGC {
		c.retired.RetireRange(start, end)
	}
	c.remembered.ForgetRange(start, end)
}

// RequestMinor makes the next step begin a minor cycle even if Minor pressure has not reached the trigger
func (c *Collector) RequestMinor() {
	c.requestedMinor.Store(true)
}

// RequestFull makes the next step begin a minor cycle that continues into a major one
func (c *Collector) RequestFull() {
	c.requestedFull.Store(true)
}

// SingleThreadStep performs one bounded unit of work. The mutator must be paused for its duration. It
// returns true once no cycle is in progress.
func (c *Collector) SingleThreadStep() (bool, error) {
	done, _, err := c.step()
	return done, err
}

// ConcurrentStep performs up to Options.StepBudget units of work while holding the collector lock, so it
// can be interleaved with mutator threads that go through the barriers. It returns true once no cycle is
// in progress.
func (c *Collector) ConcurrentStep() (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	pass := stepContext{
		MaxUnits: c.options.StepBudget,
		MaxBytes: c.options.StepBytes,
	}

	for {
		done, bytesMoved, err := c.step()
		if err != nil || done {
			return done, err
		}

		if pass.incrementCounters(bytesMoved) {
			return false, nil
		}
	}
}

// Collect runs a complete minor cycle, and any major cycle it triggers, to completion
func (c *Collector) Collect() error {
	c.RequestMinor()
	return c.runToCompletion()
}

// CollectFull runs a minor cycle followed by a major cycle to completion
func (c *Collector) CollectFull() error {
	c.RequestFull()
	return c.runToCompletion()
}

func (c *Collector) runToCompletion() error {
	for {
		done, err := c.SingleThreadStep()
		if err != nil {
			return err
		}
		if done && c.State() == StateNormal && !c.requestedMinor.Load() && !c.requestedFull.Load() {
			return nil
		}
	}
}

func (c *Collector) shouldStartMinor() bool {
	return c.requestedMinor.Load() || c.requestedFull.Load() ||
		c.heap.MinorPressure() >= c.options.MinorTriggerRatio
}

// step performs one unit of work and reports whether the collector is back in the Normal state, along with
// the number of bytes it evacuated
func (c *Collector) step() (done bool, bytesMoved int, err error) {
	switch c.State() {
	case StateNormal:
		if !c.shouldStartMinor() {
			return true, 0, nil
		}
		bytesMoved, err = c.beginMinor()
		if err != nil {
			return false, bytesMoved, err
		}
		if c.minorComplete() {
			done, err = c.finishMinor()
		}
	case StateMinorGC:
		if !c.minorComplete() {
			bytesMoved, err = c.minorStep()
			if err != nil {
				return false, bytesMoved, err
			}
		}
		if c.minorComplete() {
			done, err = c.finishMinor()
		}
	case StateMajorGC:
		done, err = c.majorStep()
	}

	if memutils.DebugChecks && err == nil {
		memutils.DebugValidate(c.heap)
	}

	return done, bytesMoved, err
}

func (c *Collector) logCycle(message string, stats CycleStats) {
	c.logger.LogAttrs(context.Background(), slog.LevelInfo, message, stats.LogAttrs()...)
}
