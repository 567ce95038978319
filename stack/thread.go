package stack

import (
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"golang.org/x/exp/slog"
)

// DefaultRegisters is the register stack capacity of a thread unless ThreadOptions says otherwise
const DefaultRegisters = 4096

type ThreadOptions struct {
	Registers      int
	AutoChunkPages int
}

// Thread is the per-thread execution state the collector needs to see: a register stack and an auto
// stack. It registers itself as a root scanner for as long as it is open.
type Thread struct {
	logger    *slog.Logger
	collector *gc.Collector
	heap      *heap.Heap
	registers *RegisterStack
	auto      *AutoStack
	scanner   gc.RootHandle
}

func NewThread(collector *gc.Collector, options ThreadOptions) *Thread {
	if options.Registers < 1 {
		options.Registers = DefaultRegisters
	}

	t := &Thread{
		logger:    collector.Heap().Logger(),
		collector: collector,
		heap:      collector.Heap(),
		registers: NewRegisterStack(options.Registers),
		auto:      NewAutoStack(collector, options.AutoChunkPages),
	}
	t.scanner = collector.RegisterRootScanner(t.ScanRoots)
	return t
}

func (t *Thread) Registers() *RegisterStack { return t.registers }

func (t *Thread) Auto() *AutoStack { return t.auto }

// Close unwinds every frame and stops reporting roots
func (t *Thread) Close() error {
	t.collector.UnregisterRootScanner(t.scanner)

	for t.registers.Depth() > 0 {
		if _, err := t.registers.Return(); err != nil {
			return err
		}
	}
	return t.auto.Release()
}

// Call enters a callee frame at register argStart of the current frame, along with its auto frame
func (t *Thread) Call(argStart, size int) error {
	if _, err := t.registers.Call(argStart, size); err != nil {
		return err
	}

	t.auto.PushFrame()
	return nil
}

// Return leaves the current frame and releases the auto objects it allocated
func (t *Thread) Return() error {
	if err := t.auto.PopFrame(); err != nil {
		return err
	}

	_, err := t.registers.Return()
	return err
}

// AllocateAuto places an object in the current frame's auto storage. It stays at the same address until
// the frame returns.
func (t *Thread) AllocateAuto(token heap.TypeToken) (heap.Addr, error) {
	return t.auto.Allocate(token)
}

// SetPointer stores a managed pointer into register i through the write barrier
func (t *Thread) SetPointer(i int, addr heap.Addr) error {
	slot, err := t.registers.Slot(i)
	if err != nil {
		return err
	}

	t.collector.WriteBarrier(heap.RegSlot(slot), heap.PointerReg(addr))
	return t.registers.setPointer(i, true)
}

// SetValue stores a non-pointer value into register i
func (t *Thread) SetValue(i int, value heap.Reg) error {
	slot, err := t.registers.Slot(i)
	if err != nil {
		return err
	}

	t.collector.StoreValue(heap.RegSlot(slot), value)
	return t.registers.setPointer(i, false)
}

// Pointer loads the managed pointer in register i through the read barrier
func (t *Thread) Pointer(i int) (heap.Addr, error) {
	slot, err := t.registers.Slot(i)
	if err != nil {
		return heap.NullAddr, err
	}

	value, err := t.collector.ReadBarrier(heap.RegSlot(slot))
	return value.Pointer(), err
}

func (t *Thread) Value(i int) (heap.Reg, error) {
	slot, err := t.registers.Slot(i)
	if err != nil {
		return 0, err
	}

	return t.collector.LoadValue(heap.RegSlot(slot)), nil
}

// ScanRoots reports every register holding a pointer and every pointer member of a live auto object. The
// thread must be stopped while it runs.
func (t *Thread) ScanRoots(visit func(slot heap.Slot)) {
	t.registers.VisitPointers(func(slot *heap.Reg) {
		visit(heap.RegSlot(slot))
	})

	t.auto.VisitObjects(func(obj heap.Addr) {
		err := t.heap.VisitPointerSlots(obj, func(slot heap.Addr) {
			visit(heap.HeapSlot(slot))
		})
		if err != nil {
			t.logger.Error("failed to scan auto object", slog.String("object", obj.String()), slog.Any("error", err))
		}
	})
}
