package main

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
)

type workloadTypes struct {
	node   heap.TypeToken
	holder heap.TypeToken
	buffer heap.TypeToken
	pair   heap.TypeToken
}

func registerWorkloadTypes(table *heap.TypeTable) workloadTypes {
	holder := heap.StructType("Holder", 4, 0, 1, 2, 3)
	holder.Finalizer = func(mem heap.WordReader, obj heap.Addr) {}

	return workloadTypes{
		node:   table.MustRegister(heap.StructType("Node", 3, 0, 1)),
		holder: table.MustRegister(holder),
		buffer: table.MustRegister(heap.StaticListType("Buffer", 700, false)),
		pair:   table.MustRegister(heap.StructType("Pair", 4, 0)),
	}
}

// workload is a synthetic mutator: it keeps a rolling linked list in registers, parks some nodes in
// long-lived holders, allocates scratch pairs in auto frames, and steps the collector between iterations
type workload struct {
	collector  *gc.Collector
	thread     *stack.Thread
	types      workloadTypes
	concurrent bool
}

const (
	headRegister   = 1
	holderRegister = 2
	scratchArgs    = 3
	frameSize      = 6
)

func (w *workload) run(iterations int) error {
	if err := w.thread.Call(0, frameSize); err != nil {
		return err
	}

	holder, err := w.collector.Allocate(w.types.holder)
	if err != nil {
		return err
	}
	if err := w.thread.SetPointer(holderRegister, holder); err != nil {
		return err
	}

	for i := 0; i < iterations; i++ {
		if err := w.iterate(i); err != nil {
			return errors.Wrapf(err, "iteration %d", i)
		}
		if err := w.step(); err != nil {
			return err
		}
	}

	if err := w.collector.CollectFull(); err != nil {
		return err
	}
	return w.thread.Return()
}

func (w *workload) iterate(i int) error {
	node, err := w.collector.Allocate(w.types.node)
	if err != nil {
		return err
	}
	w.collector.StoreWord(node, 2, heap.IntReg(int64(i)))

	head, err := w.thread.Pointer(headRegister)
	if err != nil {
		return err
	}
	// drop the list every so often so that most nodes die young
	if i%64 != 0 {
		w.collector.StorePointer(node, 0, head)
	}
	if err := w.thread.SetPointer(headRegister, node); err != nil {
		return err
	}

	if i%16 == 0 {
		holder, err := w.thread.Pointer(holderRegister)
		if err != nil {
			return err
		}
		w.collector.StorePointer(holder, (i/16)%4, node)
	}

	if i%256 == 0 {
		if _, err := w.collector.Allocate(w.types.buffer); err != nil {
			return err
		}
	}

	return w.scratchCall()
}

// scratchCall passes the list head to a callee that builds a temporary value in auto storage and returns
// a small result in its first argument register
func (w *workload) scratchCall() error {
	head, err := w.thread.Pointer(headRegister)
	if err != nil {
		return err
	}
	if err := w.thread.SetPointer(scratchArgs+1, head); err != nil {
		return err
	}

	if err := w.thread.Call(scratchArgs, 2); err != nil {
		return err
	}

	pair, err := w.thread.AllocateAuto(w.types.pair)
	if err != nil {
		return err
	}
	arg, err := w.thread.Pointer(1)
	if err != nil {
		return err
	}
	w.collector.StorePointer(pair, 0, arg)
	w.collector.StoreWord(pair, 1, w.collector.LoadWord(arg, 2))

	if err := w.thread.SetValue(1, w.collector.LoadWord(pair, 1)); err != nil {
		return err
	}
	return w.thread.Return()
}

func (w *workload) step() error {
	if w.concurrent {
		_, err := w.collector.ConcurrentStep()
		return err
	}

	_, err := w.collector.SingleThreadStep()
	return err
}
