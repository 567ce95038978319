package stack

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/heap"
)

var (
	ErrStackOverflow  = errors.New("register stack overflow")
	ErrStackUnderflow = errors.New("register stack underflow")
	ErrBadRegister    = errors.New("register index outside the current frame")
)

const (
	// CaptureRegister holds the closure environment of the running function, or null
	CaptureRegister = 0
	// ReturnStorageRegister holds the caller-provided storage for a large return value
	ReturnStorageRegister = 1
)

// Frame is a window onto the register stack. Index 0 of every frame is CaptureRegister.
type Frame struct {
	Base int
	Size int
}

func (f Frame) end() int { return f.Base + f.Size }

// RegisterStack holds the registers of every active call. Its storage is allocated once, so the address
// of a register stays valid as a root slot for as long as its frame is live.
//
// A callee's frame begins inside its caller's, at the tail registers the caller filled with arguments.
// Each register carries a bit that records whether it currently holds a pointer.
type RegisterStack struct {
	regs     []heap.Reg
	pointers []uint64
	frames   []Frame
}

func NewRegisterStack(capacity int) *RegisterStack {
	return &RegisterStack{
		regs:     make([]heap.Reg, capacity),
		pointers: make([]uint64, (capacity+63)/64),
	}
}

func (s *RegisterStack) Capacity() int { return len(s.regs) }

func (s *RegisterStack) Depth() int { return len(s.frames) }

// Current returns the innermost frame, or the empty frame if no call is active
func (s *RegisterStack) Current() Frame {
	if len(s.frames) == 0 {
		return Frame{}
	}
	return s.frames[len(s.frames)-1]
}

// Top is the index one past the highest live register
func (s *RegisterStack) Top() int {
	return s.Current().end()
}

// Call enters a callee frame of the given size whose register 0 is the current frame's register argStart.
// argStart may equal the current frame size, in which case the callee receives no arguments in place.
func (s *RegisterStack) Call(argStart, size int) (Frame, error) {
	caller := s.Current()
	if argStart < 0 || argStart > caller.Size {
		return Frame{}, errors.Wrapf(ErrBadRegister, "arguments cannot start at register %d of a %d register frame", argStart, caller.Size)
	}
	if size < 1 {
		return Frame{}, errors.Newf("frames need at least one register, but %d were requested", size)
	}

	callee := Frame{Base: caller.Base + argStart, Size: size}
	if callee.end() > len(s.regs) {
		return Frame{}, errors.Wrapf(ErrStackOverflow, "a %d register frame at %d exceeds the capacity of %d", size, callee.Base, len(s.regs))
	}

	s.clear(caller.end(), callee.end())
	s.frames = append(s.frames, callee)
	return callee, nil
}

// Return leaves the current frame. Registers the callee shares with its caller keep their values, which
// is how results are handed back.
func (s *RegisterStack) Return() (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, ErrStackUnderflow
	}

	callee := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	s.clear(s.Top(), callee.end())

	return callee, nil
}

// Slot returns the address of register i of the current frame
func (s *RegisterStack) Slot(i int) (*heap.Reg, error) {
	index, err := s.index(i)
	if err != nil {
		return nil, err
	}
	return &s.regs[index], nil
}

// IsPointer reports whether register i of the current frame holds a pointer
func (s *RegisterStack) IsPointer(i int) bool {
	index, err := s.index(i)
	if err != nil {
		return false
	}
	return s.pointers[index/64]&(1<<(index%64)) != 0
}

func (s *RegisterStack) setPointer(i int, pointer bool) error {
	index, err := s.index(i)
	if err != nil {
		return err
	}

	if pointer {
		s.pointers[index/64] |= 1 << (index % 64)
	} else {
		s.pointers[index/64] &^= 1 << (index % 64)
	}
	return nil
}

func (s *RegisterStack) index(i int) (int, error) {
	frame := s.Current()
	if i < 0 || i >= frame.Size {
		return 0, errors.Wrapf(ErrBadRegister, "register %d of a %d register frame", i, frame.Size)
	}
	return frame.Base + i, nil
}

// clear zeroes registers [start, end), which are outside every live frame
func (s *RegisterStack) clear(start, end int) {
	for i := start; i < end; i++ {
		s.regs[i] = 0
		s.pointers[i/64] &^= 1 << (i % 64)
	}
}

// VisitPointers calls visit with every live register that holds a pointer
func (s *RegisterStack) VisitPointers(visit func(slot *heap.Reg)) {
	top := s.Top()
	for i := 0; i < top; i++ {
		if s.pointers[i/64]&(1<<(i%64)) != 0 {
			visit(&s.regs[i])
		}
	}
}
