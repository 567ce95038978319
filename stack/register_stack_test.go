package stack

import (
	"testing"

	"github.com/regvm/vmheap/heap"
	"github.com/stretchr/testify/require"
)

func setReg(t *testing.T, s *RegisterStack, i int, value heap.Reg) {
	slot, err := s.Slot(i)
	require.NoError(t, err)
	*slot = value
}

func getReg(t *testing.T, s *RegisterStack, i int) heap.Reg {
	slot, err := s.Slot(i)
	require.NoError(t, err)
	return *slot
}

func TestRegisterStackSharesTailRegisters(t *testing.T) {
	s := NewRegisterStack(16)

	_, err := s.Call(0, 4)
	require.NoError(t, err)
	setReg(t, s, 2, 20)
	setReg(t, s, 3, 30)

	callee, err := s.Call(2, 5)
	require.NoError(t, err)
	require.Equal(t, Frame{Base: 2, Size: 5}, callee)
	require.Equal(t, 2, s.Depth())
	require.Equal(t, 7, s.Top())

	require.Equal(t, heap.Reg(20), getReg(t, s, 0))
	require.Equal(t, heap.Reg(30), getReg(t, s, 1))
	require.Equal(t, heap.Reg(0), getReg(t, s, 2))

	setReg(t, s, 0, 99)
	setReg(t, s, 4, 44)
	require.NoError(t, s.setPointer(4, true))

	_, err = s.Return()
	require.NoError(t, err)
	require.Equal(t, Frame{Base: 0, Size: 4}, s.Current())
	require.Equal(t, heap.Reg(99), getReg(t, s, 2))

	// the callee's private registers were cleared on the way out
	_, err = s.Call(4, 3)
	require.NoError(t, err)
	require.Equal(t, heap.Reg(0), getReg(t, s, 2))
	require.False(t, s.IsPointer(2))
}

func TestRegisterStackErrors(t *testing.T) {
	testCases := map[string]struct {
		frames   [][2]int
		argStart int
		size     int
		err      error
	}{
		"Overflow":        {frames: [][2]int{{0, 6}}, argStart: 4, size: 8, err: ErrStackOverflow},
		"ArgsPastFrame":   {frames: [][2]int{{0, 4}}, argStart: 5, size: 1, err: ErrBadRegister},
		"NegativeArgs":    {frames: [][2]int{{0, 4}}, argStart: -1, size: 1, err: ErrBadRegister},
		"EmptyFrame":      {frames: [][2]int{{0, 4}}, argStart: 0, size: 0},
		"ExactlyCapacity": {frames: [][2]int{{0, 4}}, argStart: 4, size: 6},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			s := NewRegisterStack(10)
			for _, frame := range testCase.frames {
				_, err := s.Call(frame[0], frame[1])
				require.NoError(t, err)
			}

			_, err := s.Call(testCase.argStart, testCase.size)
			switch {
			case testCase.err != nil:
				require.ErrorIs(t, err, testCase.err)
			case testCase.size < 1:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestRegisterStackUnderflow(t *testing.T) {
	s := NewRegisterStack(4)
	_, err := s.Return()
	require.ErrorIs(t, err, ErrStackUnderflow)

	_, err = s.Slot(0)
	require.ErrorIs(t, err, ErrBadRegister)
}

func TestRegisterStackVisitPointers(t *testing.T) {
	s := NewRegisterStack(128)

	_, err := s.Call(0, 100)
	require.NoError(t, err)
	for _, i := range []int{0, 63, 64, 99} {
		setReg(t, s, i, heap.Reg(i+1))
		require.NoError(t, s.setPointer(i, true))
	}
	require.NoError(t, s.setPointer(63, false))

	var visited []heap.Reg
	s.VisitPointers(func(slot *heap.Reg) {
		visited = append(visited, *slot)
	})
	require.Equal(t, []heap.Reg{1, 65, 100}, visited)
}
