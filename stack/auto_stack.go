package stack

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/gc"
	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// DefaultAutoChunkPages is the size of an auto stack chunk unless a single object needs more
const DefaultAutoChunkPages = 4

type autoFrame struct {
	chunk int
	mark  int
}

// AutoStack is a bump allocator for objects whose lifetime is bounded by a call: returned-value storage
// and values proven not to escape. It spans any number of chunks; objects never move, and every object a
// frame allocated is released at once when that frame pops.
type AutoStack struct {
	logger     *slog.Logger
	collector  *gc.Collector
	heap       *heap.Heap
	chunkPages int

	chunks  []*heap.AutoChunk
	current int
	frames  []autoFrame
}

func NewAutoStack(collector *gc.Collector, chunkPages int) *AutoStack {
	if chunkPages < 1 {
		chunkPages = DefaultAutoChunkPages
	}

	h := collector.Heap()
	return &AutoStack{
		logger:     h.Logger(),
		collector:  collector,
		heap:       h,
		chunkPages: chunkPages,
	}
}

func (s *AutoStack) Depth() int { return len(s.frames) }

func (s *AutoStack) ChunkCount() int { return len(s.chunks) }

// PushFrame opens a frame. Objects allocated until the matching PopFrame belong to it.
func (s *AutoStack) PushFrame() {
	frame := autoFrame{chunk: s.current}
	if s.current < len(s.chunks) {
		frame.mark = s.chunks[s.current].Mark()
	}
	s.frames = append(s.frames, frame)
}

// Allocate places a zeroed object of the given type in the current frame
func (s *AutoStack) Allocate(token heap.TypeToken) (heap.Addr, error) {
	if len(s.frames) == 0 {
		return heap.NullAddr, errors.New("auto objects cannot be allocated outside a frame")
	}

	for {
		if s.current == len(s.chunks) {
			if err := s.mapChunk(token); err != nil {
				return heap.NullAddr, err
			}
		}

		obj, ok, err := s.heap.AllocateAuto(s.chunks[s.current], token)
		if err != nil {
			return heap.NullAddr, err
		}
		if ok {
			return obj, nil
		}

		if s.chunks[s.current].Used() == 0 {
			// an empty spare chunk too small for this object
			if err := s.heap.UnmapAutoChunk(s.chunks[s.current]); err != nil {
				return heap.NullAddr, err
			}
			s.chunks = slices.Delete(s.chunks, s.current, s.current+1)
			continue
		}
		s.current++
	}
}

func (s *AutoStack) mapChunk(token heap.TypeToken) error {
	info, err := s.heap.Types().Type(token)
	if err != nil {
		return err
	}

	pages := s.chunkPages
	needed := memutils.AlignUp((info.PayloadWords()+1)*8, heap.PageSize) / heap.PageSize
	if needed > pages {
		pages = needed
	}

	chunk, err := s.heap.MapAutoChunk(pages)
	if err != nil {
		return err
	}

	s.chunks = append(s.chunks, chunk)
	s.logger.Debug("auto chunk mapped", slog.String("base", chunk.Base().String()), slog.Int("pages", pages))
	return nil
}

// PopFrame releases every object the current frame allocated, youngest first, running finalizers and
// dropping any remembered slots inside them
func (s *AutoStack) PopFrame() error {
	if len(s.frames) == 0 {
		return ErrStackUnderflow
	}

	frame := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]

	last := s.current
	if last == len(s.chunks) {
		last--
	}

	for i := last; i >= frame.chunk && i >= 0; i-- {
		mark := 0
		if i == frame.chunk {
			mark = frame.mark
		}

		chunk := s.chunks[i]
		top := chunk.Base() + heap.Addr(chunk.Used())
		popped, err := s.heap.RewindAuto(chunk, mark)
		if err != nil {
			return err
		}

		for j := len(popped) - 1; j >= 0; j-- {
			if err := s.finalize(popped[j]); err != nil {
				return err
			}
		}
		if len(popped) > 0 {
			s.collector.ForgetRange(popped[0].Header(), top)
		}
	}

	s.current = frame.chunk
	return s.trimSpares()
}

func (s *AutoStack) finalize(obj heap.Addr) error {
	header := s.heap.Header(obj)
	if !header.Has(heap.HasFinalizer) {
		return nil
	}

	info, err := s.heap.TypeOf(obj)
	if err != nil {
		return err
	}
	info.Finalizer(s.heap, obj)
	return nil
}

// trimSpares keeps at most one empty chunk above the current one mapped
func (s *AutoStack) trimSpares() error {
	for len(s.chunks) > s.current+2 {
		last := len(s.chunks) - 1
		if err := s.heap.UnmapAutoChunk(s.chunks[last]); err != nil {
			return err
		}
		s.chunks = s.chunks[:last]
	}
	return nil
}

// VisitObjects calls visit with every live auto object, oldest first
func (s *AutoStack) VisitObjects(visit func(obj heap.Addr)) {
	for _, chunk := range s.chunks {
		for _, obj := range s.heap.AutoObjects(chunk) {
			visit(obj)
		}
	}
}

// Release pops every frame and unmaps every chunk
func (s *AutoStack) Release() error {
	for len(s.frames) > 0 {
		if err := s.PopFrame(); err != nil {
			return err
		}
	}

	for _, chunk := range s.chunks {
		if err := s.heap.UnmapAutoChunk(chunk); err != nil {
			return err
		}
	}
	s.chunks = nil
	s.current = 0
	return nil
}
