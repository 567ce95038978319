package heap

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/internal/utils"
	"github.com/regvm/vmheap/memutils"
	"golang.org/x/exp/slog"
)

// ElderPhase tells the allocator which color new elder objects must be given so that an in-progress major
// collection neither frees them nor keeps them alive past the next one
type ElderPhase int32

const (
	ElderIdle ElderPhase = iota
	ElderMarking
	ElderSweeping
)

var elderPhaseMapping = map[ElderPhase]string{
	ElderIdle:     "Idle",
	ElderMarking:  "Marking",
	ElderSweeping: "Sweeping",
}

func (p ElderPhase) String() string {
	return elderPhaseMapping[p]
}

// Heap is the region allocator: it maps pages into the VM's address space, places objects into the Minor,
// Major, Huge, Static and Auto regions, and gives word-level access to their contents.
type Heap struct {
	logger          *slog.Logger
	types           TypeRegistry
	createFlags     CreateFlags
	maxPages        int
	minorPageBudget int

	regions regionMap
	huge    hugeList

	mutex       utils.OptionalMutex
	minor       regionPool
	major       regionPool
	static      regionPool
	targets     []*span
	autoSpans   []*span
	freeIDs     []PageID
	nextPage    PageID
	mappedPages int
	statics     []*Static

	elderPhase atomic.Int32
}

var _ WordReader = &Heap{}

func (h *Heap) Types() TypeRegistry { return h.types }

func (h *Heap) Logger() *slog.Logger { return h.logger }

// Destroy releases every page. Auto stack chunks must have been unmapped by their owners first: any that
// remain are logged and reported as an error.
func (h *Heap) Destroy() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(h.autoSpans) > 0 {
		for _, s := range h.autoSpans {
			h.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] auto stack chunk still mapped",
				slog.String("base", s.base.String()),
				slog.Int("pages", s.pages),
				slog.Int("allocations", s.linear.AllocationCount()),
			)
		}
		return errors.Newf("%d auto stack chunks were not unmapped before the destruction of this heap", len(h.autoSpans))
	}

	for _, pool := range []*regionPool{&h.minor, &h.major, &h.static} {
		for i := range pool.lists {
			for _, page := range pool.lists[i].takeAll() {
				h.unmapSpan(page)
			}
		}
	}
	for _, page := range h.targets {
		h.unmapSpan(page)
	}
	h.targets = nil

	for _, s := range h.huge.Snapshot() {
		h.huge.Unregister(s)
		h.unmapSpan(s)
	}

	h.statics = nil
	return nil
}

// mapSpan reserves address space for a new span and registers it in the region map. The caller must hold
// the heap mutex.
func (h *Heap) mapSpan(kind RegionKind, pages int, slotWords int) (*span, error) {
	if h.maxPages > 0 && h.mappedPages+pages > h.maxPages {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "mapping %d %s pages would exceed the limit of %d pages", pages, kind, h.maxPages)
	}

	var s *span
	var id PageID
	if pages == 1 {
		s = pagePool.Get().(*span)
		clear(s.words)

		if count := len(h.freeIDs); count > 0 {
			id = h.freeIDs[count-1]
			h.freeIDs = h.freeIDs[:count-1]
		} else {
			id = h.nextPage
			h.nextPage++
		}
	} else {
		s = &span{words: make([]uint64, pages*WordsPerPage)}
		id = h.nextPage
		h.nextPage += PageID(pages)
	}

	s.base = id.Base()
	s.pages = pages
	s.kind = kind
	s.swept = true
	s.target.Store(false)

	if slotWords > 0 {
		s.slotWords = slotWords
		s.slab = newSlabMetadata(s, slotWords)
	}

	h.mappedPages += pages
	h.regions.Insert(s)

	h.logger.Debug("span mapped",
		slog.String("region", kind.String()),
		slog.String("base", s.base.String()),
		slog.Int("pages", pages),
	)

	return s, nil
}

// unmapSpan removes a span from the region map and recycles its memory. The caller must hold the heap mutex.
func (h *Heap) unmapSpan(s *span) {
	h.regions.Remove(s)
	h.mappedPages -= s.pages

	h.logger.Debug("span unmapped",
		slog.String("region", s.kind.String()),
		slog.String("base", s.base.String()),
		slog.Int("pages", s.pages),
	)

	if s.pages != 1 {
		return
	}

	h.freeIDs = append(h.freeIDs, s.base.Page())
	s.slab = nil
	s.linear = nil
	s.slotWords = 0
	s.prev = nil
	s.next = nil
	pagePool.Put(s)
}

func (h *Heap) poolFor(kind RegionKind) *regionPool {
	switch kind {
	case RegionMinor:
		return &h.minor
	case RegionMajor:
		return &h.major
	case RegionStatic:
		return &h.static
	}

	panic(errors.AssertionFailedf("%s is not a slab region", kind))
}

// RegionFor decides which region new objects of a type are placed in. Objects whose payload fills a page
// get a dedicated Huge span. Objects with a finalizer, or too large for the header to encode their size,
// go straight to Major. Everything else starts young.
func (h *Heap) RegionFor(info *TypeInfo) RegionKind {
	words := info.PayloadWords()
	switch {
	case words*8 >= PageSize:
		return RegionHuge
	case info.HasFinalizer() || words >= BigObjectSize:
		return RegionMajor
	default:
		return RegionMinor
	}
}

// Allocate creates a zeroed object of the given type and returns its pointer
func (h *Heap) Allocate(token TypeToken) (Addr, error) {
	info, err := h.types.Type(token)
	if err != nil {
		return NullAddr, err
	}

	return h.allocateObject(h.RegionFor(info), info.PayloadWords(), info.HeaderPrototype())
}

// Relocate copies the object at src into a fresh slot in the given region, giving the copy the provided
// header. It does not touch src.
func (h *Heap) Relocate(src Addr, kind RegionKind, header ObjHeader) (Addr, error) {
	words, err := h.SizeOf(header)
	if err != nil {
		return NullAddr, err
	}

	dst, err := h.allocateObject(kind, words, header.WithoutFlags(IsMoved))
	if err != nil {
		return NullAddr, err
	}

	srcSpan := h.spanFor(src)
	dstSpan := h.spanFor(dst)
	for word := 0; word < words; word++ {
		dstSpan.store(dst.Words(word), srcSpan.load(src.Words(word)))
	}

	return dst, nil
}

func (h *Heap) allocateObject(kind RegionKind, payloadWords int, header ObjHeader) (Addr, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var s *span
	var obj Addr

	switch kind {
	case RegionHuge:
		pages := (payloadWords*8 + 8 + PageSize - 1) / PageSize
		var err error
		s, err = h.mapSpan(RegionHuge, pages, 0)
		if err != nil {
			return NullAddr, err
		}
		h.huge.Register(s)
		obj = s.base + 8
	case RegionMinor, RegionMajor, RegionStatic:
		slotWords := payloadWords + 1
		if slotWords > WordsPerPage {
			panic(errors.AssertionFailedf("a %d word payload cannot be placed in a %s page", payloadWords, kind))
		}

		pool := h.poolFor(kind)
		list := pool.list(slotWords)

		var offset int
		var ok bool
		var err error
		s, offset, ok, err = list.allocate()
		if err != nil {
			return NullAddr, err
		}

		if !ok {
			s, err = h.mapSpan(kind, 1, list.slotWords)
			if err != nil {
				return NullAddr, err
			}
			list.add(s)

			s, offset, ok, err = list.allocate()
			if err != nil {
				return NullAddr, err
			}
			if !ok {
				panic(errors.AssertionFailedf("a freshly mapped %s page could not hold a %d word slot", kind, slotWords))
			}
		}

		obj = s.slotObject(offset)
		s.zero(obj, s.slotWords-1)
	default:
		panic(errors.AssertionFailedf("cannot allocate objects directly in the %s region", kind))
	}

	if kind == RegionMinor {
		header = header.WithFlags(IsMinor)
	} else {
		header = header.WithoutFlags(IsMinor)
	}
	if kind.IsElder() {
		header = header.WithColor(h.elderColor(s))
	} else if kind == RegionStatic {
		header = header.WithAge(0)
	}

	s.store(obj.Header(), Reg(header))

	if memutils.DebugChecks {
		memutils.DebugValidate(s)
	}

	return obj, nil
}

func (h *Heap) elderColor(s *span) Color {
	switch ElderPhase(h.elderPhase.Load()) {
	case ElderMarking:
		return Black
	case ElderSweeping:
		if !s.swept {
			return Black
		}
	}
	return White
}

func (h *Heap) spanFor(addr Addr) *span {
	s := h.regions.Lookup(addr)
	if s == nil {
		panic(errors.AssertionFailedf("address %s does not belong to any tracked region", addr))
	}
	return s
}

// RegionOf returns the region that owns addr. Addresses outside every tracked region are a contract violation
// and panic.
func (h *Heap) RegionOf(addr Addr) RegionKind {
	return h.spanFor(addr).kind
}

// IsTracked reports whether addr belongs to any region, without panicking
func (h *Heap) IsTracked(addr Addr) bool {
	return h.regions.Lookup(addr) != nil
}

// IsObject reports whether addr is the pointer of a live object
func (h *Heap) IsObject(addr Addr) bool {
	s := h.regions.Lookup(addr)
	return s != nil && s.contains(addr.Header()) && s.isObject(addr)
}

// ObjectContaining returns the pointer of the live slab or huge object whose slot contains addr
func (h *Heap) ObjectContaining(addr Addr) (Addr, bool) {
	s := h.regions.Lookup(addr)
	if s == nil {
		return NullAddr, false
	}

	switch {
	case s.slab != nil:
		offset := s.slab.SlotOffsetFor(int(addr - s.base))
		if !s.slab.IsAllocated(offset) {
			return NullAddr, false
		}
		return s.slotObject(offset), true
	case s.kind == RegionHuge:
		return s.base + 8, true
	}

	return NullAddr, false
}

func (h *Heap) Load(addr Addr) Reg {
	return h.spanFor(addr).load(addr)
}

func (h *Heap) Store(addr Addr, value Reg) {
	h.spanFor(addr).store(addr, value)
}

func (h *Heap) CompareAndSwap(addr Addr, old, new Reg) bool {
	return h.spanFor(addr).compareAndSwap(addr, old, new)
}

func (h *Heap) LoadSlot(slot Slot) Reg {
	if slot.IsHeap() {
		return h.Load(slot.Addr)
	}
	return Reg(atomic.LoadUint64((*uint64)(slot.Ref)))
}

func (h *Heap) StoreSlot(slot Slot, value Reg) {
	if slot.IsHeap() {
		h.Store(slot.Addr, value)
		return
	}
	atomic.StoreUint64((*uint64)(slot.Ref), uint64(value))
}

func (h *Heap) CompareAndSwapSlot(slot Slot, old, new Reg) bool {
	if slot.IsHeap() {
		return h.CompareAndSwap(slot.Addr, old, new)
	}
	return atomic.CompareAndSwapUint64((*uint64)(slot.Ref), uint64(old), uint64(new))
}

func (h *Heap) Header(obj Addr) ObjHeader {
	return ObjHeader(h.Load(obj.Header()))
}

func (h *Heap) SetHeader(obj Addr, header ObjHeader) {
	h.Store(obj.Header(), Reg(header))
}

func (h *Heap) CompareAndSwapHeader(obj Addr, old, new ObjHeader) bool {
	return h.CompareAndSwap(obj.Header(), Reg(old), Reg(new))
}

// SizeOf returns the payload size in words described by a header. Once the compressed size is the sentinel,
// only the type metadata knows the real size.
func (h *Heap) SizeOf(header ObjHeader) (int, error) {
	if !header.IsBig() {
		return header.CompressedSize(), nil
	}

	info, err := h.types.Type(TypeToken(header.TypeID()))
	if err != nil {
		return 0, err
	}
	return info.PayloadWords(), nil
}

func (h *Heap) TypeOf(obj Addr) (*TypeInfo, error) {
	return h.types.Type(TypeToken(h.Header(obj).TypeID()))
}

// ForwardingAddress returns where a moved object now lives
func (h *Heap) ForwardingAddress(obj Addr) Addr {
	return h.Load(obj).Pointer()
}

func (h *Heap) MappedPages() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.mappedPages
}

// Validate performs internal consistency checks over every span. It is expensive.
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pages := append(h.minor.Pages(), h.major.Pages()...)
	pages = append(pages, h.static.Pages()...)
	pages = append(pages, h.targets...)
	pages = append(pages, h.autoSpans...)

	if err := memutils.ValidateEach(pages); err != nil {
		return err
	}
	for _, s := range pages {
		if h.regions.Lookup(s.base) != s {
			return errors.Newf("the %s span at %s is not in the region map", s.kind, s.base)
		}
	}

	if err := h.huge.Validate(); err != nil {
		return err
	}

	for _, s := range h.huge.Snapshot() {
		if h.regions.Lookup(s.base+8) != s {
			return errors.Newf("the huge span at %s is not in the region map", s.base)
		}
		header := ObjHeader(s.words[0])
		if header.Has(IsMinor) {
			return errors.Newf("huge object at %s has header %s", s.base+8, header)
		}
	}

	return nil
}
