package heap

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

// StaticState is the lazy initialization state of a static object
type StaticState int32

const (
	StaticUninitialized StaticState = iota
	StaticInitializing
	StaticReady
)

var staticStateMapping = map[StaticState]string{
	StaticUninitialized: "Uninitialized",
	StaticInitializing:  "Initializing",
	StaticReady:         "Ready",
}

func (s StaticState) String() string {
	return staticStateMapping[s]
}

// StaticInitializer fills in a static object the first time it is loaded. Pointer stores it performs must
// still go through the write barrier.
type StaticInitializer func(obj Addr) error

// Static is a process-lifetime object whose contents are initialized on first load
type Static struct {
	id    int
	token TypeToken
	addr  Addr
	init  StaticInitializer

	state atomic.Int32
	group singleflight.Group
}

func (s *Static) ID() int { return s.id }

// Addr is the address of the static object. Its contents are only meaningful once State is StaticReady.
func (s *Static) Addr() Addr { return s.addr }

func (s *Static) State() StaticState { return StaticState(s.state.Load()) }

// AllocateStatic reserves storage for a static object in the Static region. The initializer runs on the first
// LoadStatic; a nil initializer leaves the object zeroed.
func (h *Heap) AllocateStatic(token TypeToken, init StaticInitializer) (*Static, error) {
	info, err := h.types.Type(token)
	if err != nil {
		return nil, err
	}

	kind := RegionStatic
	if h.RegionFor(info) == RegionHuge {
		return nil, errors.Newf("static objects of type %q are too large for the static region", info.Name)
	}

	addr, err := h.allocateObject(kind, info.PayloadWords(), info.HeaderPrototype())
	if err != nil {
		return nil, err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	static := &Static{
		id:    len(h.statics),
		token: token,
		addr:  addr,
		init:  init,
	}
	h.statics = append(h.statics, static)
	return static, nil
}

// LoadStatic returns the static object's address, running its initializer first if no load has completed one
// yet. Concurrent callers share a single run of the initializer. If it fails, the static returns to
// Uninitialized, every caller that shared the run receives the error, and a later load tries again.
//
// An initializer that loads its own static deadlocks.
func (h *Heap) LoadStatic(s *Static) (Addr, error) {
	if s.State() == StaticReady {
		return s.addr, nil
	}

	_, err, _ := s.group.Do("init", func() (any, error) {
		if !s.state.CompareAndSwap(int32(StaticUninitialized), int32(StaticInitializing)) {
			// an earlier run finished between the check above and this one starting
			return nil, nil
		}

		var err error
		if s.init != nil {
			err = s.init(s.addr)
		}

		if err != nil {
			s.state.Store(int32(StaticUninitialized))
			h.logger.Debug("static initializer failed", slog.Int("static", s.id), slog.Any("error", err))
			return nil, errors.Wrapf(err, "initializing static %d", s.id)
		}

		s.state.Store(int32(StaticReady))
		return nil, nil
	})
	if err != nil {
		return NullAddr, err
	}
	return s.addr, nil
}

// Statics returns every static allocated so far
func (h *Heap) Statics() []*Static {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	statics := make([]*Static, len(h.statics))
	copy(statics, h.statics)
	return statics
}
