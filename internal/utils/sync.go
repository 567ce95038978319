package utils

import "sync"

// OptionalMutex guards a structure that may belong to an externally synchronized heap or collector. The
// zero value locks; once SetExternallySynchronized(true) is called, Lock and Unlock do nothing.
type OptionalMutex struct {
	mutex    sync.Mutex
	external bool
}

// SetExternallySynchronized must be called before the mutex is first locked
func (m *OptionalMutex) SetExternallySynchronized(external bool) {
	m.external = external
}

func (m *OptionalMutex) Lock() {
	if !m.external {
		m.mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if !m.external {
		m.mutex.Unlock()
	}
}

// OptionalRWMutex is the reader/writer form of OptionalMutex. Barriers and region lookups take the read
// side; allocation, span mapping and collector steps take the write side.
type OptionalRWMutex struct {
	mutex    sync.RWMutex
	external bool
}

// SetExternallySynchronized must be called before the mutex is first locked
func (m *OptionalRWMutex) SetExternallySynchronized(external bool) {
	m.external = external
}

func (m *OptionalRWMutex) Lock() {
	if !m.external {
		m.mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if !m.external {
		m.mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if !m.external {
		m.mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if !m.external {
		m.mutex.RUnlock()
	}
}
