package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExternallySynchronizedMutexDoesNotBlock(t *testing.T) {
	var mutex OptionalMutex
	mutex.SetExternallySynchronized(true)
	mutex.Lock()
	mutex.Lock()
	mutex.Unlock()

	var rw OptionalRWMutex
	rw.SetExternallySynchronized(true)
	rw.Lock()
	rw.Lock()
	rw.RLock()
	rw.Unlock()
}

func TestOptionalMutexLocksByDefault(t *testing.T) {
	var rw OptionalRWMutex
	rw.RLock()
	require.False(t, rw.mutex.TryLock())
	rw.RUnlock()
	require.True(t, rw.mutex.TryLock())
	rw.Unlock()
}
