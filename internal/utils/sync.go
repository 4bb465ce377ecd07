package utils

import (
	"sync"
)

// OptionalMutex is a sync.Mutex that can be switched off when the consumer guarantees external
// synchronization
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

// Lock locks the mutex, or does nothing if UseMutex is false
func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

// Unlock unlocks the mutex, or does nothing if UseMutex is false
func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}
