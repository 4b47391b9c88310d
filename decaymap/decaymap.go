// Package decaymap implements a generic map whose entries expire after a
// deadline. Expired entries are deleted lazily on access or in bulk via
// Cleanup.
package decaymap

import (
	"sync"
	"time"
)

func zilch[T any]() T {
	var zero T
	return zero
}

type entry[V any] struct {
	Value  V
	expiry time.Time
}

// Impl is a map of keys to values where each value has a deadline past which
// it no longer exists. All operations take the map lock, so every read-modify-
// write of a single key is atomic.
type Impl[K comparable, V any] struct {
	data map[K]entry[V]
	lock sync.RWMutex
}

func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: map[K]entry[V]{},
	}
}

func (m *Impl[K, V]) expire(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	// the entry may have been replaced since the caller observed it expired
	value, ok := m.data[key]
	if !ok || !time.Now().After(value.expiry) {
		return false
	}

	delete(m.data, key)
	return true
}

// Get returns the value for key if it exists and has not decayed.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.RLock()
	value, ok := m.data[key]
	m.lock.RUnlock()

	if !ok {
		return zilch[V](), false
	}

	if time.Now().After(value.expiry) {
		m.expire(key)
		return zilch[V](), false
	}

	return value.Value, true
}

// Pop atomically removes and returns the value for key. A decayed entry is
// removed but reported as absent.
func (m *Impl[K, V]) Pop(key K) (V, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	value, ok := m.data[key]
	if !ok {
		return zilch[V](), false
	}

	delete(m.data, key)

	if time.Now().After(value.expiry) {
		return zilch[V](), false
	}

	return value.Value, true
}

// Set stores value under key for the given ttl, replacing any previous value.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = entry[V]{
		Value:  value,
		expiry: time.Now().Add(ttl),
	}
}

// Delete removes key from the map, reporting whether it was present.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.data[key]
	if ok {
		delete(m.data, key)
	}
	return ok
}

// Len reports how many entries are resident, including not-yet-collected
// expired ones.
func (m *Impl[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.data)
}

// Cleanup removes every expired entry. Call this periodically to bound the
// memory of maps whose keys are never read again.
func (m *Impl[K, V]) Cleanup() {
	now := time.Now()

	m.lock.Lock()
	defer m.lock.Unlock()

	for key, value := range m.data {
		if now.After(value.expiry) {
			delete(m.data, key)
		}
	}
}
