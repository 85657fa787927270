// Package keylock provides striped mutual exclusion keyed by string.
package keylock

import (
	"hash/fnv"
	"sync"
)

// DefaultStripes is the stripe count used by New when n <= 0.
const DefaultStripes = 256

// Striped maps keys onto a fixed set of mutexes. Two goroutines holding
// the same key never run concurrently; different keys usually do.
type Striped struct {
	locks []sync.Mutex
}

// New returns a Striped with n stripes.
func New(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{locks: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// Lock locks the stripe for key.
func (s *Striped) Lock(key string) {
	s.stripe(key).Lock()
}

// Unlock unlocks the stripe for key.
func (s *Striped) Unlock(key string) {
	s.stripe(key).Unlock()
}

// Do runs fn while holding the stripe for key.
func (s *Striped) Do(key string, fn func() error) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
