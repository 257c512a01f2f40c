package utils

import (
	"sync"
)

// MapSet is a set safe for use from several workers.
type MapSet[K comparable] struct {
	mu *sync.Mutex
	m  map[K]struct{}
}

func NewMapSet[K comparable]() MapSet[K] {
	return MapSet[K]{
		mu: &sync.Mutex{},
		m:  make(map[K]struct{}),
	}
}

// Add inserts val and reports whether it was not present before.
func (s MapSet[K]) Add(val K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[val]; ok {
		return false
	}
	s.m[val] = struct{}{}
	return true
}

func (s MapSet[K]) Contains(val K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[val]
	return ok
}

func (s MapSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
