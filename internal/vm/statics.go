package vm

import (
	"fmt"

	"miri/internal/mir"
	"miri/internal/value"
)

// Statics holds the materialised static items of a module. One table is
// shared by all threads of a scheduler; it is not safe for concurrent use.
type Statics struct {
	m      *mir.Module
	allocs map[string]*value.Allocation
}

// NewStatics returns an empty table over m. Items are materialised from
// their initialiser images on first access.
func NewStatics(m *mir.Module) *Statics {
	return &Statics{m: m, allocs: make(map[string]*value.Allocation)}
}

// Get returns the allocation backing the static item key.
func (s *Statics) Get(key string) (*value.Allocation, error) {
	if a, ok := s.allocs[key]; ok {
		return a, nil
	}
	st := s.m.StaticByKey(key)
	if st == nil {
		return nil, fmt.Errorf("unknown static %q", key)
	}
	a, err := value.FromImage(st.Init)
	if err != nil {
		return nil, fmt.Errorf("static %q: %w", key, err)
	}
	s.allocs[key] = a
	return a, nil
}

// Len returns the number of materialised statics.
func (s *Statics) Len() int {
	return len(s.allocs)
}
