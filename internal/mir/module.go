package mir

import (
	"slices"

	"miri/internal/layout"
	"miri/internal/types"
)

// Module is the linked program: functions and statics keyed by path, plus
// the type table their bodies refer to. The interpreter never mutates it.
type Module struct {
	Target  layout.Target
	Types   *types.Interner
	Funcs   map[string]*Func
	Statics map[string]*Static
}

// NewModule returns an empty module for target.
func NewModule(target layout.Target, typesIn *types.Interner) *Module {
	if typesIn == nil {
		typesIn = types.NewInterner()
	}
	return &Module{
		Target:  target,
		Types:   typesIn,
		Funcs:   make(map[string]*Func),
		Statics: make(map[string]*Static),
	}
}

// AddFunc registers f under its path key, replacing any previous entry.
func (m *Module) AddFunc(f *Func) *Func {
	m.Funcs[f.Path.Key()] = f
	return f
}

// AddStatic registers s under its path key.
func (m *Module) AddStatic(s *Static) *Static {
	m.Statics[s.Path.Key()] = s
	return s
}

// Function looks a function up by path.
func (m *Module) Function(p Path) *Func {
	return m.FunctionByKey(p.Key())
}

// FunctionByKey looks a function up by path key.
func (m *Module) FunctionByKey(key string) *Func {
	if m == nil {
		return nil
	}
	return m.Funcs[key]
}

// Static looks a static item up by path.
func (m *Module) Static(p Path) *Static {
	return m.StaticByKey(p.Key())
}

// StaticByKey looks a static item up by path key.
func (m *Module) StaticByKey(key string) *Static {
	if m == nil {
		return nil
	}
	return m.Statics[key]
}

// ItemKind tells what Lookup found.
type ItemKind uint8

const (
	ItemNone ItemKind = iota
	ItemFunc
	ItemStatic
)

// Lookup resolves a path key to either a function or a static.
func (m *Module) Lookup(key string) (ItemKind, *Func, *Static) {
	if f := m.FunctionByKey(key); f != nil {
		return ItemFunc, f, nil
	}
	if s := m.StaticByKey(key); s != nil {
		return ItemStatic, nil, s
	}
	return ItemNone, nil, nil
}

// SortedFuncs returns the functions ordered by path key.
func (m *Module) SortedFuncs() []*Func {
	keys := make([]string, 0, len(m.Funcs))
	for k := range m.Funcs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*Func, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.Funcs[k])
	}
	return out
}

// SortedStatics returns the statics ordered by path key.
func (m *Module) SortedStatics() []*Static {
	keys := make([]string, 0, len(m.Statics))
	for k := range m.Statics {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*Static, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.Statics[k])
	}
	return out
}

// Tests returns the functions marked as tests, ordered by path key.
func (m *Module) Tests() []*Func {
	var out []*Func
	for _, f := range m.SortedFuncs() {
		if f.IsTest {
			out = append(out, f)
		}
	}
	return out
}
