package main

import (
	"fmt"

	"github.com/charmbracelet/log"

	"miri/internal/erased"
	"miri/internal/mir"
	"miri/internal/observ"
)

// loadModule reads a module image, expands erased types unless noExpand is
// set, and validates the result.
func loadModule(path string, noExpand bool, timer *observ.Timer) (*mir.Module, error) {
	idx := timer.Begin("load")
	m, err := mir.ReadImageFile(path)
	if err != nil {
		timer.End(idx, "failed")
		return nil, err
	}
	timer.End(idx, fmt.Sprintf("%d functions, %d statics", len(m.Funcs), len(m.Statics)))
	log.Debug("loaded module image", "path", path, "target", m.Target.Triple, "funcs", len(m.Funcs))

	if !noExpand {
		idx = timer.Begin("expand")
		err = erased.Expand(m)
		timer.End(idx, "")
		if err != nil {
			return nil, fmt.Errorf("erased-type expansion: %w", err)
		}
	}

	idx = timer.Begin("validate")
	err = mir.Validate(m)
	timer.End(idx, "")
	if err != nil {
		return nil, fmt.Errorf("invalid module %s:\n%w", path, err)
	}
	return m, nil
}
