package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// progressView is how `miri test` reports per-test progress.
type progressView uint8

const (
	viewAuto progressView = iota
	viewInteractive
	viewLines
)

func parseProgressView(flag string) (progressView, error) {
	switch strings.TrimSpace(strings.ToLower(flag)) {
	case "", "auto":
		return viewAuto, nil
	case "on", "tui":
		return viewInteractive, nil
	case "off", "plain":
		return viewLines, nil
	}
	return viewAuto, fmt.Errorf("invalid --ui value %q (expected auto|on|off)", flag)
}

// interactive reports whether a run of n tests gets the bubbletea view.
// Auto picks it only for a non-quiet run of several tests on a terminal.
func (v progressView) interactive(out io.Writer, quiet bool, n int) bool {
	switch v {
	case viewInteractive:
		return true
	case viewLines:
		return false
	}
	if quiet || n < 2 {
		return false
	}
	f, ok := out.(*os.File)
	return ok && isTerminal(f)
}
