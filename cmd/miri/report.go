package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/unicode/norm"

	"miri/internal/vm"
)

// Process exit codes.
const (
	exitOK    = 0
	exitFatal = 1   // interpreter error, bad input
	exitPanic = 101 // uncaught program panic
	exitAbort = 134 // program abort (SIGABRT)
)

var (
	panicHeader = color.New(color.FgRed, color.Bold)
	fatalHeader = color.New(color.FgMagenta, color.Bold)
	dimText     = color.New(color.Faint)
)

func exitCodeFor(out vm.Outcome) int {
	switch out.Kind {
	case vm.OutcomePanicked:
		return exitPanic
	case vm.OutcomeAborted:
		return exitAbort
	default:
		return exitOK
	}
}

// payloadText renders a panic payload. Non-string payloads print as an
// opaque box.
func payloadText(th *vm.Thread, out vm.Outcome) string {
	msg, ok := th.PayloadString(out.Payload)
	if !ok {
		return "Box<dyn Any>"
	}
	return norm.NFC.String(msg)
}

// writeOutcome reports a panicked or aborted thread. Returned threads print
// nothing.
func writeOutcome(w io.Writer, name string, th *vm.Thread) {
	out := th.Outcome()
	switch out.Kind {
	case vm.OutcomePanicked:
		fmt.Fprintf(w, "%s '%s' panicked at '%s'\n", panicHeader.Sprint("thread"), name, payloadText(th, out))
		fmt.Fprintln(w, dimText.Sprintf("  after %d steps", th.InstructionCount()))
	case vm.OutcomeAborted:
		fmt.Fprintf(w, "%s %s\n", panicHeader.Sprint("fatal runtime error:"), out.Reason)
	}
}

// writeFatal reports an interpreter error with its backtrace.
func writeFatal(w io.Writer, vmErr *vm.VMError) {
	report := strings.TrimRight(vmErr.Report(), "\n")
	head, rest, _ := strings.Cut(report, "\n")
	fmt.Fprintln(w, fatalHeader.Sprint(head))
	if rest != "" {
		fmt.Fprintln(w, rest)
	}
}
