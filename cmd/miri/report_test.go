package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"

	"miri/internal/mir"
	"miri/internal/testkit"
	"miri/internal/types"
	"miri/internal/ui"
	"miri/internal/vm"
)

func panicking(msg string) *mir.Module {
	m, b := testkit.NewModule()
	strRef := m.Types.Intern(types.MakeBorrow(b.Str, false))
	testkit.Func(m, mir.P("main"), nil, b.Unit, nil, testkit.Block(testkit.Panic(strRef, msg)))
	return m
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		kind vm.OutcomeKind
		want int
	}{
		{vm.OutcomeReturned, exitOK},
		{vm.OutcomePanicked, exitPanic},
		{vm.OutcomeAborted, exitAbort},
	}
	for _, tc := range cases {
		if got := exitCodeFor(vm.Outcome{Kind: tc.kind}); got != tc.want {
			t.Fatalf("exitCodeFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestWriteOutcomeNormalizesPayload(t *testing.T) {
	color.NoColor = true
	th := vm.New(panicking("café"), vm.Options{})
	if vmErr := th.Start(mir.P("main"), nil); vmErr != nil {
		t.Fatalf("start: %v", vmErr)
	}
	if err := testkit.Run(th, 1000); err != nil {
		t.Fatalf("run: %v", err)
	}
	var buf bytes.Buffer
	writeOutcome(&buf, "main", th)
	if !strings.HasPrefix(buf.String(), "thread 'main' panicked at 'café'\n") {
		t.Fatalf("unexpected report %q", buf.String())
	}
}

func TestRunOneTest(t *testing.T) {
	m, b := testkit.NewModule()
	strRef := m.Types.Intern(types.MakeBorrow(b.Str, false))
	testkit.Func(m, mir.P("tests::passes"), nil, b.Unit, nil, testkit.Block(testkit.Return())).IsTest = true
	testkit.Func(m, mir.P("tests::fails"), nil, b.Unit, nil, testkit.Block(testkit.Panic(strRef, "boom"))).IsTest = true
	testkit.Func(m, mir.P("tests::broken"), nil, b.Unit, nil, testkit.Block(testkit.Unreachable())).IsTest = true
	testkit.Func(m, mir.P("helper"), nil, b.Unit, nil, testkit.Block(testkit.Return()))

	tests := selectTests(m, "tests::")
	if len(tests) != 3 {
		t.Fatalf("selected %d tests, want 3", len(tests))
	}
	names := make([]string, len(tests))
	for i, f := range tests {
		names[i] = f.Path.Key()
	}

	var events []ui.Event
	results, err := runTestSet(context.Background(), m, tests, names, execSettings{MaxSteps: 10_000}, 2, nil, nil,
		func(ev ui.Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("runTestSet: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("expected a running and a finished event per test, got %d", len(events))
	}

	byName := make(map[string]testResult)
	for _, r := range results {
		byName[r.name] = r
	}
	if r := byName["tests::passes"]; r.status != ui.StatusPassed {
		t.Fatalf("passes: %s %s", r.status, r.detail)
	}
	if r := byName["tests::fails"]; r.status != ui.StatusFailed || !strings.Contains(r.detail, "boom") {
		t.Fatalf("fails: %s %s", r.status, r.detail)
	}
	if r := byName["tests::broken"]; r.status != ui.StatusErrored {
		t.Fatalf("broken: %s %s", r.status, r.detail)
	}

	color.NoColor = true
	var buf bytes.Buffer
	if code := summarize(&buf, results); code != exitFatal {
		t.Fatalf("summarize exit code %d, want %d", code, exitFatal)
	}
	if !strings.Contains(buf.String(), "test result: FAILED. 1 passed; 1 failed; 1 errored") {
		t.Fatalf("unexpected summary:\n%s", buf.String())
	}
}
