package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"miri/internal/mir"
	"miri/internal/observ"
	"miri/internal/prof"
	"miri/internal/sched"
	"miri/internal/trace"
	"miri/internal/ui"
	"miri/internal/vm"
)

var testCmd = &cobra.Command{
	Use:   "test [flags] [image.mirpack]",
	Short: "Run the test functions of a MIR module image",
	Long:  `Run every function marked as a test, each on its own scheduler, and summarise the results`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTests,
}

func init() {
	testCmd.Flags().Int("jobs", 0, "tests to run in parallel (0 = GOMAXPROCS)")
	testCmd.Flags().String("filter", "", "run only tests whose path contains this string")
	testCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	addExecFlags(testCmd)
}

type testResult struct {
	name   string
	status ui.Status
	steps  uint64
	detail string
	output []byte
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	settings, err := resolveSettings(cmd, cfg)
	if err != nil {
		return err
	}
	imagePath, err := cfg.imagePath(args)
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	view, err := parseProgressView(uiValue)
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	tracer, cleanup, err := setupTracing(cmd, cfg.Config.Trace)
	if err != nil {
		return err
	}
	defer cleanup()

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	timer := observ.NewTimer()
	m, err := loadModule(imagePath, settings.NoExpand, timer)
	if err != nil {
		return err
	}
	tests := selectTests(m, settings.Filter)
	if len(tests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "running 0 tests")
		return nil
	}

	names := make([]string, len(tests))
	for i, f := range tests {
		names[i] = f.Path.Label(m.Types)
	}

	jobs := settings.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	var progress atomic.Uint64
	stopHeartbeat := tracer.startHeartbeat(progress.Load)
	defer stopHeartbeat()

	idx := timer.Begin("test")
	var results []testResult
	if view.interactive(cmd.OutOrStdout(), quiet, len(tests)) {
		results, err = runTestsWithUI(cmd.Context(), m, tests, names, settings, jobs, tracer.Tracer, &progress)
	} else {
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "running %d tests\n", len(tests))
		}
		results, err = runTestSet(cmd.Context(), m, tests, names, settings, jobs, tracer.Tracer, &progress, func(ev ui.Event) {
			if ev.Status.Finished() && (!quiet || ev.Status != ui.StatusPassed) {
				fmt.Fprintf(cmd.OutOrStdout(), "test %s ... %s\n", ev.Name, ev.Status)
			}
		})
	}
	var steps uint64
	for _, r := range results {
		steps += r.steps
	}
	timer.EndSteps(idx, fmt.Sprintf("%d tests", len(tests)), steps)
	if err != nil {
		return err
	}

	code := summarize(cmd.OutOrStdout(), results)
	if showTimings {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}
	if code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

func selectTests(m *mir.Module, filter string) []*mir.Func {
	var out []*mir.Func
	for _, f := range m.Tests() {
		if filter == "" || strings.Contains(f.Path.Key(), filter) {
			out = append(out, f)
		}
	}
	return out
}

// runTestSet runs tests on up to jobs goroutines. Each test gets its own
// scheduler, and with it its own statics and stdout buffer. Steps of
// finished tests are added to progress when it is non-nil.
func runTestSet(ctx context.Context, m *mir.Module, tests []*mir.Func, names []string, settings execSettings, jobs int, tracer trace.Tracer, progress *atomic.Uint64, emit func(ui.Event)) ([]testResult, error) {
	results := make([]testResult, len(tests))
	var emitMu sync.Mutex
	report := func(ev ui.Event) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(ev)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, f := range tests {
		g.Go(func() error {
			report(ui.Event{Name: names[i], Status: ui.StatusRunning})
			var r testResult
			var err error
			prof.Labeled(ctx, "test", names[i], func(ctx context.Context) {
				r, err = runOneTest(ctx, m, f, names[i], settings, tracer)
			})
			if err != nil {
				return err
			}
			results[i] = r
			if progress != nil {
				progress.Add(r.steps)
			}
			report(ui.Event{Name: r.name, Status: r.status, Steps: r.steps, Detail: r.detail})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runOneTest(ctx context.Context, m *mir.Module, f *mir.Func, name string, settings execSettings, tracer trace.Tracer) (testResult, error) {
	var out bytes.Buffer
	s := sched.New(m, sched.Config{
		Quantum:  settings.Quantum,
		MaxSteps: settings.MaxSteps,
		MaxDepth: settings.MaxDepth,
		Tracer:   tracer,
		Stdout:   &out,
		Stderr:   &out,
	})
	res := testResult{name: name}
	main, vmErr := s.Start(f.Path, nil)
	if vmErr != nil {
		res.status, res.detail = ui.StatusErrored, vmErr.Error()
		return res, nil
	}

	err := s.Run(ctx)
	res.steps = s.Steps()
	res.output = out.Bytes()

	var fatal *vm.VMError
	switch {
	case errors.As(err, &fatal):
		res.status, res.detail = ui.StatusErrored, fatal.Report()
		return res, nil
	case errors.Is(err, sched.ErrOutOfFuel):
		res.status, res.detail = ui.StatusErrored, err.Error()
		return res, nil
	case err != nil:
		return res, err
	}

	outcome := main.VM.Outcome()
	switch outcome.Kind {
	case vm.OutcomeReturned:
		res.status = ui.StatusPassed
	case vm.OutcomePanicked:
		res.status = ui.StatusFailed
		res.detail = fmt.Sprintf("panicked at '%s'", payloadText(main.VM, outcome))
	default:
		res.status = ui.StatusFailed
		res.detail = "aborted: " + outcome.Reason
	}
	return res, nil
}

type testSetOutcome struct {
	results []testResult
	err     error
}

func runTestsWithUI(ctx context.Context, m *mir.Module, tests []*mir.Func, names []string, settings execSettings, jobs int, tracer trace.Tracer, progress *atomic.Uint64) ([]testResult, error) {
	events := make(chan ui.Event, 256)
	outcomeCh := make(chan testSetOutcome, 1)

	go func() {
		results, err := runTestSet(ctx, m, tests, names, settings, jobs, tracer, progress, func(ev ui.Event) { events <- ev })
		outcomeCh <- testSetOutcome{results: results, err: err}
		close(events)
	}()

	model := ui.NewProgressModel("miri test", names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}

// summarize prints failure details and the result line, and returns the exit
// code for the run.
func summarize(w io.Writer, results []testResult) int {
	var passed, failed, errored int
	var failures []testResult
	for _, r := range results {
		switch r.status {
		case ui.StatusPassed:
			passed++
		case ui.StatusFailed:
			failed++
			failures = append(failures, r)
		default:
			errored++
			failures = append(failures, r)
		}
	}

	if len(failures) > 0 {
		fmt.Fprintln(w, "\nfailures:")
		for _, r := range failures {
			fmt.Fprintf(w, "\n---- %s ----\n", r.name)
			if len(r.output) > 0 {
				w.Write(r.output) //nolint:errcheck // best-effort report
				if r.output[len(r.output)-1] != '\n' {
					fmt.Fprintln(w)
				}
			}
			fmt.Fprintln(w, r.detail)
		}
	}

	verdict := "ok"
	if failed+errored > 0 {
		verdict = panicHeader.Sprint("FAILED")
	}
	fmt.Fprintf(w, "\ntest result: %s. %d passed; %d failed; %d errored\n", verdict, passed, failed, errored)

	switch {
	case errored > 0:
		return exitFatal
	case failed > 0:
		return exitPanic
	}
	return exitOK
}
