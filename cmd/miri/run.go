package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"miri/internal/mir"
	"miri/internal/observ"
	"miri/internal/prof"
	"miri/internal/sched"
	"miri/internal/vm"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [image.mirpack]",
	Short: "Execute a MIR module image",
	Long:  `Load a module image, run its entry function and report how the main thread finished`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExecution,
}

func init() {
	runCmd.Flags().String("entry", "main", "path of the entry function")
	runCmd.Flags().Bool("fuzz", false, "pick the next thread pseudo-randomly")
	runCmd.Flags().Uint64("seed", 1, "seed for --fuzz scheduling")
	addExecFlags(runCmd)
}

func runExecution(cmd *cobra.Command, args []string) error {
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
	fuzz, err := cmd.Flags().GetBool("fuzz")
	if err != nil {
		return fmt.Errorf("failed to get fuzz flag: %w", err)
	}
	seed, err := cmd.Flags().GetUint64("seed")
	if err != nil {
		return fmt.Errorf("failed to get seed flag: %w", err)
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

	s := sched.New(m, sched.Config{
		Quantum:  settings.Quantum,
		MaxSteps: settings.MaxSteps,
		Fuzz:     fuzz,
		Seed:     seed,
		MaxDepth: settings.MaxDepth,
		Tracer:   tracer.Tracer,
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
	})
	main, vmErr := s.Start(mir.P(settings.Entry), nil)
	if vmErr != nil {
		writeFatal(cmd.ErrOrStderr(), vmErr)
		return &exitError{code: exitFatal}
	}
	log.Debug("starting", "entry", settings.Entry, "quantum", settings.Quantum, "max_steps", settings.MaxSteps)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	stopHeartbeat := tracer.startHeartbeat(s.Steps)
	defer stopHeartbeat()

	idx := timer.Begin("run")
	var runErr error
	prof.Labeled(ctx, "entry", settings.Entry, func(ctx context.Context) {
		runErr = s.Run(ctx)
	})
	timer.EndSteps(idx, fmt.Sprintf("%d threads", len(s.Threads())), s.Steps())
	if showTimings {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}

	if runErr != nil {
		var fatal *vm.VMError
		switch {
		case errors.As(runErr, &fatal):
			writeFatal(cmd.ErrOrStderr(), fatal)
			dumpTraceRing(cmd.ErrOrStderr(), tracer.Tracer, fatal.Thread)
			return &exitError{code: exitFatal}
		case errors.Is(runErr, sched.ErrOutOfFuel):
			return &exitError{code: exitFatal, err: fmt.Errorf("%s did not finish: %w", settings.Entry, runErr)}
		default:
			return &exitError{code: exitFatal, err: runErr}
		}
	}

	for _, th := range s.Threads() {
		if th.ID != main.ID && th.Status != sched.ThreadDone {
			log.Warn("thread abandoned when main returned", "thread", th.ID, "entry", th.Entry.Key())
		}
	}
	writeOutcome(cmd.ErrOrStderr(), "main", main.VM)
	if code := exitCodeFor(main.VM.Outcome()); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}
