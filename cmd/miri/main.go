package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"miri/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "miri",
	Short:         "MIR interpreter",
	Long:          `miri executes MIR module images step by step and reports panics, aborts and undefined behaviour`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setupLogging(cmd); err != nil {
			return err
		}
		return applyColorFlag(cmd)
	},
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("quiet", false, "suppress non-essential output")
	flags.Bool("timings", false, "show timing information")
	flags.String("log-level", "warn", "log level (debug|info|warn|error)")
	flags.String("config", "", "path to miri.toml (default: search upwards from the working directory)")

	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "ring", "trace storage mode (stream|ring|both)")
	flags.Int("trace-ring-size", 4096, "trace ring buffer capacity")
	flags.Duration("trace-heartbeat", 0, "trace heartbeat interval (0 disables)")

	flags.String("cpu-profile", "", "write a CPU profile of the interpreter to this file")
	flags.String("mem-profile", "", "write a heap profile of the interpreter to this file")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			log.Error(exit.err.Error())
		}
		os.Exit(exit.code)
	}
	log.Error(err.Error())
	os.Exit(1)
}

// exitError carries a process exit code out of a command. err is logged when
// set; program panics and aborts are reported by the command itself.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
