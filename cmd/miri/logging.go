package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

func setupLogging(cmd *cobra.Command) error {
	levelStr, err := cmd.Root().PersistentFlags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "miri",
		Level:           level,
	})
	logger.SetColorProfile(termenv.ANSI256)
	if colorMode(cmd) == "off" || (colorMode(cmd) == "auto" && !isTerminal(os.Stderr)) {
		logger.SetColorProfile(termenv.Ascii)
	}
	log.SetDefault(logger)
	return nil
}

func colorMode(cmd *cobra.Command) string {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return "auto"
	}
	return strings.ToLower(strings.TrimSpace(mode))
}

// applyColorFlag configures fatih/color for panic reports and the version
// banner.
func applyColorFlag(cmd *cobra.Command) error {
	switch colorMode(cmd) {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto", "":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", colorMode(cmd))
	}
	return nil
}
