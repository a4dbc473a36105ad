package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"miri/internal/mir"
	"miri/internal/observ"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] [image.mirpack]",
	Short: "Print the functions and statics of a MIR module image",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().String("filter", "", "print only functions whose path contains this string")
	dumpCmd.Flags().Bool("no-expand", false, "print the image before erased-type expansion")
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	imagePath, err := cfg.imagePath(args)
	if err != nil {
		return err
	}
	filter, err := cmd.Flags().GetString("filter")
	if err != nil {
		return fmt.Errorf("failed to get filter flag: %w", err)
	}
	noExpand, err := cmd.Flags().GetBool("no-expand")
	if err != nil {
		return fmt.Errorf("failed to get no-expand flag: %w", err)
	}

	m, err := loadModule(imagePath, noExpand, observ.NewTimer())
	if err != nil {
		return err
	}
	w := bufio.NewWriter(cmd.OutOrStdout())
	if err := mir.DumpModule(w, m, mir.DumpOptions{Filter: filter}); err != nil {
		return err
	}
	return w.Flush()
}
