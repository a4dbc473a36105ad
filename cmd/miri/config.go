package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

const configFileName = "miri.toml"

type projectConfig struct {
	Run   runConfig   `toml:"run"`
	Trace traceConfig `toml:"trace"`
	Test  testConfig  `toml:"test"`
}

type runConfig struct {
	Image    string `toml:"image"`
	Entry    string `toml:"entry"`
	MaxSteps uint64 `toml:"max_steps"`
	MaxDepth int    `toml:"max_depth"`
	Quantum  int    `toml:"quantum"`
}

type traceConfig struct {
	Level    string `toml:"level"`
	Output   string `toml:"output"`
	Mode     string `toml:"mode"`
	RingSize int    `toml:"ring_size"`
}

type testConfig struct {
	Jobs   int    `toml:"jobs"`
	Filter string `toml:"filter"`
}

// loadedConfig is a decoded miri.toml and where it was found. Relative paths
// inside it resolve against Root.
type loadedConfig struct {
	Path   string
	Root   string
	Config projectConfig
}

func findConfigFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func decodeConfig(path string) (projectConfig, error) {
	var cfg projectConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return projectConfig{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if cfg.Run.MaxDepth < 0 {
		return projectConfig{}, fmt.Errorf("%s: [run].max_depth must not be negative", path)
	}
	if cfg.Run.Quantum < 0 {
		return projectConfig{}, fmt.Errorf("%s: [run].quantum must not be negative", path)
	}
	if cfg.Test.Jobs < 0 {
		return projectConfig{}, fmt.Errorf("%s: [test].jobs must not be negative", path)
	}
	return cfg, nil
}

// loadConfig reads the file named by --config, or searches upwards from the
// working directory. A missing file is not an error.
func loadConfig(cmd *cobra.Command) (*loadedConfig, error) {
	explicit, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	path := explicit
	if path == "" {
		found, ok, err := findConfigFile(".")
		if err != nil {
			return nil, err
		}
		if !ok {
			return &loadedConfig{}, nil
		}
		path = found
	}
	cfg, err := decodeConfig(path)
	if err != nil {
		return nil, err
	}
	return &loadedConfig{Path: path, Root: filepath.Dir(path), Config: cfg}, nil
}

// imagePath picks the module image: the positional argument, else [run].image.
func (c *loadedConfig) imagePath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if c.Config.Run.Image == "" {
		return "", errors.New("no module image given\nplease pass one explicitly, e.g.:\n  miri run path/to/module.mirpack\nor set [run].image in miri.toml")
	}
	if filepath.IsAbs(c.Config.Run.Image) {
		return c.Config.Run.Image, nil
	}
	return filepath.Join(c.Root, filepath.FromSlash(c.Config.Run.Image)), nil
}

// execSettings is the merged view of miri.toml and command-line flags.
type execSettings struct {
	Entry    string
	MaxSteps uint64
	MaxDepth int
	Quantum  int
	Jobs     int
	Filter   string
	NoExpand bool
}

// resolveSettings overlays flags the user set on top of miri.toml values.
func resolveSettings(cmd *cobra.Command, cfg *loadedConfig) (execSettings, error) {
	s := execSettings{
		Entry:    cfg.Config.Run.Entry,
		MaxSteps: cfg.Config.Run.MaxSteps,
		MaxDepth: cfg.Config.Run.MaxDepth,
		Quantum:  cfg.Config.Run.Quantum,
		Jobs:     cfg.Config.Test.Jobs,
		Filter:   cfg.Config.Test.Filter,
	}
	flags := cmd.Flags()
	var err error
	if flags.Lookup("entry") != nil && (flags.Changed("entry") || s.Entry == "") {
		if s.Entry, err = flags.GetString("entry"); err != nil {
			return s, err
		}
	}
	if flags.Changed("max-steps") {
		if s.MaxSteps, err = flags.GetUint64("max-steps"); err != nil {
			return s, err
		}
	}
	if flags.Changed("max-depth") {
		if s.MaxDepth, err = flags.GetInt("max-depth"); err != nil {
			return s, err
		}
	}
	if flags.Changed("quantum") {
		if s.Quantum, err = flags.GetInt("quantum"); err != nil {
			return s, err
		}
	}
	if flags.Lookup("jobs") != nil && flags.Changed("jobs") {
		if s.Jobs, err = flags.GetInt("jobs"); err != nil {
			return s, err
		}
	}
	if flags.Lookup("filter") != nil && flags.Changed("filter") {
		if s.Filter, err = flags.GetString("filter"); err != nil {
			return s, err
		}
	}
	if s.NoExpand, err = flags.GetBool("no-expand"); err != nil {
		return s, err
	}
	return s, nil
}

// addExecFlags registers the flags shared by run and test.
func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("max-steps", 0, "stop after this many interpreter steps (0 = unlimited)")
	cmd.Flags().Int("max-depth", 0, "abort with a stack overflow beyond this call depth (0 = unlimited)")
	cmd.Flags().Int("quantum", 0, "steps per scheduler turn (0 = default)")
	cmd.Flags().Bool("no-expand", false, "skip erased-type expansion")
}
