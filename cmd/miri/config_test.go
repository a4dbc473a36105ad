package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeConfig(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", configFileName, err)
	}
	return path
}

func TestFindConfigFileWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeConfig(t, root, "[run]\nentry = \"main\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, ok, err := findConfigFile(nested)
	if err != nil || !ok {
		t.Fatalf("findConfigFile: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("found %q, want %q", got, want)
	}
}

func TestDecodeConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `# demo
[run]
image = "build/demo.mirpack"
entry = "demo::main"
max_steps = 5000
quantum = 16

[trace]
level = "phase"
ring_size = 128

[test]
jobs = 2
filter = "alloc"
`)
	cfg, err := decodeConfig(path)
	if err != nil {
		t.Fatalf("decodeConfig: %v", err)
	}
	if cfg.Run.Entry != "demo::main" || cfg.Run.MaxSteps != 5000 || cfg.Run.Quantum != 16 {
		t.Fatalf("unexpected [run] %+v", cfg.Run)
	}
	if cfg.Trace.Level != "phase" || cfg.Trace.RingSize != 128 {
		t.Fatalf("unexpected [trace] %+v", cfg.Trace)
	}
	if cfg.Test.Jobs != 2 || cfg.Test.Filter != "alloc" {
		t.Fatalf("unexpected [test] %+v", cfg.Test)
	}
}

func TestDecodeConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", "[run]\nentyr = \"main\"\n", "unknown keys: run.entyr"},
		{"negative quantum", "[run]\nquantum = -1\n", "quantum must not be negative"},
		{"negative jobs", "[test]\njobs = -4\n", "jobs must not be negative"},
		{"bad toml", "[run\n", "failed to parse TOML"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tc.data)
			_, err := decodeConfig(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestImagePathResolvesAgainstConfigRoot(t *testing.T) {
	cfg := &loadedConfig{Root: "/proj", Config: projectConfig{Run: runConfig{Image: "out/app.mirpack"}}}
	got, err := cfg.imagePath(nil)
	if err != nil {
		t.Fatalf("imagePath: %v", err)
	}
	if got != filepath.Join("/proj", "out", "app.mirpack") {
		t.Fatalf("imagePath = %q", got)
	}
	if got, _ := cfg.imagePath([]string{"x.mirpack"}); got != "x.mirpack" {
		t.Fatalf("positional argument should win, got %q", got)
	}
	if _, err := (&loadedConfig{}).imagePath(nil); err == nil {
		t.Fatalf("expected an error without an image")
	}
}

func TestResolveSettingsFlagsOverrideFile(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "run"}
		cmd.Flags().String("entry", "main", "")
		addExecFlags(cmd)
		return cmd
	}
	cfg := &loadedConfig{Config: projectConfig{
		Run: runConfig{Entry: "demo::start", MaxSteps: 10, Quantum: 4},
	}}

	cmd := newCmd()
	if err := cmd.ParseFlags([]string{"--quantum", "9"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := resolveSettings(cmd, cfg)
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.Entry != "demo::start" || s.MaxSteps != 10 || s.Quantum != 9 {
		t.Fatalf("unexpected settings %+v", s)
	}

	cmd = newCmd()
	if err := cmd.ParseFlags([]string{"--entry", "other", "--no-expand"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err = resolveSettings(cmd, cfg)
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.Entry != "other" || !s.NoExpand {
		t.Fatalf("unexpected settings %+v", s)
	}

	s, err = resolveSettings(newCmd(), &loadedConfig{})
	if err != nil {
		t.Fatalf("resolveSettings: %v", err)
	}
	if s.Entry != "main" {
		t.Fatalf("entry should default to the flag value, got %q", s.Entry)
	}
}

func TestProgressView(t *testing.T) {
	tests := []struct {
		flag    string
		quiet   bool
		n       int
		want    bool
		wantErr bool
	}{
		{flag: "on", quiet: true, n: 1, want: true},
		{flag: "TUI", n: 3, want: true},
		{flag: "off", n: 3, want: false},
		{flag: "plain", n: 3, want: false},
		{flag: "auto", n: 3, want: false},
		{flag: "", quiet: true, n: 3, want: false},
		{flag: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			view, err := parseProgressView(tt.flag)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.flag)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseProgressView(%q): %v", tt.flag, err)
			}
			var out strings.Builder
			if got := view.interactive(&out, tt.quiet, tt.n); got != tt.want {
				t.Fatalf("interactive = %v, want %v", got, tt.want)
			}
		})
	}
}
