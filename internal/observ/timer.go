// Package observ measures the phases of a miri run for --timings.
package observ

import (
	"fmt"
	"strings"
	"time"
)

// Phase is one measured stage of a run: loading the image, expanding erased
// types, validation, interpretation.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
	Steps uint64 // interpreter steps, for phases that execute code
}

// Timer collects phases in the order they begin.
type Timer struct {
	phases []Phase
}

func NewTimer() *Timer { return &Timer{phases: make([]Phase, 0, 4)} }

// Begin starts a phase and returns its index.
func (t *Timer) Begin(name string) int {
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	return len(t.phases) - 1
}

// End finishes the phase at idx. Unknown indices are ignored.
func (t *Timer) End(idx int, note string) {
	t.EndSteps(idx, note, 0)
}

// EndSteps finishes the phase at idx and records how many steps it ran.
func (t *Timer) EndSteps(idx int, note string, steps uint64) {
	if idx < 0 || idx >= len(t.phases) {
		return
	}
	p := &t.phases[idx]
	p.Dur = time.Since(p.Start)
	p.Note = note
	p.Steps = steps
}

// Summary renders the phases as an aligned table.
func (t *Timer) Summary() string {
	report := t.Report()
	var sb strings.Builder
	sb.WriteString("timings:\n")
	for _, p := range report.Phases {
		fmt.Fprintf(&sb, "  %-12s %9.2f ms", p.Name, p.DurationMS)
		if p.Steps > 0 {
			fmt.Fprintf(&sb, "  %d steps (%.0f/s)", p.Steps, p.StepsPerSec)
		}
		if p.Note != "" {
			sb.WriteString("  // " + p.Note)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-12s %9.2f ms\n", "total", report.TotalMS)
	return sb.String()
}

// PhaseReport is the serialisable form of a Phase.
type PhaseReport struct {
	Name        string  `json:"name"`
	DurationMS  float64 `json:"duration_ms"`
	Steps       uint64  `json:"steps,omitempty"`
	StepsPerSec float64 `json:"steps_per_sec,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// Report aggregates all phases.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Steps   uint64        `json:"steps"`
	Phases  []PhaseReport `json:"phases"`
}

// Report returns the phases with durations in milliseconds.
func (t *Timer) Report() Report {
	if len(t.phases) == 0 {
		return Report{}
	}
	report := Report{Phases: make([]PhaseReport, len(t.phases))}
	var total time.Duration
	for i, phase := range t.phases {
		total += phase.Dur
		report.Steps += phase.Steps
		pr := PhaseReport{
			Name:       phase.Name,
			DurationMS: durationToMillis(phase.Dur),
			Steps:      phase.Steps,
			Note:       phase.Note,
		}
		if phase.Steps > 0 && phase.Dur > 0 {
			pr.StepsPerSec = float64(phase.Steps) / phase.Dur.Seconds()
		}
		report.Phases[i] = pr
	}
	report.TotalMS = durationToMillis(total)
	return report
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
