package ui

import (
	"strings"
	"testing"
)

func TestProgressModelAppliesEvents(t *testing.T) {
	events := make(chan Event)
	m := NewProgressModel("tests", []string{"a::works", "a::breaks"}, events).(*progressModel)

	m.Update(eventMsg{Name: "a::works", Status: StatusPassed, Steps: 10})
	m.Update(eventMsg{Name: "a::breaks", Status: StatusFailed, Detail: "panicked at 'boom'"})
	m.Update(eventMsg{Name: "unknown", Status: StatusPassed})

	passed, finished := m.counts()
	if passed != 1 || finished != 2 {
		t.Fatalf("counts = (%d, %d), want (1, 2)", passed, finished)
	}
	view := m.View()
	for _, want := range []string{"2/2, 1 passed", "a::works", "FAILED", "panicked at 'boom'"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{in: "short", width: 10, want: "short"},
		{in: "core::tests::long_name", width: 10, want: "core::t..."},
		{in: "abcdef", width: 3, want: "abc"},
		{in: "日本語テスト", width: 7, want: "日本..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
