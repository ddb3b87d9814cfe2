package agentloop

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateOutput(t *testing.T) {
	if got := TruncateOutput("short", 100, TruncateHeadTail); got != "short" {
		t.Errorf("short output changed: %q", got)
	}

	out := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	headTail := TruncateOutput(out, 20, TruncateHeadTail)
	if !strings.HasPrefix(headTail, strings.Repeat("a", 10)) || !strings.HasSuffix(headTail, strings.Repeat("b", 10)) {
		t.Errorf("head_tail = %q", headTail)
	}
	if !strings.Contains(headTail, "80 characters were removed from the middle") {
		t.Errorf("head_tail warning missing: %q", headTail)
	}

	tail := TruncateOutput(out, 20, TruncateTail)
	if !strings.HasPrefix(tail, "[WARNING: Tool output was truncated. First 80 characters were removed.]") {
		t.Errorf("tail = %q", tail)
	}
	if !strings.HasSuffix(tail, strings.Repeat("b", 20)) {
		t.Errorf("tail should keep the end: %q", tail)
	}
}

func TestTruncateOutputKeepsRunesWhole(t *testing.T) {
	out := strings.Repeat("é", 50) // two bytes each
	for _, mode := range []TruncationMode{TruncateHeadTail, TruncateTail} {
		for _, limit := range []int{21, 23, 37} {
			got := TruncateOutput(out, limit, mode)
			if !utf8.ValidString(got) {
				t.Errorf("TruncateOutput(%s, %d) produced invalid UTF-8: %q", mode, limit, got)
			}
		}
	}

	got := TruncateOutput(out, 23, TruncateHeadTail)
	if !strings.HasPrefix(got, strings.Repeat("é", 5)+"\n") {
		t.Errorf("head = %q", got)
	}
	if !strings.Contains(got, "80 characters were removed") {
		t.Errorf("removed count should reflect the bytes dropped: %q", got)
	}
	if !strings.HasSuffix(got, "\n"+strings.Repeat("é", 5)) {
		t.Errorf("tail = %q", got)
	}

	cjk := strings.Repeat("漢", 40) // three bytes each
	if got := TruncateOutput(cjk, 31, TruncateTail); !utf8.ValidString(got) || !strings.HasSuffix(got, strings.Repeat("漢", 10)) {
		t.Errorf("tail truncation = %q", got)
	}
}

func TestTruncateLines(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		max       int
		want      string
		truncated bool
	}{
		{"under limit", "a\nb\n", 5, "a\nb\n", false},
		{"exact limit with trailing newline", "a\nb\nc\n", 3, "a\nb\nc\n", false},
		{"over limit", "1\n2\n3\n4\n5\n6\n7", 5, "1\n2\n3\n4\n5\n[output truncated: showing 5 of 7 lines]", true},
		{"disabled", "1\n2\n3", 0, "1\n2\n3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := TruncateLines(tt.output, tt.max)
			if got != tt.want || truncated != tt.truncated {
				t.Errorf("TruncateLines = %q, %v; want %q, %v", got, truncated, tt.want, tt.truncated)
			}
		})
	}
}

func TestTruncateToolOutputOverrides(t *testing.T) {
	output := strings.Repeat("x\n", 20)
	limits := TruncationLimits{
		LineLimit: 5,
		ToolLines: map[string]int{"read_file": 10},
		ToolChars: map[string]int{"file_info": 8},
	}

	got, truncated := TruncateToolOutput(output, "read_file", limits)
	if !truncated || !strings.Contains(got, "showing 10 of 20 lines") {
		t.Errorf("read_file = %q", got)
	}

	got, truncated = TruncateToolOutput(output, "terminal_command", limits)
	if !truncated || !strings.Contains(got, "showing 5 of 20 lines") {
		t.Errorf("terminal_command = %q", got)
	}

	got, truncated = TruncateToolOutput(strings.Repeat("y", 40), "file_info", TruncationLimits{ToolChars: limits.ToolChars})
	if !truncated || !strings.Contains(got, "characters were removed") {
		t.Errorf("file_info = %q", got)
	}

	if got, truncated := TruncateToolOutput("ok", "anything", TruncationLimits{LineLimit: 5}); truncated || got != "ok" {
		t.Errorf("small output = %q, %v", got, truncated)
	}
}
