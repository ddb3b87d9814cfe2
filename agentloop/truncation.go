package agentloop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultCharLimit applies to tools without an entry in DefaultToolCharLimits.
const DefaultCharLimit = 30000

// Default character limits per tool.
var DefaultToolCharLimits = map[string]int{
	"read_file":        50000,
	"terminal_command": 30000,
	"file_info":        5000,
	"file_stats":       5000,
	"file_create":      1000,
}

// Default truncation modes per tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read_file":        TruncateHeadTail,
	"terminal_command": TruncateHeadTail,
	"file_create":      TruncateTail,
}

// TruncateOutput applies character-based truncation to output. Cuts land on
// rune boundaries, so the result is valid UTF-8 whenever the input is.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	switch mode {
	case TruncateTail:
		tail := output[runeStartAfter(output, len(output)-maxChars):]
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", len(output)-len(tail)) +
			tail
	default:
		half := maxChars / 2
		head := output[:runeStartBefore(output, half)]
		tail := output[runeStartAfter(output, len(output)-half):]
		return head +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n",
				len(output)-len(head)-len(tail)) +
			tail
	}
}

// runeStartBefore moves i back to the nearest rune start at or before it.
func runeStartBefore(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeStartAfter moves i forward to the nearest rune start at or after it.
func runeStartAfter(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// TruncateLines keeps the first maxLines lines and appends a note with the
// original line count. It reports whether anything was removed.
func TruncateLines(output string, maxLines int) (string, bool) {
	if maxLines <= 0 {
		return output, false
	}
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) <= maxLines {
		return output, false
	}
	return strings.Join(lines[:maxLines], "\n") +
		fmt.Sprintf("\n[output truncated: showing %d of %d lines]", maxLines, len(lines)), true
}

// TruncationLimits carries the configured limits for the pipeline.
type TruncationLimits struct {
	LineLimit int
	ToolLines map[string]int
	ToolChars map[string]int
}

// TruncateToolOutput applies the full truncation pipeline for a tool:
// 1. Character-based truncation (handles pathological cases)
// 2. Line-based truncation to the configured line limit
func TruncateToolOutput(output, toolName string, limits TruncationLimits) (string, bool) {
	maxChars, ok := limits.ToolChars[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = DefaultCharLimit
		}
	}
	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)
	charTruncated := len(result) != len(output)

	maxLines := limits.LineLimit
	if ml, ok := limits.ToolLines[toolName]; ok {
		maxLines = ml
	}
	result, lineTruncated := TruncateLines(result, maxLines)
	return result, charTruncated || lineTruncated
}
