package agentloop

import (
	"crypto/sha256"
	"fmt"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// extractToolCallSignatures extracts signatures from the most recent tool
// calls in the history.
func extractToolCallSignatures(history []Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := history[i]
		if msg.Role != RoleAssistant {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := msg.ToolCalls[j]
			sigs = append(sigs, toolCallSignature(tc.Name, tc.Arguments))
		}
	}
	// Reverse to chronological order.
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []Message, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := extractToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

// failureTracker counts failed calls per signature within one turn.
type failureTracker map[string]int

// record notes a result and reports whether the same call has now failed
// twice.
func (f failureTracker) record(call ToolCallRequest, result ToolResult) bool {
	if result.Success {
		return false
	}
	sig := toolCallSignature(call.Name, call.Arguments)
	f[sig]++
	return f[sig] == 2
}
