package render

import (
	"context"
	"io"
	"strings"

	"github.com/martinemde/supernova/agentloop"
)

// Confirmer returns a confirmation callback that prints a y/N prompt after
// queued output drains and reads the answer from lines. A closed lines
// channel declines with io.EOF.
func (t *Terminal) Confirmer(lines <-chan string) agentloop.ConfirmFunc {
	return func(ctx context.Context, description string) (bool, error) {
		t.Drain(drainTimeout)
		t.mu.Lock()
		t.endLine()
		t.write(t.styles.prompt.Render("Allow "+description+"?") + " [y/N] ")
		t.midLine = false
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			t.Printf("\n")
			return false, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				t.Printf("\n")
				return false, io.EOF
			}
			return parseYes(line), nil
		}
	}
}

func parseYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
