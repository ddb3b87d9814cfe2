// Package render prints session events to a terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/martinemde/supernova/agentloop"
)

const (
	defaultPreviewLines = 8
	drainTimeout        = 2 * time.Second
)

type styles struct {
	tool, dim, ok, fail, warn, prompt lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		tool:   r.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		dim:    r.NewStyle().Foreground(lipgloss.Color("8")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		prompt: r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	}
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithMarkdown renders buffered assistant replies as markdown.
func WithMarkdown(r *glamour.TermRenderer) Option {
	return func(t *Terminal) { t.md = r }
}

// WithPreviewLines caps how many output lines a tool result shows.
func WithPreviewLines(n int) Option {
	return func(t *Terminal) { t.previewLines = n }
}

// WithLive sets whether text deltas print as they arrive.
func WithLive(live bool) Option {
	return func(t *Terminal) { t.live = live }
}

// Terminal is an agentloop.EventSink that buffers events and prints them from
// its own goroutine. Call Run to start printing and Close when done.
type Terminal struct {
	out          io.Writer
	styles       styles
	md           *glamour.TermRenderer
	previewLines int

	emitter *agentloop.EventEmitter
	queued  atomic.Int64
	handled atomic.Int64
	done    chan struct{}

	mu       sync.Mutex
	live     bool
	turn     int
	turnLive bool
	pending  strings.Builder
	midLine  bool
	printed  bool
}

// NewTerminal returns a Terminal writing to out.
func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		out:          out,
		styles:       newStyles(lipgloss.NewRenderer(out)),
		previewLines: defaultPreviewLines,
		emitter:      agentloop.NewEventEmitter(1024),
		done:         make(chan struct{}),
		live:         true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ForStdout builds a Terminal for os.Stdout, enabling markdown when stdout is
// a terminal.
func ForStdout(live bool) *Terminal {
	opts := []Option{WithLive(live)}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		width := 0
		if w, _, err := term.GetSize(fd); err == nil && w > 4 {
			width = w - 4
		}
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width)); err == nil {
			opts = append(opts, WithMarkdown(r))
		}
	}
	return NewTerminal(os.Stdout, opts...)
}

// Emit queues an event. It never blocks.
func (t *Terminal) Emit(ev agentloop.SessionEvent) {
	t.queued.Add(1)
	t.emitter.Emit(ev)
}

// Run prints queued events until Close.
func (t *Terminal) Run() {
	defer close(t.done)
	for ev := range t.emitter.Events() {
		t.mu.Lock()
		t.handle(ev)
		t.mu.Unlock()
		t.handled.Add(1)
	}
}

// Close stops Run after the queue drains.
func (t *Terminal) Close() {
	t.emitter.Close()
	<-t.done
}

// SetLive sets whether text deltas print as they arrive. It applies from the
// next turn.
func (t *Terminal) SetLive(live bool) {
	t.mu.Lock()
	t.live = live
	t.mu.Unlock()
}

// Drain waits until every queued event has been printed or timeout passes.
func (t *Terminal) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if t.handled.Load()+int64(t.emitter.Dropped()) >= t.queued.Load() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Printf writes a plain line outside the event stream.
func (t *Terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLine()
	fmt.Fprintf(t.out, format, args...)
}

// Notice writes a dimmed informational line.
func (t *Terminal) Notice(msg string) {
	t.Printf("%s\n", t.styles.dim.Render(msg))
}

// Error writes an error line.
func (t *Terminal) Error(msg string) {
	t.Printf("%s\n", t.styles.fail.Render("error: ")+msg)
}

func (t *Terminal) handle(ev agentloop.SessionEvent) {
	if ev.Turn != t.turn {
		t.turn = ev.Turn
		t.turnLive = t.live
		t.pending.Reset()
		t.printed = false
	}

	switch ev.Kind {
	case agentloop.EventTextDelta:
		text, _ := ev.Data["text"].(string)
		if t.turnLive {
			t.write(text)
			t.printed = t.printed || text != ""
		} else {
			t.pending.WriteString(text)
		}

	case agentloop.EventToolCallStarted:
		// Buffered turns may still be replaced by a fallback reply.
		if !t.turnLive {
			return
		}
		name, _ := ev.Data["tool_name"].(string)
		t.flushText()
		t.writeLine(t.styles.dim.Render("… generating " + name))
		t.printed = true

	case agentloop.EventToolCallDetected:
		t.flushText()
		name, _ := ev.Data["tool_name"].(string)
		args, _ := ev.Data["arguments"].(string)
		t.writeLine(t.styles.tool.Render("▸ "+name) + " " + t.styles.dim.Render(summarizeArgs(args)))

	case agentloop.EventToolResult:
		t.renderToolResult(ev.Data)

	case agentloop.EventStreamFallback:
		if t.printed {
			t.endLine()
			t.writeLine(t.styles.warn.Render("! stream interrupted, fetching the full reply"))
		}
		t.pending.Reset()
		t.printed = false
		t.turnLive = false

	case agentloop.EventWarning:
		msg, _ := ev.Data["message"].(string)
		t.flushText()
		t.writeLine(t.styles.warn.Render("! " + msg))

	case agentloop.EventTurnComplete:
		t.flushText()
		t.endLine()

	case agentloop.EventTurnError:
		msg, _ := ev.Data["error"].(string)
		t.flushText()
		t.writeLine(t.styles.fail.Render("error: ") + msg)
	}
}

func (t *Terminal) renderToolResult(data map[string]interface{}) {
	t.endLine()
	name, _ := data["tool_name"].(string)
	success, _ := data["success"].(bool)
	output, _ := data["output"].(string)

	if success {
		t.writeLine(t.styles.ok.Render("✓ " + name))
	} else {
		msg, _ := data["error"].(string)
		t.writeLine(t.styles.fail.Render("✗ "+name) + " " + msg)
	}

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if output == "" {
		return
	}
	shown := lines
	if t.previewLines > 0 && len(lines) > t.previewLines {
		shown = lines[:t.previewLines]
	}
	for _, line := range shown {
		t.writeLine(t.styles.dim.Render("  " + line))
	}
	if len(shown) < len(lines) {
		t.writeLine(t.styles.dim.Render(fmt.Sprintf("  … %d more lines", len(lines)-len(shown))))
	}
}

// flushText prints buffered assistant text, as markdown when available.
func (t *Terminal) flushText() {
	if t.pending.Len() == 0 {
		t.endLine()
		return
	}
	text := t.pending.String()
	t.pending.Reset()
	t.endLine()
	if t.md != nil && strings.TrimSpace(text) != "" {
		if rendered, err := t.md.Render(text); err == nil {
			t.write(strings.TrimRight(rendered, "\n") + "\n")
			return
		}
	}
	t.write(strings.TrimRight(text, "\n") + "\n")
}

func (t *Terminal) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(t.out, s)
	t.midLine = !strings.HasSuffix(s, "\n")
}

func (t *Terminal) writeLine(s string) {
	t.endLine()
	t.write(s + "\n")
}

func (t *Terminal) endLine() {
	if t.midLine {
		io.WriteString(t.out, "\n")
		t.midLine = false
	}
}

// summarizeArgs shows the command for shell calls and compact JSON otherwise.
func summarizeArgs(raw string) string {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return raw
	}
	if cmd, ok := args["command"].(string); ok {
		return cmd
	}
	if path, ok := args["path"].(string); ok && len(args) == 1 {
		return path
	}
	data, err := json.Marshal(args)
	if err != nil {
		return raw
	}
	const limit = 120
	if s := string(data); len(s) > limit {
		return s[:limit-1] + "…"
	}
	return string(data)
}
