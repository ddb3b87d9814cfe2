package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/martinemde/supernova/agentloop"
	"github.com/martinemde/supernova/render"
	"github.com/martinemde/supernova/store"
)

const helpText = `Commands:
  /help              show this help
  /tools             list available tools
  /history           show this chat and recent saved chats
  /clear             start a new chat
  /streaming on|off  toggle streamed responses
  /exit              quit
Ctrl-C interrupts a running turn; on an empty prompt it quits.`

type repl struct {
	sess     *agentloop.Session
	term     *render.Terminal
	lines    <-chan string
	sigs     <-chan os.Signal
	db       *store.DB
	recorder *store.Recorder
	workDir  string
	logger   *slog.Logger
}

func (r *repl) loop(ctx context.Context) error {
	p := r.sess.Profile()
	r.term.Notice(fmt.Sprintf("supernova · %s/%s · /help for commands", p.Provider, p.Model))
	for {
		r.term.Drain(time.Second)
		r.term.Printf("\n› ")

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-r.sigs:
			r.term.Printf("\n")
			return nil
		case l, ok := <-r.lines:
			if !ok {
				r.term.Printf("\n")
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if exit := r.command(ctx, line); exit {
				return nil
			}
			continue
		}
		r.submit(ctx, line)
	}
}

// submit runs one turn, turning Ctrl-C into Interrupt while it runs.
func (r *repl) submit(ctx context.Context, text string) {
	r.term.SetLive(r.sess.StreamingEnabled())
	done := make(chan error, 1)
	go func() { done <- r.sess.Submit(ctx, text) }()

	var err error
wait:
	for {
		select {
		case err = <-done:
			break wait
		case <-r.sigs:
			r.sess.Interrupt()
		}
	}
	r.term.Drain(time.Second)

	var limit *agentloop.IterationLimitError
	switch {
	case err == nil:
	case errors.Is(err, agentloop.ErrTurnCancelled):
		r.term.Notice("interrupted")
	case errors.As(err, &limit):
		r.logger.Info("turn stopped at iteration limit", "limit", limit.Limit)
	default:
		r.logger.Error("turn failed", "error", err)
	}
}

// command handles a slash command and reports whether to exit.
func (r *repl) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		r.term.Printf("%s\n", helpText)
	case "/tools":
		r.printTools()
	case "/history":
		r.printHistory(ctx)
	case "/clear":
		if err := r.sess.Clear(); err != nil {
			r.term.Error(err.Error())
			return false
		}
		if err := newChat(ctx, r.db, r.recorder, r.workDir, r.sess.Profile().Model); err != nil {
			r.term.Error(err.Error())
			return false
		}
		r.term.Notice("started a new chat")
	case "/streaming":
		r.setStreaming(fields[1:])
	default:
		r.term.Error(fmt.Sprintf("unknown command %s (try /help)", fields[0]))
	}
	return false
}

func (r *repl) setStreaming(args []string) {
	if len(args) == 0 {
		state := "off"
		if r.sess.StreamingEnabled() {
			state = "on"
		}
		r.term.Notice("streaming is " + state)
		return
	}
	switch args[0] {
	case "on":
		r.sess.SetStreaming(true)
	case "off":
		r.sess.SetStreaming(false)
	default:
		r.term.Error("usage: /streaming on|off")
		return
	}
	r.term.SetLive(r.sess.StreamingEnabled())
	r.term.Notice("streaming " + args[0])
}

func (r *repl) printTools() {
	var sb strings.Builder
	for _, def := range r.sess.Registry().Definitions() {
		fmt.Fprintf(&sb, "%s\n  %s\n", def.Name, firstLine(def.Description))
		for _, ex := range def.Examples {
			fmt.Fprintf(&sb, "  e.g. %s\n", ex)
		}
	}
	r.term.Printf("%s", sb.String())
}

func (r *repl) printHistory(ctx context.Context) {
	var sb strings.Builder
	history := r.sess.History()
	fmt.Fprintf(&sb, "This chat: %d messages\n", len(history))
	for _, m := range history {
		text := m.Content
		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, c := range m.ToolCalls {
				names[i] = c.Name
			}
			text = "calls " + strings.Join(names, ", ")
		}
		fmt.Fprintf(&sb, "  %-9s %s\n", m.Role, preview(text, 72))
	}

	if r.db != nil {
		chats, err := r.db.ListChats(ctx, 10)
		if err != nil {
			r.logger.Warn("list chats", "error", err)
		}
		if len(chats) > 0 {
			sb.WriteString("Saved chats:\n")
		}
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = "(empty)"
			}
			marker := " "
			if r.recorder != nil && c.ID == r.recorder.ChatID() {
				marker = "*"
			}
			fmt.Fprintf(&sb, " %s %-40s %3d msgs  %s\n", marker, preview(title, 40), c.MessageCount, humanize.Time(c.UpdatedAt))
		}
	}
	r.term.Printf("%s", sb.String())
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
