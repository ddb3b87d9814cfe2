// Command supernova is an interactive coding assistant for the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/martinemde/supernova/agentloop"
	"github.com/martinemde/supernova/config"
	"github.com/martinemde/supernova/render"
	"github.com/martinemde/supernova/store"
	"github.com/martinemde/supernova/tools"
	"github.com/martinemde/supernova/unifiedllm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "supernova:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		resume     bool
		noStream   bool
		logStderr  bool
	)
	flag.StringVar(&configPath, "config", "", "path to a config file")
	flag.BoolVar(&resume, "continue", false, "resume the latest chat in this directory")
	flag.BoolVar(&noStream, "no-stream", false, "disable streamed responses")
	flag.BoolVar(&logStderr, "log-stderr", false, "write logs to stderr instead of the log file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if noStream {
		cfg.Chat.Streaming = false
	}

	logger, closeLog, err := setupLogging(cfg.Logging, logStderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("starting", "provider", cfg.Provider, "model", cfg.Model, "config", cfg.Source)

	ctx := context.Background()

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	env := agentloop.NewLocalExecutionEnvironment(wd)

	registry := agentloop.NewToolRegistry()
	if err := tools.RegisterDefaults(registry); err != nil {
		return err
	}
	filter, err := cfg.SafetyFilter()
	if err != nil {
		return err
	}

	profile := agentloop.NewProfile(cfg.Provider, cfg.Model)
	sc := cfg.SessionConfig()
	sc.SystemPrompt = agentloop.BuildSystemPrompt(agentloop.PromptInput{
		Env:              env,
		Model:            profile.Model,
		Tools:            registry.Definitions(),
		KeyFiles:         cfg.ProjectContext.KeyFiles,
		MaxCommits:       cfg.ProjectContext.MaxCommits,
		UserInstructions: cfg.Chat.Instructions,
	})

	term := render.ForStdout(sc.Streaming)
	go term.Run()
	defer term.Close()

	lines := readLines(os.Stdin)
	opts := []agentloop.SessionOption{
		agentloop.WithConfig(sc),
		agentloop.WithEventSink(term),
		agentloop.WithConfirmation(term.Confirmer(lines)),
		agentloop.WithLogger(logger),
		agentloop.WithSessionSafetyFilter(filter),
	}

	var (
		db       *store.DB
		recorder *store.Recorder
		restored []agentloop.Message
	)
	if cfg.Persistence.Enabled {
		db, err = store.Open(ctx, cfg.Persistence.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder, restored, err = openChat(ctx, db, wd, profile.Model, resume)
		if err != nil {
			return err
		}
		opts = append(opts, agentloop.WithRecorder(recorder))
	} else if resume {
		term.Notice("persistence is disabled; starting a new chat")
	}

	sess := agentloop.NewSession(client, profile, registry, env, opts...)
	defer sess.Close()
	if len(restored) > 0 {
		if err := sess.Restore(restored); err != nil {
			logger.Warn("saved chat could not be restored", "error", err)
			term.Notice("saved chat is inconsistent; starting fresh")
			if err := newChat(ctx, db, recorder, wd, profile.Model); err != nil {
				return err
			}
		} else {
			term.Notice(fmt.Sprintf("resumed chat with %d messages", len(restored)))
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	r := &repl{
		sess:     sess,
		term:     term,
		lines:    lines,
		sigs:     sigs,
		db:       db,
		recorder: recorder,
		workDir:  wd,
		logger:   logger,
	}
	return r.loop(ctx)
}

func setupLogging(cfg config.LoggingConfig, toStderr bool) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if toStderr || cfg.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
}

func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	switch cfg.Provider {
	case "gemini":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		a, err := unifiedllm.NewGeminiAdapter(ctx, key, cfg.Model)
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		a, err := unifiedllm.NewGollmAdapter(cfg.Provider,
			unifiedllm.WithAPIKey(cfg.APIKey),
			unifiedllm.WithModel(cfg.Model),
			unifiedllm.WithMaxTokens(cfg.MaxTokens),
			unifiedllm.WithTemperature(cfg.Temperature),
		)
		if err != nil {
			return nil, err
		}
		adapter = a
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
		unifiedllm.WithStreamMiddleware(unifiedllm.StreamLoggingMiddleware(logger)),
	), nil
}

// openChat returns a recorder for a new chat, or for the latest chat in wd
// together with its transcript when resuming.
func openChat(ctx context.Context, db *store.DB, wd, model string, resume bool) (*store.Recorder, []agentloop.Message, error) {
	if resume {
		chat, err := db.LatestChat(ctx, wd)
		switch {
		case err == nil:
			msgs, err := db.Messages(ctx, chat.ID)
			if err != nil {
				return nil, nil, err
			}
			return db.Recorder(chat.ID), msgs, nil
		case !errors.Is(err, store.ErrNoChat):
			return nil, nil, err
		}
	}
	chat, err := db.CreateChat(ctx, wd, model)
	if err != nil {
		return nil, nil, err
	}
	return db.Recorder(chat.ID), nil, nil
}

// newChat points recorder at a fresh chat. It is a no-op without a store.
func newChat(ctx context.Context, db *store.DB, recorder *store.Recorder, wd, model string) error {
	if db == nil || recorder == nil {
		return nil
	}
	chat, err := db.CreateChat(ctx, wd, model)
	if err != nil {
		return err
	}
	recorder.SetChat(chat.ID)
	return nil
}

// readLines feeds stdin lines to one channel shared by the prompt and the
// confirmation callback. The channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
