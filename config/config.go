// Package config loads supernova settings from a YAML file and SUPERNOVA_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/supernova/agentloop"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SUPERNOVA_"

// Config is the full application configuration.
type Config struct {
	Provider    string  `yaml:"provider" env:"PROVIDER" validate:"required,oneof=openai anthropic gemini ollama groq mistral deepseek openrouter"`
	Model       string  `yaml:"model" env:"MODEL"`
	APIKey      string  `yaml:"api_key" env:"API_KEY"`
	MaxTokens   int     `yaml:"max_tokens" env:"MAX_TOKENS" validate:"gt=0"`
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE" validate:"gte=0,lte=2"`

	Chat             ChatConfig             `yaml:"chat" envPrefix:"CHAT_"`
	CommandExecution CommandExecutionConfig `yaml:"command_execution" envPrefix:"COMMAND_"`
	Persistence      PersistenceConfig      `yaml:"persistence" envPrefix:"PERSISTENCE_"`
	ProjectContext   ProjectContextConfig   `yaml:"project_context" envPrefix:"PROJECT_"`
	Logging          LoggingConfig          `yaml:"logging" envPrefix:"LOG_"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

// ChatConfig controls the turn loop.
type ChatConfig struct {
	Streaming              bool   `yaml:"streaming" env:"STREAMING"`
	MaxToolIterations      int    `yaml:"max_tool_iterations" env:"MAX_TOOL_ITERATIONS" validate:"gt=0"`
	ToolResultLineLimit    int    `yaml:"tool_result_line_limit" env:"TOOL_RESULT_LINE_LIMIT" validate:"gt=0"`
	StreamFailureThreshold int    `yaml:"stream_failure_threshold" env:"STREAM_FAILURE_THRESHOLD" validate:"gte=0"`
	LoopDetection          bool   `yaml:"loop_detection" env:"LOOP_DETECTION"`
	LoopDetectionWindow    int    `yaml:"loop_detection_window" env:"LOOP_DETECTION_WINDOW" validate:"gte=0"`
	Instructions           string `yaml:"instructions" env:"INSTRUCTIONS"`
}

// CommandExecutionConfig controls the confirmation gate and tool limits.
type CommandExecutionConfig struct {
	RequireConfirmation bool `yaml:"require_confirmation" env:"REQUIRE_CONFIRMATION"`
	TrustSafeCommands   bool `yaml:"trust_safe_commands" env:"TRUST_SAFE_COMMANDS"`
	// Timeout is in seconds.
	Timeout           int            `yaml:"timeout" env:"TIMEOUT" validate:"gt=0"`
	DangerousPatterns []string       `yaml:"dangerous_patterns" env:"DANGEROUS_PATTERNS" envSeparator:"\n"`
	ToolLineLimits    map[string]int `yaml:"tool_line_limits"`
}

// PersistenceConfig controls the transcript database.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	DBPath  string `yaml:"db_path" env:"DB_PATH" validate:"required_if=Enabled true"`
}

// ProjectContextConfig controls what goes into the system prompt.
type ProjectContextConfig struct {
	KeyFiles   []string `yaml:"key_files" env:"KEY_FILES" envSeparator:","`
	MaxCommits int      `yaml:"max_commits" env:"MAX_COMMITS" validate:"gte=0"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	File  string `yaml:"file" env:"FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:    "openai",
		MaxTokens:   4096,
		Temperature: 0.2,
		Chat: ChatConfig{
			Streaming:              true,
			MaxToolIterations:      5,
			ToolResultLineLimit:    5,
			StreamFailureThreshold: 2,
			LoopDetection:          true,
			LoopDetectionWindow:    6,
		},
		CommandExecution: CommandExecutionConfig{
			RequireConfirmation: true,
			Timeout:             30,
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			DBPath:  "~/.supernova/history.db",
		},
		ProjectContext: ProjectContextConfig{
			KeyFiles:   []string{"README.md", "go.mod", "package.json", "pyproject.toml", "Makefile"},
			MaxCommits: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "~/.supernova/supernova.log",
		},
	}
}

// Load reads configuration from path, or from the first file found in
// $SUPERNOVA_CONFIG, ./.supernova.yaml and ~/.supernova/config.yaml. A
// missing file is an error only when path is given explicitly. Environment
// variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	source, explicit := path, path != ""
	if !explicit {
		source = findConfigFile()
	}
	if source != "" {
		if err := cfg.readFile(source); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		} else {
			cfg.Source = source
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.Persistence.DBPath = ExpandHome(cfg.Persistence.DBPath)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	candidates := []string{".supernova.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".supernova", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// readFile overlays the YAML file onto cfg after expanding ${VAR} and $VAR
// references.
func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += " " + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", field, rule, fe.Value()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// SessionConfig converts the settings the session loop consumes.
func (c *Config) SessionConfig() agentloop.SessionConfig {
	sc := agentloop.DefaultSessionConfig()
	sc.Streaming = c.Chat.Streaming
	sc.MaxToolIterations = c.Chat.MaxToolIterations
	sc.ToolResultLineLimit = c.Chat.ToolResultLineLimit
	sc.StreamFailureThreshold = c.Chat.StreamFailureThreshold
	sc.EnableLoopDetection = c.Chat.LoopDetection
	sc.LoopDetectionWindow = c.Chat.LoopDetectionWindow
	sc.RequireConfirmation = c.CommandExecution.RequireConfirmation
	sc.TrustSafeCommands = c.CommandExecution.TrustSafeCommands
	sc.CommandTimeout = time.Duration(c.CommandExecution.Timeout) * time.Second
	sc.ToolLineLimits = c.CommandExecution.ToolLineLimits
	return sc
}

// SafetyFilter returns the default filter extended with the configured
// dangerous patterns.
func (c *Config) SafetyFilter() (*agentloop.SafetyFilter, error) {
	f := agentloop.NewSafetyFilter()
	for _, p := range c.CommandExecution.DangerousPatterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := f.AddDangerousPattern(p, "matches configured pattern "+p); err != nil {
			return nil, fmt.Errorf("config: dangerous pattern %q: %w", p, err)
		}
	}
	return f, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
