package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
}

// ExecutionEnvironment abstracts where tool operations run.
type ExecutionEnvironment interface {
	// Acquire opens a scope bounded by timeout. The caller must Release it.
	Acquire(ctx context.Context, timeout time.Duration) (*ExecScope, error)

	WorkingDirectory() string
	SetWorkingDirectory(dir string) error
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns os.Environ without sensitive variables or the
// parent's directory.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		// The shell derives PWD from its own directory.
		if name == "PWD" || name == "OLDPWD" {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs tools on the local machine.
type LocalExecutionEnvironment struct {
	workingDir string
	platform   string
	osVersion  string
	mu         sync.RWMutex
}

// NewLocalExecutionEnvironment creates a local execution environment. An
// empty workingDir uses the process working directory.
func NewLocalExecutionEnvironment(workingDir string) *LocalExecutionEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &LocalExecutionEnvironment{
		workingDir: workingDir,
		platform:   runtime.GOOS,
		osVersion:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (e *LocalExecutionEnvironment) Acquire(ctx context.Context, timeout time.Duration) (*ExecScope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewExecScope(ctx, e, timeout), nil
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workingDir
}

// SetWorkingDirectory changes the directory later scopes start in.
func (e *LocalExecutionEnvironment) SetWorkingDirectory(dir string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.WorkingDirectory(), dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("set working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("set working directory: %s is not a directory", dir)
	}
	e.mu.Lock()
	e.workingDir = filepath.Clean(dir)
	e.mu.Unlock()
	return nil
}

func (e *LocalExecutionEnvironment) Platform() string {
	return e.platform
}

func (e *LocalExecutionEnvironment) OSVersion() string {
	return e.osVersion
}

// ExecScope is one scoped acquisition of an execution environment. It owns
// the timeout context, the working directory snapshot, and every process
// started through Run. Release kills any process group still alive.
type ExecScope struct {
	ctx     context.Context
	cancel  context.CancelFunc
	env     ExecutionEnvironment
	workDir string
	timeout time.Duration

	mu       sync.Mutex
	procs    map[int]struct{}
	released bool
}

// NewExecScope creates a scope over env. A timeout of zero means the scope
// is bounded only by ctx.
func NewExecScope(ctx context.Context, env ExecutionEnvironment, timeout time.Duration) *ExecScope {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return &ExecScope{
		ctx:     ctx,
		cancel:  cancel,
		env:     env,
		workDir: env.WorkingDirectory(),
		timeout: timeout,
		procs:   make(map[int]struct{}),
	}
}

// Context returns the scope's context. It is done when the scope times out,
// the turn is cancelled, or the scope is released.
func (s *ExecScope) Context() context.Context { return s.ctx }

// Timeout returns the scope's time budget.
func (s *ExecScope) Timeout() time.Duration { return s.timeout }

// WorkingDirectory returns the directory the scope started in.
func (s *ExecScope) WorkingDirectory() string { return s.workDir }

// ResolvePath resolves a tool-supplied path against the working directory,
// expanding a leading ~.
func (s *ExecScope) ResolvePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.workDir, path)
}

// ChangeDirectory moves the environment's working directory for later scopes.
func (s *ExecScope) ChangeDirectory(dir string) error {
	if err := s.env.SetWorkingDirectory(s.ResolvePath(dir)); err != nil {
		return err
	}
	s.workDir = s.env.WorkingDirectory()
	return nil
}

// Run executes command through the shell in its own process group. An
// empty workingDir uses the scope's directory. A non-zero exit is reported
// in the result, not as an error.
func (s *ExecScope) Run(command, workingDir string) (*ExecResult, error) {
	dir := s.workDir
	if workingDir != "" {
		dir = s.ResolvePath(workingDir)
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.Command(shell, shellArg, command)
	cmd.Dir = dir
	cmd.Env = filterEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, errors.New("exec scope already released")
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("exec_command: %w", err)
	}
	pid := cmd.Process.Pid
	s.procs[pid] = struct{}{}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	timedOut := false
	select {
	case err = <-done:
	case <-s.ctx.Done():
		timedOut = errors.Is(s.ctx.Err(), context.DeadlineExceeded)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		err = <-done
	}

	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if s.ctx.Err() != nil {
		result.TimedOut = timedOut
		result.ExitCode = -1
		return result, fmt.Errorf("command interrupted: %w", s.ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("exec_command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Release cancels the scope and kills surviving process groups. It is safe
// to call more than once.
func (s *ExecScope) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.cancel()
	for pid := range s.procs {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// Released reports whether Release has been called.
func (s *ExecScope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
