package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxProjectDocBytes = 32 * 1024 // 32KB
	maxKeyFileBytes    = 4 * 1024
)

const basePrompt = `You are Supernova, a coding assistant running in the user's terminal.

You can call tools to inspect and change the project. Prefer read-only
commands when gathering information. Commands that modify files or the
system may need the user's approval; if a call is declined, explain what
you wanted to do and ask how to proceed instead of retrying the same call.

Tool results arrive as JSON with "success", "output", "error" and
"truncated" fields. When "truncated" is true you only saw part of the
output; narrow the command if you need more.`

// PromptInput carries everything the system prompt is assembled from.
type PromptInput struct {
	Env              ExecutionEnvironment
	Model            string
	Tools            []ToolDefinition
	KeyFiles         []string
	MaxCommits       int
	UserInstructions string
}

// BuildSystemPrompt assembles the base instructions, environment and project
// context, and tool help into one system prompt.
func BuildSystemPrompt(in PromptInput) string {
	var sb strings.Builder

	// 1. Base instructions.
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")

	// 2. Environment context.
	workingDir := ""
	if in.Env != nil {
		workingDir = in.Env.WorkingDirectory()
		sb.WriteString(BuildEnvironmentContext(in.Env, in.Model))
		sb.WriteString("\n\n")
	}

	// 3. Git and project context.
	if workingDir != "" {
		if gitCtx := GetGitContext(workingDir, in.MaxCommits); gitCtx != "" {
			sb.WriteString(gitCtx)
			sb.WriteString("\n\n")
		}
		if projectCtx := GatherProjectContext(workingDir, in.KeyFiles); projectCtx != "" {
			sb.WriteString(projectCtx)
			sb.WriteString("\n\n")
		}
		if docs := DiscoverProjectDocs(workingDir); docs != "" {
			sb.WriteString(docs)
			sb.WriteString("\n\n")
		}
	}

	// 4. Tool descriptions.
	if len(in.Tools) > 0 {
		sb.WriteString("# Available Tools\n\n")
		for _, def := range in.Tools {
			fmt.Fprintf(&sb, "## %s\n%s\n", def.Name, def.Description)
			for _, ex := range def.Examples {
				fmt.Fprintf(&sb, "Example: %s\n", ex)
			}
			sb.WriteString("\n")
		}
	}

	// 5. User instructions last so they take precedence.
	if in.UserInstructions != "" {
		sb.WriteString("# User Instructions\n\n")
		sb.WriteString(in.UserInstructions)
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()
	isGitRepo := isGitRepository(workingDir)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// GetGitContext returns a summary of the git state for the system prompt.
func GetGitContext(workingDir string, maxCommits int) string {
	root := gitRoot(workingDir)
	if root == "" {
		return ""
	}
	if maxCommits <= 0 {
		maxCommits = 10
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")

	if branch := runGitCommand(root, "rev-parse", "--abbrev-ref", "HEAD"); branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", strings.TrimSpace(branch))
	}

	if status := strings.TrimSpace(runGitCommand(root, "status", "--short")); status != "" {
		lines := strings.Split(status, "\n")
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(lines))
		for i, line := range lines {
			if i == 20 {
				fmt.Fprintf(&sb, "  ... and %d more\n", len(lines)-i)
				break
			}
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}

	if log := runGitCommand(root, "log", "--oneline", fmt.Sprintf("-%d", maxCommits)); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
		if !strings.HasSuffix(log, "\n") {
			sb.WriteString("\n")
		}
	}

	sb.WriteString("</git_context>")
	return sb.String()
}

// GatherProjectContext lists the top-level entries of workingDir and the
// head of each key file that exists.
func GatherProjectContext(workingDir string, keyFiles []string) string {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<project_context>\n")
	sb.WriteString("Top-level entries:\n")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			fmt.Fprintf(&sb, "  %s/\n", e.Name())
		} else {
			fmt.Fprintf(&sb, "  %s\n", e.Name())
		}
	}

	for _, name := range keyFiles {
		data, err := os.ReadFile(filepath.Join(workingDir, name))
		if err != nil {
			continue
		}
		text := string(data)
		if len(text) > maxKeyFileBytes {
			text = text[:maxKeyFileBytes] + "\n[truncated]"
		}
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", name, strings.TrimRight(text, "\n"))
	}
	sb.WriteString("</project_context>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md and SUPERNOVA.md instruction files from
// the git root (or working directory) down to the working directory.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		for _, fileName := range []string{"AGENTS.md", "SUPERNOVA.md"} {
			content, err := os.ReadFile(filepath.Join(dir, fileName))
			if err != nil {
				continue
			}

			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", fileName, dir, text))
			totalBytes += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if root == target {
		return []string{root}
	}

	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGitCommand(dir, "rev-parse", "--show-toplevel"))
}

func runGitCommand(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
