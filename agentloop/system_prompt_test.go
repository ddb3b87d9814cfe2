package agentloop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPromptOrder(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Run make test before finishing."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/demo\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := BuildSystemPrompt(PromptInput{
		Env:   NewLocalExecutionEnvironment(dir),
		Model: "test-model",
		Tools: []ToolDefinition{{
			Name:        "terminal_command",
			Description: "Run a shell command.",
			Examples:    []string{`{"command":"ls"}`},
		}},
		KeyFiles:         []string{"go.mod", "missing.txt"},
		UserInstructions: "Answer in haiku.",
	})

	sections := []string{
		"You are Supernova",
		"<environment>",
		"<project_context>",
		"module example.com/demo",
		"Run make test before finishing.",
		"## terminal_command",
		`Example: {"command":"ls"}`,
		"# User Instructions",
		"Answer in haiku.",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(prompt, s)
		if idx < 0 {
			t.Fatalf("prompt is missing %q:\n%s", s, prompt)
		}
		if idx < last {
			t.Errorf("%q appears out of order", s)
		}
		last = idx
	}
	if !strings.Contains(prompt, "Model: test-model") {
		t.Error("environment block should name the model")
	}
	if strings.Contains(prompt, "missing.txt") {
		t.Error("absent key files should be skipped")
	}
}

func TestBuildSystemPromptWithoutEnvironment(t *testing.T) {
	prompt := BuildSystemPrompt(PromptInput{})
	if !strings.HasPrefix(prompt, "You are Supernova") {
		t.Errorf("prompt = %q", prompt)
	}
	if strings.Contains(prompt, "<environment>") || strings.Contains(prompt, "# Available Tools") {
		t.Errorf("unexpected sections in %q", prompt)
	}
}

func TestGatherProjectContextCapsKeyFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(strings.Repeat("x", maxKeyFileBytes+100)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "cmd"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx := GatherProjectContext(dir, []string{"README.md"})
	if !strings.Contains(ctx, "[truncated]") {
		t.Error("oversized key file should be truncated")
	}
	if !strings.Contains(ctx, "  cmd/\n") {
		t.Errorf("directories should be listed with a slash:\n%s", ctx)
	}
	if strings.Contains(ctx, ".hidden") {
		t.Error("dotfiles should be skipped")
	}
}

func TestCollectPathHierarchy(t *testing.T) {
	got := collectPathHierarchy("/repo", "/repo/a/b")
	want := []string{"/repo", "/repo/a", "/repo/a/b"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("hierarchy = %v, want %v", got, want)
	}
	if got := collectPathHierarchy("/repo", "/elsewhere"); len(got) != 1 || got[0] != "/repo" {
		t.Errorf("outside target = %v", got)
	}
}
