package unifiedllm

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("claude-sonnet-4-5")
	if info == nil {
		t.Fatal("expected to find claude-sonnet-4-5")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider %q, got %q", "anthropic", info.Provider)
	}
	if info.ContextWindow != 200000 {
		t.Errorf("expected context window 200000, got %d", info.ContextWindow)
	}

	// By alias.
	info = GetModelInfo("sonnet")
	if info == nil || info.ID != "claude-sonnet-4-5" {
		t.Fatalf("expected alias lookup to resolve, got %v", info)
	}

	if info := GetModelInfo("nonexistent-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestListModels(t *testing.T) {
	if all := ListModels(""); len(all) != len(Models) {
		t.Errorf("expected %d models, got %d", len(Models), len(all))
	}
	gemini := ListModels("gemini")
	if len(gemini) != 2 {
		t.Errorf("expected 2 Gemini models, got %d", len(gemini))
	}
	for _, m := range gemini {
		if m.Provider != "gemini" {
			t.Errorf("expected provider gemini, got %q", m.Provider)
		}
	}
}

func TestDefaultModel(t *testing.T) {
	if info := DefaultModel("openai"); info == nil || info.ID != "gpt-4o" {
		t.Errorf("expected gpt-4o as openai default, got %v", info)
	}
	if info := DefaultModel("nobody"); info != nil {
		t.Errorf("expected nil, got %v", info)
	}
}

func TestResolveModel(t *testing.T) {
	if got := ResolveModel("gemini-flash"); got != "gemini-2.5-flash" {
		t.Errorf("expected alias to resolve, got %q", got)
	}
	if got := ResolveModel("custom-model"); got != "custom-model" {
		t.Errorf("expected unknown name to pass through, got %q", got)
	}
}

func TestContextWindow(t *testing.T) {
	if got := ContextWindow("gemini-2.5-pro"); got != 1048576 {
		t.Errorf("expected 1048576, got %d", got)
	}
	if got := ContextWindow("unknown"); got != DefaultContextWindow {
		t.Errorf("expected default window, got %d", got)
	}
}

func TestStreamsNatively(t *testing.T) {
	if StreamsNatively("o1") {
		t.Error("o1 is cataloged as non-streaming")
	}
	if !StreamsNatively("gpt-4o") {
		t.Error("gpt-4o should stream")
	}
	if !StreamsNatively("unknown") {
		t.Error("unknown models are assumed to stream")
	}
}
