package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	SupportsTools     bool     `json:"supports_tools"`
	SupportsStreaming bool     `json:"supports_streaming"`
	Aliases           []string `json:"aliases,omitempty"`
}

// DefaultContextWindow is assumed for models missing from the catalog.
const DefaultContextWindow = 128000

// Models is the built-in model catalog. The first entry per provider is
// that provider's default.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"4o"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "o1", Provider: "openai", DisplayName: "o1",
		ContextWindow: 200000, SupportsTools: true, SupportsStreaming: false,
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"sonnet"},
	},
	{
		ID: "claude-3-5-haiku-latest", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
		ContextWindow: 200000, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"haiku"},
	},

	// Gemini
	{
		ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"gemini-flash"},
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, SupportsTools: true, SupportsStreaming: true,
		Aliases: []string{"gemini-pro"},
	},

	// Ollama
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1 (local)",
		ContextWindow: 131072, SupportsTools: true, SupportsStreaming: true,
	},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical ID. Unknown names pass through.
func ResolveModel(modelID string) string {
	if info := GetModelInfo(modelID); info != nil {
		return info.ID
	}
	return modelID
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	var result []ModelInfo
	for _, m := range Models {
		if provider == "" || m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// DefaultModel returns the default model for a provider, or nil.
func DefaultModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// ContextWindow returns the context window for a model, falling back to
// DefaultContextWindow.
func ContextWindow(modelID string) int {
	if info := GetModelInfo(modelID); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return DefaultContextWindow
}

// StreamsNatively reports whether a model is known to support streaming.
// Unknown models are assumed to stream.
func StreamsNatively(modelID string) bool {
	if info := GetModelInfo(modelID); info != nil {
		return info.SupportsStreaming
	}
	return true
}
