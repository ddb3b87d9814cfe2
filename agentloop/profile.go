package agentloop

import "github.com/martinemde/supernova/unifiedllm"

// Profile describes the model a session talks to.
type Profile struct {
	Provider          string
	Model             string
	ContextWindow     int
	SupportsStreaming bool
}

// NewProfile builds a profile from the model catalog. Unknown models get the
// default context window and are assumed to stream.
func NewProfile(provider, model string) Profile {
	p := Profile{
		Provider:          provider,
		Model:             unifiedllm.ResolveModel(model),
		ContextWindow:     unifiedllm.ContextWindow(model),
		SupportsStreaming: unifiedllm.StreamsNatively(model),
	}
	if p.Model == "" {
		if info := unifiedllm.DefaultModel(provider); info != nil {
			p.Model = info.ID
			p.ContextWindow = info.ContextWindow
			p.SupportsStreaming = info.SupportsStreaming
		}
	}
	if p.Provider == "" {
		if info := unifiedllm.GetModelInfo(p.Model); info != nil {
			p.Provider = info.Provider
		}
	}
	return p
}
