// Package unifiedllm is the provider-agnostic LLM layer used by the agent
// loop.
//
// # Architecture
//
//   - Types: Request, Response, Message, ContentPart and the StreamEvent
//     chunk model (text deltas plus tool call deltas keyed by index).
//   - Errors: a typed hierarchy rooted at SDKError, with ClassifyError to
//     map raw vendor errors and IsRetryable to drive Retry.
//   - Client: routes a Request to a registered ProviderAdapter and applies
//     middleware (see LoggingMiddleware).
//   - Adapters: GollmAdapter (openai, anthropic, ollama and the other gollm
//     backends) and GeminiAdapter (google.golang.org/genai).
//
// # Usage
//
//	adapter, err := unifiedllm.NewGollmAdapter("openai", unifiedllm.WithModel("gpt-4o"))
//	if err != nil {
//	    return err
//	}
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	events, err := client.Stream(ctx, unifiedllm.Request{
//	    Model:    "gpt-4o",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    if ev.Type == unifiedllm.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}
package unifiedllm
