// Package agentloop implements the terminal agent's turn loop.
//
// A Session owns the transcript and runs one turn at a time: it sends the
// history to the model, assembles the reply (streamed or not), dispatches
// any tool calls in the order the model emitted them, and feeds the results
// back until the model answers in plain text or the iteration limit is hit.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Session: the state machine holding conversation state, enforcing the
//     iteration limit, cancellation, and the streaming fallback.
//   - StreamProcessor: assembles stream chunks into one assistant Message
//     and reports incomplete streams as a StreamFailure.
//   - ToolRegistry: registration and lookup of tools with typed argument
//     schemas.
//   - SafetyFilter: advisory classification of shell commands.
//   - Dispatcher: lookup, validation, confirmation, scoped execution and
//     truncation of a single tool call.
//   - EventEmitter: non-blocking render event stream for the host UI.
//
// # Quick Start
//
//	registry := agentloop.NewToolRegistry()
//	tools.RegisterDefaults(registry)
//	env := agentloop.NewLocalExecutionEnvironment("/path/to/project")
//	profile := agentloop.NewProfile("openai", "gpt-4o")
//	session := agentloop.NewSession(client, profile, registry, env,
//	    agentloop.WithConfirmation(askUser))
//	defer session.Close()
//
//	go func() {
//	    for event := range session.Events() {
//	        fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	    }
//	}()
//
//	if err := session.Submit(ctx, "list files modified today"); err != nil {
//	    log.Fatal(err)
//	}
package agentloop
