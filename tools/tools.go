// Package tools provides the built-in tool catalog for a supernova session.
//
// Every tool resolves relative paths against the working directory of the
// execution scope it runs in, so a terminal_command that changes directory
// affects the file tools that follow it.
package tools

import (
	"fmt"

	"github.com/martinemde/supernova/agentloop"
)

// RegisterDefaults registers terminal_command, file_create, file_info,
// file_stats and read_file.
func RegisterDefaults(reg *agentloop.ToolRegistry) error {
	for _, tool := range []agentloop.RegisteredTool{
		TerminalCommand(),
		FileCreate(),
		FileInfo(),
		FileStats(),
		ReadFile(),
	} {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register default tools: %w", err)
		}
	}
	return nil
}
