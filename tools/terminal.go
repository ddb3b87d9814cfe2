package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/supernova/agentloop"
)

// TerminalCommand runs a shell command in the session's working directory.
func TerminalCommand() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "terminal_command",
			Description: "Execute a terminal command in the current working directory. Returns combined stdout and stderr.",
			Schema: agentloop.ArgumentSchema{
				{Name: "command", Type: agentloop.TypeString, Required: true, Description: "The terminal command to execute."},
				{Name: "explanation", Type: agentloop.TypeString, Description: "Brief explanation of what the command does."},
				{Name: "working_dir", Type: agentloop.TypeString, Description: "Directory to run in. Defaults to the current directory."},
			},
			Examples: []string{
				`{"command": "ls -la"}`,
				`{"command": "git status", "explanation": "Check Git status"}`,
			},
		},
		Executor:      runTerminalCommand,
		SideEffecting: true,
		Command:       func(args agentloop.Arguments) string { return args.String("command") },
	}
}

func runTerminalCommand(ctx context.Context, args agentloop.Arguments, scope *agentloop.ExecScope) (any, error) {
	command := args.String("command")
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is empty")
	}

	// A command ending in cd reports where the shell ended up so later
	// calls start there.
	tracksDir := endsWithCd(command)
	run := command
	if tracksDir {
		run = command + "\n__supernova_rc=$?\nprintf '\\n" + pwdMarker + "%s' \"$PWD\"\nexit $__supernova_rc"
	}

	res, err := scope.Run(run, args.String("working_dir"))
	if err != nil {
		if res == nil {
			return nil, err
		}
		return res.Output(), err
	}

	var newDir string
	if tracksDir {
		if i := strings.LastIndex(res.Stdout, "\n"+pwdMarker); i >= 0 {
			newDir = res.Stdout[i+len(pwdMarker)+1:]
			res.Stdout = res.Stdout[:i]
		}
	}

	output := res.Output()
	if res.ExitCode != 0 {
		output = appendLine(output, fmt.Sprintf("exit code: %d", res.ExitCode))
		return output, fmt.Errorf("command exited with status %d", res.ExitCode)
	}

	if newDir != "" && newDir != scope.WorkingDirectory() {
		if err := scope.ChangeDirectory(newDir); err != nil {
			return output, fmt.Errorf("update working directory: %w", err)
		}
		output = appendLine(output, "working directory: "+scope.WorkingDirectory())
	}
	return output, nil
}

const pwdMarker = "__SUPERNOVA_PWD__="

// endsWithCd reports whether the last command joined by &&, ; or a
// newline is a cd.
func endsWithCd(command string) bool {
	last := strings.TrimSpace(command)
	for _, sep := range []string{"&&", ";", "\n"} {
		if i := strings.LastIndex(last, sep); i >= 0 {
			last = strings.TrimSpace(last[i+len(sep):])
		}
	}
	return last == "cd" || strings.HasPrefix(last, "cd ")
}

func appendLine(output, line string) string {
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + line
}
