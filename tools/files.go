package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/martinemde/supernova/agentloop"
)

const defaultReadLimit = 2000

// FileCreate writes a new file, refusing to replace an existing one unless
// overwrite is set.
func FileCreate() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_create",
			Description: "Create a file with the given content.",
			Schema: agentloop.ArgumentSchema{
				{Name: "path", Type: agentloop.TypeString, Required: true, Description: "Path of the file to create."},
				{Name: "content", Type: agentloop.TypeString, Required: true, Description: "Content to write."},
				{Name: "overwrite", Type: agentloop.TypeBoolean, Description: "Replace an existing file. Default: false."},
				{Name: "create_dirs", Type: agentloop.TypeBoolean, Description: "Create missing parent directories. Default: true."},
			},
			Examples: []string{`{"path": "notes/todo.md", "content": "- write tests\n"}`},
		},
		Executor:      createFile,
		SideEffecting: true,
	}
}

func createFile(ctx context.Context, args agentloop.Arguments, scope *agentloop.ExecScope) (any, error) {
	rawPath := args.String("path")
	if rawPath == "" {
		return nil, errors.New("path is empty")
	}
	path := scope.ResolvePath(rawPath)
	content := args.String("content")

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%s is a directory", rawPath)
	case err == nil && !args.Bool("overwrite", false):
		return nil, fmt.Errorf("file already exists: %s. Use overwrite=true to replace it", rawPath)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("file_create: %w", err)
	}

	dir := filepath.Dir(path)
	if args.Bool("create_dirs", true) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file_create: failed to create directory: %w", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("parent directory does not exist: %s", dir)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("file_create: %w", err)
	}
	return fmt.Sprintf("Created %s (%s)", path, humanize.Bytes(uint64(len(content)))), nil
}

// ReadFile returns line-numbered file content.
func ReadFile() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "read_file",
			Description: "Read a file. Returns line-numbered content.",
			Schema: agentloop.ArgumentSchema{
				{Name: "path", Type: agentloop.TypeString, Required: true, Description: "Path of the file to read."},
				{Name: "offset", Type: agentloop.TypeInteger, Description: "1-based line number to start from."},
				{Name: "limit", Type: agentloop.TypeInteger, Description: "Maximum number of lines. Default: 2000."},
			},
			Examples: []string{`{"path": "go.mod"}`, `{"path": "main.go", "offset": 40, "limit": 20}`},
		},
		Executor: readFile,
	}
}

func readFile(ctx context.Context, args agentloop.Arguments, scope *agentloop.ExecScope) (any, error) {
	path := scope.ResolvePath(args.String("path"))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	start := 0
	if offset := args.Int("offset", 1); offset > 1 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit := args.Int("limit", defaultReadLimit); limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}
