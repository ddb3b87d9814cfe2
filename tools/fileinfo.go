package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/martinemde/supernova/agentloop"
)

// FileInfo reports metadata about a path.
func FileInfo() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_info",
			Description: "Get size, modification time, permissions and type of a file or directory.",
			Schema: agentloop.ArgumentSchema{
				{Name: "path", Type: agentloop.TypeString, Required: true, Description: "Path to inspect."},
			},
			Examples: []string{`{"path": "README.md"}`},
		},
		Executor: fileInfo,
	}
}

type fileInfoResult struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	Modified     time.Time `json:"modified"`
	ModifiedAgo  string    `json:"modified_ago"`
	Permissions  string    `json:"permissions"`
	IsDir        bool      `json:"is_dir"`
	IsExecutable bool      `json:"is_executable"`
	FileType     string    `json:"file_type,omitempty"`
}

func fileInfo(ctx context.Context, args agentloop.Arguments, scope *agentloop.ExecScope) (any, error) {
	path := scope.ResolvePath(args.String("path"))
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file_info: %w", err)
	}

	res := fileInfoResult{
		Path:         path,
		Size:         info.Size(),
		SizeHuman:    humanize.Bytes(uint64(info.Size())),
		Modified:     info.ModTime(),
		ModifiedAgo:  humanize.Time(info.ModTime()),
		Permissions:  info.Mode().Perm().String(),
		IsDir:        info.IsDir(),
		IsExecutable: !info.IsDir() && info.Mode().Perm()&0o111 != 0,
	}
	if info.IsDir() {
		res.FileType = "directory"
	} else if mt, err := mimetype.DetectFile(path); err == nil {
		res.FileType = mt.String()
	}
	return res, nil
}

// FileStats counts lines, words and characters of a file, or files,
// directories and bytes below a directory.
func FileStats() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: agentloop.ToolDefinition{
			Name:        "file_stats",
			Description: "Count lines, words and characters in a file, or files and total size in a directory.",
			Schema: agentloop.ArgumentSchema{
				{Name: "path", Type: agentloop.TypeString, Required: true, Description: "File or directory."},
			},
			Examples: []string{`{"path": "agentloop"}`},
		},
		Executor: fileStats,
	}
}

type fileStatsResult struct {
	Path      string `json:"path"`
	Lines     int    `json:"lines"`
	Words     int    `json:"words"`
	Chars     int    `json:"chars"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

type dirStatsResult struct {
	Path      string `json:"path"`
	Files     int    `json:"files"`
	Dirs      int    `json:"dirs"`
	TotalSize int64  `json:"total_size"`
	SizeHuman string `json:"size_human"`
}

func fileStats(ctx context.Context, args agentloop.Arguments, scope *agentloop.ExecScope) (any, error) {
	path := scope.ResolvePath(args.String("path"))
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file_stats: %w", err)
	}
	if info.IsDir() {
		return dirStats(ctx, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file_stats: %w", err)
	}
	text := string(data)
	lines := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		lines++
	}
	return fileStatsResult{
		Path:      path,
		Lines:     lines,
		Words:     len(strings.Fields(text)),
		Chars:     utf8.RuneCountInString(text),
		Size:      info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
	}, nil
}

func dirStats(ctx context.Context, root string) (dirStatsResult, error) {
	res := dirStatsResult{Path: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			res.Dirs++
			return nil
		}
		res.Files++
		if info, err := d.Info(); err == nil {
			res.TotalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("file_stats: %w", err)
	}
	res.SizeHuman = humanize.Bytes(uint64(res.TotalSize))
	return res, nil
}
