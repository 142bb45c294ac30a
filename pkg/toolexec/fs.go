package toolexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSOptions configures the filesystem tools.
type FSOptions struct {
	Workspace string
	// Restrict confines every path to the workspace root. Escapes via
	// absolute paths or .. are rejected before any I/O happens.
	Restrict bool
}

// RegisterFileTools registers read_file, write_file, edit_file, and list_dir.
func RegisterFileTools(executor *Executor, opts FSOptions) error {
	tools := []ToolDefinition{
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		listDirTool(opts),
	}
	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// resolvePath maps a tool path argument onto the filesystem, enforcing
// workspace confinement when enabled.
func resolvePath(opts FSOptions, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(raw, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(opts.Workspace, candidate)
	}
	candidate = filepath.Clean(candidate)

	if !opts.Restrict {
		return candidate, nil
	}

	rel, err := filepath.Rel(opts.Workspace, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", raw)
	}
	return candidate, nil
}

func readFileTool(opts FSOptions) ToolDefinition {
	return ToolDefinition{
		Name:        "read_file",
		Description: "Read the contents of a file.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["path"].(string)
			path, err := resolvePath(opts, raw)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts FSOptions) ToolDefinition {
	return ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["path"].(string)
			path, err := resolvePath(opts, raw)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			file, err := os.OpenFile(path, flag, 0644)
			if err != nil {
				return nil, err
			}
			defer file.Close()
			if _, err := file.WriteString(content); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), raw), nil
		},
	}
}

func editFileTool(opts FSOptions) ToolDefinition {
	return ToolDefinition{
		Name:        "edit_file",
		Description: "Replace text in a file.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "File path, relative to the workspace", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["path"].(string)
			path, err := resolvePath(opts, raw)
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replace_all"].(bool)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			content := string(data)

			occurrences := 0
			var updated string
			if replaceAll {
				occurrences = strings.Count(content, search)
				updated = strings.ReplaceAll(content, search, replace)
			} else if idx := strings.Index(content, search); idx >= 0 {
				occurrences = 1
				updated = content[:idx] + replace + content[idx+len(search):]
			}
			if occurrences == 0 {
				return nil, fmt.Errorf("search text not found in %s", raw)
			}

			if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in %s", occurrences, raw), nil
		},
	}
}

func listDirTool(opts FSOptions) ToolDefinition {
	return ToolDefinition{
		Name:        "list_dir",
		Description: "List the entries of a directory.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path, relative to the workspace (default workspace root)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw, _ := params["path"].(string)
			if strings.TrimSpace(raw) == "" {
				raw = "."
			}
			path, err := resolvePath(opts, raw)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	}
}
