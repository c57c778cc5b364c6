package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemSkill reads, writes and edits files. Paths resolve relative to
// the workspace and, when restricted, may not escape it through symlinks.
type FilesystemSkill struct {
	restrict bool
}

// NewFilesystemSkill builds the skill. restrict keeps every operation
// inside the per-turn workspace directory.
func NewFilesystemSkill(restrict bool) *FilesystemSkill {
	return &FilesystemSkill{restrict: restrict}
}

func (s *FilesystemSkill) ID() string { return "filesystem" }

func (s *FilesystemSkill) Doc() string {
	return "read_file, write_file and edit_file work on workspace files. " +
		"edit_file replaces an exact text fragment; read the file first when unsure."
}

func (s *FilesystemSkill) GroupSafe() bool { return false }

func (s *FilesystemSkill) Tools() []ToolSpec {
	pathProp := map[string]interface{}{
		"type":        "string",
		"description": "Path relative to the workspace",
	}
	return []ToolSpec{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": pathProp},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProp,
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Full file content",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "edit_file",
			Description: "Replace an exact text fragment in a file",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProp,
					"old_text": map[string]interface{}{
						"type":        "string",
						"description": "Exact text to replace (must occur in the file)",
					},
					"new_text": map[string]interface{}{
						"type":        "string",
						"description": "Replacement text",
					},
				},
				"required": []string{"path", "old_text", "new_text"},
			},
		},
	}
}

func (s *FilesystemSkill) Execute(_ context.Context, ac *AgentContext, toolName string, args map[string]interface{}) *Result {
	workspace := ""
	if ac != nil {
		workspace = ac.WorkspaceDir
	}
	if workspace == "" {
		return ErrorResult(errJSON("no workspace directory in this context"))
	}

	path := argString(args, "path")
	if path == "" {
		return ErrorResult(errJSON("path is required"))
	}
	resolved, err := s.resolve(path, workspace)
	if err != nil {
		return ErrorResult(errJSON(err.Error()))
	}

	switch toolName {
	case "read_file":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return ErrorResult(errJSON(fmt.Sprintf("read failed: %v", err)))
		}
		return SilentResult(string(data))
	case "write_file":
		content, ok := args["content"].(string)
		if !ok {
			return ErrorResult(errJSON("content is required"))
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return ErrorResult(errJSON(fmt.Sprintf("create dir: %v", err)))
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return ErrorResult(errJSON(fmt.Sprintf("write failed: %v", err)))
		}
		return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	case "edit_file":
		return s.edit(resolved, path, args)
	default:
		return ErrorResult(errJSON(fmt.Sprintf("filesystem: unknown tool %q", toolName)))
	}
}

func (s *FilesystemSkill) edit(resolved, path string, args map[string]interface{}) *Result {
	oldText := argString(args, "old_text")
	newText, hasNew := args["new_text"].(string)
	if oldText == "" || !hasNew {
		return ErrorResult(errJSON("old_text and new_text are required"))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("read failed: %v", err)))
	}
	content := string(data)
	n := strings.Count(content, oldText)
	if n == 0 {
		return ErrorResult(errJSON(fmt.Sprintf("text not found in %s", path)))
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("write failed: %v", err)))
	}
	if n > 1 {
		return NewResult(fmt.Sprintf("replaced first of %d occurrences in %s", n, path))
	}
	return NewResult(fmt.Sprintf("replaced text in %s", path))
}

// resolve maps a tool path onto the filesystem and enforces the workspace
// boundary, following symlinks so a link cannot smuggle an outside path in.
func (s *FilesystemSkill) resolve(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}
	if !s.restrict {
		return resolved, nil
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		// target may not exist yet; validate through its parent instead
		parentReal, perr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if perr != nil {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		real = filepath.Join(parentReal, filepath.Base(absResolved))
	}
	if !isPathInside(real, wsReal) {
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
