package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidewaterlabs/moobot/internal/config"
)

type fakeSkill struct {
	id        string
	groupSafe bool
	executed  string
}

func (f *fakeSkill) ID() string        { return f.id }
func (f *fakeSkill) Doc() string       { return "" }
func (f *fakeSkill) GroupSafe() bool   { return f.groupSafe }
func (f *fakeSkill) Tools() []ToolSpec {
	return []ToolSpec{{Name: f.id, Description: f.id, Parameters: map[string]interface{}{"type": "object"}}}
}
func (f *fakeSkill) Execute(_ context.Context, _ *AgentContext, toolName string, _ map[string]interface{}) *Result {
	f.executed = toolName
	return NewResult("ok:" + toolName)
}

func TestRegistryDispatch(t *testing.T) {
	a := &fakeSkill{id: "alpha", groupSafe: true}
	b := &fakeSkill{id: "beta"}
	r, err := NewRegistry(a, b)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	res := r.Execute(context.Background(), &AgentContext{}, "beta", nil)
	if res.IsError || res.ForLLM != "ok:beta" {
		t.Errorf("dispatch result = %+v", res)
	}
	if b.executed != "beta" {
		t.Errorf("beta not executed")
	}

	res = r.Execute(context.Background(), &AgentContext{}, "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("unknown tool result = %+v", res)
	}
}

func TestRegistryGroupFiltering(t *testing.T) {
	safe := &fakeSkill{id: "safe", groupSafe: true}
	private := &fakeSkill{id: "private"}
	r, err := NewRegistry(safe, private)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	defs := r.ToolDefinitions(true)
	if len(defs) != 1 || defs[0].Name != "safe" {
		t.Errorf("group tool list = %+v, want only safe", defs)
	}
	if got := len(r.ToolDefinitions(false)); got != 2 {
		t.Errorf("private tool list has %d entries, want 2", got)
	}

	res := r.Execute(context.Background(), &AgentContext{IsGroup: true}, "private", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "not available in group") {
		t.Errorf("group-denied result = %+v", res)
	}
	if private.executed != "" {
		t.Error("group-denied skill still executed")
	}
}

func TestRegistryDuplicateTool(t *testing.T) {
	if _, err := NewRegistry(&fakeSkill{id: "x"}, &fakeSkill{id: "x"}); err == nil {
		t.Fatal("expected error for duplicate skill id")
	}
}

func TestEditFileReplacesFragment(t *testing.T) {
	ws := t.TempDir()
	target := filepath.Join(ws, "target.txt")
	if err := os.WriteFile(target, []byte("Hello world\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewFilesystemSkill(true)
	ac := &AgentContext{WorkspaceDir: ws}
	res := s.Execute(context.Background(), ac, "edit_file", map[string]interface{}{
		"path":     "target.txt",
		"old_text": "Hello",
		"new_text": "Hi",
	})
	if res.IsError {
		t.Fatalf("edit failed: %s", res.ForLLM)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "Hi world\n" {
		t.Errorf("file = %q, want 'Hi world\\n'", data)
	}
}

func TestEditFileMissingFragment(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("content\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewFilesystemSkill(true)
	res := s.Execute(context.Background(), &AgentContext{WorkspaceDir: ws}, "edit_file", map[string]interface{}{
		"path":     "a.txt",
		"old_text": "absent",
		"new_text": "x",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "not found") {
		t.Errorf("result = %+v, want not-found error", res)
	}
}

func TestFilesystemRefusesEscape(t *testing.T) {
	ws := t.TempDir()
	s := NewFilesystemSkill(true)
	ac := &AgentContext{WorkspaceDir: ws}
	for _, path := range []string{"../outside.txt", "/etc/hostname"} {
		res := s.Execute(context.Background(), ac, "read_file", map[string]interface{}{"path": path})
		if !res.IsError {
			t.Errorf("read_file(%q) allowed, want refusal", path)
		}
	}
}

func TestWriteThenReadFile(t *testing.T) {
	ws := t.TempDir()
	s := NewFilesystemSkill(true)
	ac := &AgentContext{WorkspaceDir: ws}

	res := s.Execute(context.Background(), ac, "write_file", map[string]interface{}{
		"path":    "notes/todo.md",
		"content": "buy milk\n",
	})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}
	res = s.Execute(context.Background(), ac, "read_file", map[string]interface{}{"path": "notes/todo.md"})
	if res.IsError || res.ForLLM != "buy milk\n" {
		t.Errorf("read back = %+v", res)
	}
}

func TestShellAllowList(t *testing.T) {
	s := NewShellSkill(config.ShellSkillConfig{Allow: []string{"echo"}, TimeoutSec: 5, MaxOutputKB: 4})
	ac := &AgentContext{WorkspaceDir: t.TempDir()}

	res := s.Execute(context.Background(), ac, "run_shell", map[string]interface{}{"command": "echo hello"})
	if res.IsError || !strings.Contains(res.ForLLM, "hello") {
		t.Errorf("allowed command result = %+v", res)
	}

	res = s.Execute(context.Background(), ac, "run_shell", map[string]interface{}{"command": "rm -rf /"})
	if !res.IsError || !strings.Contains(res.ForLLM, "not allowed") {
		t.Errorf("blocked command result = %+v", res)
	}

	res = s.Execute(context.Background(), ac, "run_shell", map[string]interface{}{"command": "echo hi; rm x"})
	if !res.IsError {
		t.Errorf("metacharacters allowed: %+v", res)
	}
}

func TestShellOutputCap(t *testing.T) {
	s := NewShellSkill(config.ShellSkillConfig{Allow: []string{"yes"}, MaxOutputKB: 1})
	long := strings.Repeat("a", 4096)
	if got := s.capped(long); len(got) > 1024+len("\n[output truncated]") {
		t.Errorf("output not capped: %d bytes", len(got))
	}
}
