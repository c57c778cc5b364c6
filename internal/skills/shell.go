package skills

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
)

// ShellSkill runs a guarded subset of shell commands: the first token must
// be on the allow-list, execution is time-boxed and output is capped.
type ShellSkill struct {
	cfg config.ShellSkillConfig
}

func NewShellSkill(cfg config.ShellSkillConfig) *ShellSkill {
	return &ShellSkill{cfg: cfg}
}

func (s *ShellSkill) ID() string { return "shell" }

func (s *ShellSkill) Doc() string {
	allowed := strings.Join(s.cfg.Allow, ", ")
	return fmt.Sprintf("run_shell executes a single command from the allowed set (%s) in the workspace.", allowed)
}

func (s *ShellSkill) GroupSafe() bool { return false }

func (s *ShellSkill) Tools() []ToolSpec {
	return []ToolSpec{{
		Name:        "run_shell",
		Description: "Run an allow-listed shell command in the workspace",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Command line to run; the first word must be allow-listed",
				},
			},
			"required": []string{"command"},
		},
	}}
}

func (s *ShellSkill) Execute(ctx context.Context, ac *AgentContext, _ string, args map[string]interface{}) *Result {
	command := strings.TrimSpace(argString(args, "command"))
	if command == "" {
		return ErrorResult(errJSON("command is required"))
	}
	fields := strings.Fields(command)
	if !s.allowed(fields[0]) {
		return ErrorResult(errJSON(fmt.Sprintf("command %q is not allowed", fields[0])))
	}
	// no shell interpretation: metacharacters would sidestep the allow-list
	if strings.ContainsAny(command, ";|&$`<>(){}") {
		return ErrorResult(errJSON("shell metacharacters are not allowed"))
	}

	timeout := time.Duration(s.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	if ac != nil && ac.WorkspaceDir != "" {
		cmd.Dir = ac.WorkspaceDir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	text := s.capped(out.String())
	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(errJSON(fmt.Sprintf("command timed out after %s", timeout)))
	}
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("command failed: %v\n%s", err, text)))
	}
	if text == "" {
		text = "(no output)"
	}
	return SilentResult(text)
}

func (s *ShellSkill) allowed(name string) bool {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	for _, a := range s.cfg.Allow {
		if a == base {
			return true
		}
	}
	return false
}

func (s *ShellSkill) capped(out string) string {
	maxKB := s.cfg.MaxOutputKB
	if maxKB <= 0 {
		maxKB = 64
	}
	max := maxKB * 1024
	if len(out) <= max {
		return out
	}
	return out[:max] + "\n[output truncated]"
}
