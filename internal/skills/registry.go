// Package skills hosts the tool-backed capabilities exposed to the agent
// loop: memory retrieval, reminders, workspace files, guarded shell, image
// and voice replies. A skill may expose several tools; the registry maps
// tool names back to their owning skill and converts failures into tool
// results the model can react to.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tidewaterlabs/moobot/internal/providers"
)

// ToolSpec describes one tool a skill exposes.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Skill is one capability. Single-tool skills return one ToolSpec whose
// name equals the skill id.
type Skill interface {
	ID() string
	// Doc is an optional usage hint injected into the system prompt.
	Doc() string
	Tools() []ToolSpec
	// GroupSafe reports whether the skill may run in group chats.
	GroupSafe() bool
	Execute(ctx context.Context, ac *AgentContext, toolName string, args map[string]interface{}) *Result
}

// AgentContext is the per-turn bundle handed to executors. Transport
// capabilities hide behind function references so skills never import a
// channel package.
type AgentContext struct {
	JID          string
	IsGroup      bool
	WorkspaceDir string
	StorePath    string

	SendImage func(path, caption string) error
	SendVoice func(text string) error
}

// Registry holds the enabled skills and dispatches tool calls.
type Registry struct {
	skills  map[string]Skill
	byTool  map[string]Skill
	ordered []Skill
}

// NewRegistry builds a registry over the given skills. Duplicate tool names
// are a programming error and fail construction.
func NewRegistry(list ...Skill) (*Registry, error) {
	r := &Registry{
		skills: make(map[string]Skill),
		byTool: make(map[string]Skill),
	}
	for _, s := range list {
		if _, dup := r.skills[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate skill id %q", s.ID())
		}
		r.skills[s.ID()] = s
		r.ordered = append(r.ordered, s)
		for _, t := range s.Tools() {
			if _, dup := r.byTool[t.Name]; dup {
				return nil, fmt.Errorf("duplicate tool name %q", t.Name)
			}
			r.byTool[t.Name] = s
		}
	}
	return r, nil
}

// ToolDefinitions returns the tool schemas for the model, filtered for
// group contexts.
func (r *Registry) ToolDefinitions(isGroup bool) []providers.ToolDefinition {
	var defs []providers.ToolDefinition
	for _, s := range r.ordered {
		if isGroup && !s.GroupSafe() {
			continue
		}
		for _, t := range s.Tools() {
			defs = append(defs, providers.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return defs
}

// Docs returns the skill usage hints for the system prompt, in stable
// order.
func (r *Registry) Docs() []string {
	var docs []string
	for _, s := range r.ordered {
		if d := s.Doc(); d != "" {
			docs = append(docs, d)
		}
	}
	return docs
}

// SkillIDs lists the registered skills, sorted.
func (r *Registry) SkillIDs() []string {
	ids := make([]string, 0, len(r.skills))
	for id := range r.skills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute dispatches a tool call. Unknown tools, group-denied skills and
// executor panics all come back as tool-result strings so the agent loop
// can feed them to the model instead of dying.
func (r *Registry) Execute(ctx context.Context, ac *AgentContext, toolName string, args map[string]interface{}) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("skill panicked", "tool", toolName, "panic", p)
			res = ErrorResult(errJSON(fmt.Sprintf("skill %s crashed", toolName)))
		}
	}()

	s, ok := r.byTool[toolName]
	if !ok {
		return ErrorResult(errJSON(fmt.Sprintf("unknown tool %q", toolName)))
	}
	if ac != nil && ac.IsGroup && !s.GroupSafe() {
		return ErrorResult(errJSON(fmt.Sprintf("tool %q is not available in group chats", toolName)))
	}
	res = s.Execute(ctx, ac, toolName, args)
	if res == nil {
		res = ErrorResult(errJSON(fmt.Sprintf("tool %q returned nothing", toolName)))
	}
	return res
}

// errJSON wraps a message as the {"error": ...} shape executors use.
func errJSON(message string) string {
	b, _ := json.Marshal(map[string]string{"error": message})
	return string(b)
}

// argString reads an optional string argument.
func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt reads an optional integer argument, tolerating float64 from JSON.
func argInt(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// argFloat reads an optional float argument.
func argFloat(args map[string]interface{}, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
