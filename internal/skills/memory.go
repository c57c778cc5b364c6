package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidewaterlabs/moobot/internal/memory"
)

// MemorySkill exposes semantic search over notes and chat history, plus a
// windowed read of the underlying sources.
type MemorySkill struct {
	index *memory.Index
}

func NewMemorySkill(index *memory.Index) *MemorySkill {
	return &MemorySkill{index: index}
}

func (s *MemorySkill) ID() string { return "memory" }

func (s *MemorySkill) Doc() string {
	return "memory_search finds past conversations and notes semantically; " +
		"memory_get reads the matched file around a line. Search before " +
		"claiming you don't remember something."
}

// Memory search covers only the user's own notes and private chat logs, so
// exposing it in groups would leak private context.
func (s *MemorySkill) GroupSafe() bool { return false }

func (s *MemorySkill) Tools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "memory_search",
			Description: "Semantic search over notes, chat history and indexed file listings",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "What to look for",
					},
					"k": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum results (default from config)",
					},
					"min_score": map[string]interface{}{
						"type":        "number",
						"description": "Minimum similarity score 0..1",
					},
					"date_from": map[string]interface{}{
						"type":        "string",
						"description": "Earliest source date, YYYY-MM-DD",
					},
					"date_to": map[string]interface{}{
						"type":        "string",
						"description": "Latest source date, YYYY-MM-DD",
					},
					"date_range": map[string]interface{}{
						"type":        "string",
						"description": "Shorthand window: yesterday, last_week, last_7_days, last_month",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "memory_get",
			Description: "Read lines from a note or chat log returned by memory_search",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path as returned by memory_search",
					},
					"from": map[string]interface{}{
						"type":        "integer",
						"description": "First line, 1-based (default 1)",
					},
					"lines": map[string]interface{}{
						"type":        "integer",
						"description": "Number of lines (default 200)",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (s *MemorySkill) Execute(ctx context.Context, _ *AgentContext, toolName string, args map[string]interface{}) *Result {
	if s.index == nil {
		return ErrorResult(errJSON("memory is disabled"))
	}
	switch toolName {
	case "memory_search":
		return s.search(ctx, args)
	case "memory_get":
		return s.get(args)
	default:
		return ErrorResult(errJSON(fmt.Sprintf("memory: unknown tool %q", toolName)))
	}
}

func (s *MemorySkill) search(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return ErrorResult(errJSON("query is required"))
	}
	results, err := s.index.Search(ctx, query, memory.SearchFilters{
		K:         argInt(args, "k"),
		MinScore:  argFloat(args, "min_score"),
		DateFrom:  argString(args, "date_from"),
		DateTo:    argString(args, "date_to"),
		DateRange: argString(args, "date_range"),
	})
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("memory search failed: %v", err))).WithError(err)
	}
	if len(results) == 0 {
		return SilentResult("no matching memories")
	}
	b, err := json.Marshal(results)
	if err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("encode results: %v", err)))
	}
	return SilentResult(string(b))
}

func (s *MemorySkill) get(args map[string]interface{}) *Result {
	path := argString(args, "path")
	if path == "" {
		return ErrorResult(errJSON("path is required"))
	}
	content, err := s.index.ReadFile(path, argInt(args, "from"), argInt(args, "lines"))
	if err != nil {
		return ErrorResult(errJSON(err.Error()))
	}
	return SilentResult(content)
}
