package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tidewaterlabs/moobot/internal/config"
	"github.com/tidewaterlabs/moobot/internal/providers"
	"github.com/tidewaterlabs/moobot/internal/skills"
)

// scriptedModel returns canned responses in order.
type scriptedModel struct {
	responses []*providers.ChatResponse
	calls     int
	sawTool   []providers.Message
}

func (m *scriptedModel) Chat(_ context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ int) (*providers.ChatResponse, error) {
	for _, msg := range messages {
		if msg.Role == "tool" {
			m.sawTool = append(m.sawTool, msg)
		}
	}
	m.sawTool = dedupe(m.sawTool)
	if m.calls >= len(m.responses) {
		return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
	}
	r := m.responses[m.calls]
	m.calls++
	return r, nil
}

func dedupe(msgs []providers.Message) []providers.Message {
	seen := make(map[string]bool)
	var out []providers.Message
	for _, m := range msgs {
		if !seen[m.ToolCallID] {
			seen[m.ToolCallID] = true
			out = append(out, m)
		}
	}
	return out
}

type echoSkill struct{}

func (echoSkill) ID() string      { return "echo" }
func (echoSkill) Doc() string     { return "echo repeats its input" }
func (echoSkill) GroupSafe() bool { return true }
func (echoSkill) Tools() []skills.ToolSpec {
	return []skills.ToolSpec{{Name: "echo", Description: "echo", Parameters: map[string]interface{}{"type": "object"}}}
}
func (echoSkill) Execute(_ context.Context, _ *skills.AgentContext, _ string, args map[string]interface{}) *skills.Result {
	v, _ := args["value"].(string)
	return skills.NewResult("echo:" + v)
}

func testLoop(t *testing.T, model ChatModel) *Loop {
	t.Helper()
	reg, err := skills.NewRegistry(echoSkill{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewLoop(model, reg, config.AgentDefaults{MaxToolIterations: 8, TurnTimeoutSec: 30}, time.UTC)
}

func TestLoopTerminalText(t *testing.T) {
	model := &scriptedModel{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	got, err := testLoop(t, model).Run(context.Background(), TurnInput{UserText: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "hello there" {
		t.Errorf("reply = %q", got)
	}
	if model.calls != 1 {
		t.Errorf("model called %d times, want 1", model.calls)
	}
}

func TestLoopToolRoundTrip(t *testing.T) {
	model := &scriptedModel{responses: []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{{
				ID: "c1", Name: "echo", Arguments: map[string]interface{}{"value": "ping"},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "the echo said ping", FinishReason: "stop"},
	}}
	got, err := testLoop(t, model).Run(context.Background(), TurnInput{UserText: "use echo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "the echo said ping" {
		t.Errorf("reply = %q", got)
	}
	if len(model.sawTool) != 1 {
		t.Fatalf("model saw %d tool messages, want 1", len(model.sawTool))
	}
	tm := model.sawTool[0]
	if tm.ToolCallID != "c1" || tm.Name != "echo" || tm.Content != "echo:ping" {
		t.Errorf("tool message = %+v", tm)
	}
}

func TestLoopUnknownToolFedBack(t *testing.T) {
	model := &scriptedModel{responses: []*providers.ChatResponse{
		{
			ToolCalls:    []providers.ToolCall{{ID: "c1", Name: "launch_missiles", Arguments: nil}},
			FinishReason: "tool_calls",
		},
		{Content: "sorry, I can't do that", FinishReason: "stop"},
	}}
	got, err := testLoop(t, model).Run(context.Background(), TurnInput{UserText: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "sorry, I can't do that" {
		t.Errorf("reply = %q", got)
	}
	if len(model.sawTool) != 1 || !strings.Contains(model.sawTool[0].Content, "unknown tool") {
		t.Errorf("unknown-tool result not fed back: %+v", model.sawTool)
	}
}

func TestLoopIterationCap(t *testing.T) {
	// a model that never stops calling tools
	endless := make([]*providers.ChatResponse, 20)
	for i := range endless {
		endless[i] = &providers.ChatResponse{
			ToolCalls:    []providers.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]interface{}{"value": "again"}}},
			FinishReason: "tool_calls",
		}
	}
	model := &scriptedModel{responses: endless}
	reg, err := skills.NewRegistry(echoSkill{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	loop := NewLoop(model, reg, config.AgentDefaults{MaxToolIterations: 3, TurnTimeoutSec: 30}, time.UTC)

	got, err := loop.Run(context.Background(), TurnInput{UserText: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got == "" {
		t.Fatal("cap reply is empty")
	}
	if !strings.Contains(got, "3 tool steps") {
		t.Errorf("cap reply = %q, want mention of the step cap", got)
	}
	if model.calls != 3 {
		t.Errorf("model called %d times, want 3", model.calls)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"thinking block", "<think>secret reasoning</think>the answer is 4", "the answer is 4"},
		{"garbled xml", "<tool_call>x</tool_call>ok", "ok"},
		{"duplicate blocks", "same\n\nsame\n\nnext", "same\n\nnext"},
		{"leading blanks", "\n\n  \nhi", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSystemPromptMentionsSkills(t *testing.T) {
	loop := testLoop(t, &scriptedModel{})
	prompt := loop.SystemPrompt(false)
	if !strings.Contains(prompt, "echo repeats its input") {
		t.Errorf("prompt lacks skill doc:\n%s", prompt)
	}
	if !strings.Contains(prompt, "clarifying question") {
		t.Errorf("prompt lacks the clarification rule")
	}
}
