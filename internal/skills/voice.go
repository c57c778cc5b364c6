package skills

import (
	"context"
	"fmt"
)

// VoiceSkill replies with synthesized speech instead of text. The synthesis
// itself happens behind the AgentContext send hook so the skill stays
// transport-agnostic.
type VoiceSkill struct{}

func NewVoiceSkill() *VoiceSkill { return &VoiceSkill{} }

func (s *VoiceSkill) ID() string { return "voice" }

func (s *VoiceSkill) Doc() string {
	return "voice_reply speaks a short message aloud in the chat. Use it only when the user asks for voice."
}

func (s *VoiceSkill) GroupSafe() bool { return true }

func (s *VoiceSkill) Tools() []ToolSpec {
	return []ToolSpec{{
		Name:        "voice_reply",
		Description: "Send the given text as a voice message",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to speak",
				},
			},
			"required": []string{"text"},
		},
	}}
}

func (s *VoiceSkill) Execute(_ context.Context, ac *AgentContext, _ string, args map[string]interface{}) *Result {
	text := argString(args, "text")
	if text == "" {
		return ErrorResult(errJSON("text is required"))
	}
	if ac == nil || ac.SendVoice == nil {
		return ErrorResult(errJSON("this chat cannot receive voice messages"))
	}
	if err := ac.SendVoice(text); err != nil {
		return ErrorResult(errJSON(fmt.Sprintf("voice send failed: %v", err))).WithError(err)
	}
	return SilentResult("voice message sent")
}
