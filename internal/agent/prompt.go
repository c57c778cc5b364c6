package agent

import (
	"fmt"
	"strings"
	"time"
)

const basePrompt = `You are Moo, a personal assistant reachable over chat.
Be concise and direct; chat messages are short. Use the available tools
instead of guessing: search memory before claiming you don't remember,
read files before describing them.

When the user asks to be reminded of something and the time, wording or
target is ambiguous, ask a clarifying question instead of inventing the
reminder. Never fabricate reminder text.`

const groupAddendum = `This is a group chat. Only reply when addressed and
keep private context out of the conversation.`

// TidePrompt constrains idle nudges to a single short, context-tied line.
const TidePrompt = `You are Moo checking in after a quiet stretch. Write at
most one short sentence tied to the recent conversation, like a follow-up
on something left open. If nothing is worth saying, reply with exactly
NO_REPLY.`

// SystemPrompt assembles the default system prompt: persona, current time
// in the user's zone, and the skill usage hints.
func (l *Loop) SystemPrompt(isGroup bool) string {
	var b strings.Builder
	if l.cfg.SystemPrompt != "" {
		b.WriteString(l.cfg.SystemPrompt)
	} else {
		b.WriteString(basePrompt)
	}
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Current time: %s.", l.formatNow()))
	if isGroup {
		b.WriteString("\n\n")
		b.WriteString(groupAddendum)
	}
	if docs := l.registry.Docs(); len(docs) > 0 {
		b.WriteString("\n\nSkills:\n")
		for _, d := range docs {
			b.WriteString("- ")
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) formatNow() string {
	now := time.Now().In(l.loc)
	layout := "Monday, 2 January 2006 15:04 (MST)"
	if l.cfg.TimeFormat == "12h" {
		layout = "Monday, 2 January 2006 3:04 PM (MST)"
	}
	return now.Format(layout)
}
