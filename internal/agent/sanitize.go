package agent

import (
	"regexp"
	"strings"
)

// Some models leak reasoning tags or tool-call XML into their text content.
// Sanitize strips those artifacts before the text reaches a chat.

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var leadingBlankLines = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

// Sanitize cleans assistant text for delivery.
func Sanitize(content string) string {
	if content == "" {
		return content
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<think") || strings.Contains(lower, "<thought") {
		for _, pat := range thinkingTagPatterns {
			content = pat.ReplaceAllString(content, "")
		}
	}
	if strings.Contains(lower, "<tool_") || strings.Contains(lower, "<function_call") ||
		strings.Contains(lower, "<invoke") || strings.Contains(lower, "<parameter") {
		content = garbledToolXMLPattern.ReplaceAllString(content, "")
	}
	content = collapseDuplicateBlocks(content)
	content = leadingBlankLines.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// collapseDuplicateBlocks drops consecutive repeated paragraphs, a failure
// mode of some providers under retry.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

// IsNoReply reports whether text is the explicit silence token an idle
// nudge uses to decline saying anything.
func IsNoReply(text string) bool {
	return strings.TrimSpace(text) == "NO_REPLY"
}
