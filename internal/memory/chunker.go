package memory

import "strings"

// Token counts are approximated at four characters per token, which is close
// enough to steer chunk sizes for English prose and code alike.
const charsPerToken = 4

// chunkerConfig bounds chunk size and overlap in approximate tokens.
type chunkerConfig struct {
	tokens  int
	overlap int
}

// clampChunker applies the safe band: tokens in [100, 2000], overlap in
// [0, 100], with defaults 512/32.
func clampChunker(tokens, overlap int) chunkerConfig {
	if tokens <= 0 {
		tokens = 512
	}
	if tokens < 100 {
		tokens = 100
	}
	if tokens > 2000 {
		tokens = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 100 {
		overlap = 100
	}
	return chunkerConfig{tokens: tokens, overlap: overlap}
}

// chunkLines splits text into line-aligned chunks of roughly cfg.tokens
// tokens, overlapping by roughly cfg.overlap tokens. Line numbers are
// 1-based and offset by startLine so tailed files keep absolute positions.
func chunkLines(text string, startLine int, cfg chunkerConfig) []Chunk {
	lines := strings.Split(text, "\n")
	// drop a trailing empty line from a final newline
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) == 0 {
		return nil
	}

	maxChars := cfg.tokens * charsPerToken
	overlapChars := cfg.overlap * charsPerToken

	var chunks []Chunk
	i := 0
	for i < len(lines) {
		var b strings.Builder
		first := i
		for i < len(lines) {
			// a single oversized line still becomes its own chunk
			if b.Len() > 0 && b.Len()+len(lines[i])+1 > maxChars {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(lines[i])
			i++
		}
		last := i - 1
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			StartLine: startLine + first,
			EndLine:   startLine + last,
			Text:      b.String(),
		})
		if i >= len(lines) {
			break
		}
		// walk back for the overlap window, but always advance
		back := i
		var acc int
		for back > first && acc < overlapChars {
			back--
			acc += len(lines[back]) + 1
		}
		if back > first {
			i = back
		}
	}
	return chunks
}
