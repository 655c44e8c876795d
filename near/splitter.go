package near

import (
	"strings"
)

const fenceMarker = "```"

// SplitMessage splits a reply into chunks of at most maxLen characters,
// keeping Markdown code fences valid in every chunk.
//
// Splitting is line-based. When a flush happens inside a fenced code
// block, the current chunk is closed with a ``` fence and the next chunk
// reopens with the original fence line (preserving any language tag).
// A single line longer than maxLen is hard-cut.
//
// Concatenating the chunks, minus any fences added by the splitter,
// reproduces the input text (modulo the trailing newline trimmed from
// each chunk).
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if text == "" {
		return nil
	}

	s := splitter{maxLen: maxLen}
	for _, line := range strings.Split(text, "\n") {
		s.addLine(line)
	}
	s.finish()
	return s.parts
}

type splitter struct {
	maxLen int
	parts  []string

	current strings.Builder
	inCode  bool

	// fence is the full opening fence line (e.g. "```python"), kept so a
	// split code block can be reopened with the same language tag
	fence string
}

func (s *splitter) addLine(line string) {
	// a line that can never fit gets hard-cut first
	for len(line) > s.maxLen {
		cut := s.maxLen
		if s.inCode {
			// leave room for the closing fence added on flush
			cut = s.maxLen - len(fenceMarker) - 1
		}
		s.addLine(line[:cut])
		line = line[cut:]
	}

	budget := s.maxLen
	if s.inCode {
		// leave room for the closing fence added on flush
		budget -= len(fenceMarker) + 1
	}
	if s.current.Len()+len(line)+1 > budget && s.current.Len() > 0 {
		s.flush()
	}

	stripped := strings.TrimSpace(line)
	if strings.HasPrefix(stripped, fenceMarker) {
		if s.inCode {
			s.inCode = false
			s.fence = ""
		} else {
			s.inCode = true
			s.fence = stripped
		}
	}

	s.current.WriteString(line)
	s.current.WriteString("\n")
}

// flush closes out the current chunk, fencing off an open code block and
// reopening it in the next chunk.
func (s *splitter) flush() {
	chunk := s.current.String()
	if s.inCode && !strings.HasSuffix(strings.TrimRight(chunk, "\n"), fenceMarker) {
		chunk += fenceMarker + "\n"
	}
	s.parts = append(s.parts, strings.TrimRight(chunk, "\n"))
	s.current.Reset()

	if s.inCode && s.fence != "" {
		s.current.WriteString(s.fence)
		s.current.WriteString("\n")
	}
}

func (s *splitter) finish() {
	if strings.TrimSpace(s.current.String()) == "" {
		return
	}
	s.flush()
	// flush may have queued a reopened fence with no content behind it
	if tail := strings.TrimSpace(s.current.String()); tail != "" && tail != s.fence {
		s.parts = append(s.parts, strings.TrimRight(s.current.String(), "\n"))
	}
	s.current.Reset()
}

// minifyString reduces the input string to at most limit characters.
//
// It first tries removing double newlines, then bold markers. If the
// string is still too long it's truncated with a suffix noting the
// output limit was reached. Used as the last-resort guard before
// sending, when a chunk somehow exceeds the platform limit.
func minifyString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = strings.ReplaceAll(s, "\n\n", "\n")
	if len(s) <= limit {
		return s
	}
	s = strings.ReplaceAll(s, "**", "")
	if len(s) <= limit {
		return s
	}
	suffix := "\n\n**(output limit reached)**"
	suffixLen := len([]rune(suffix))
	runes := []rune(s)
	if limit-suffixLen <= 0 {
		return strings.TrimSpace(string(runes[:limit]))
	}
	return strings.TrimSpace(string(runes[:limit-suffixLen]) + suffix)
}
