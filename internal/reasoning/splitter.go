// Package reasoning separates <think> blocks from visible reply text.
package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

type SplitResult struct {
	Content   string
	Reasoning string
}

// Split separates content and reasoning in a complete reply. An unclosed
// block runs to the end of the text.
func Split(raw string) SplitResult {
	var s Splitter
	var out SplitResult
	c, r := s.Push(raw)
	fc, fr := s.Flush()
	out.Content = c + fc
	out.Reasoning = r + fr
	return out
}

// Splitter routes streamed text into content and reasoning. A tag split
// across pushes is held back until it can be recognised.
type Splitter struct {
	thinking bool
	pending  string
}

// Thinking reports whether the splitter is inside a reasoning block.
func (s *Splitter) Thinking() bool { return s.thinking }

func (s *Splitter) Push(delta string) (content, reasoning string) {
	text := s.pending + delta
	s.pending = ""

	var c, r strings.Builder
	for text != "" {
		tag := openTag
		if s.thinking {
			tag = closeTag
		}
		dst := &c
		if s.thinking {
			dst = &r
		}

		if i := indexFold(text, tag); i >= 0 {
			dst.WriteString(text[:i])
			text = text[i+len(tag):]
			s.thinking = !s.thinking
			continue
		}
		keep := partialSuffix(text, tag)
		dst.WriteString(text[:len(text)-keep])
		s.pending = text[len(text)-keep:]
		break
	}
	return c.String(), r.String()
}

// Flush releases any held back bytes.
func (s *Splitter) Flush() (content, reasoning string) {
	p := s.pending
	s.pending = ""
	if s.thinking {
		return "", p
	}
	return p, ""
}

func indexFold(s, tag string) int {
	return strings.Index(strings.ToLower(s), tag)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.EqualFold(s[len(s)-n:], tag[:n]) {
			return n
		}
	}
	return 0
}
