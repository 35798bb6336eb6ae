package session

import "strings"

// RenderDelta renders msgs and returns the text past offset together with
// the full rendering. ok is false when the rendering no longer extends
// baseline[:offset], meaning the cached state describes a different
// transcript.
func RenderDelta(f Formatter, msgs []Message, baseline string, offset int, addReplyMarker bool) (delta, full string, ok bool, err error) {
	full, err = f.Render(msgs, addReplyMarker)
	if err != nil {
		return "", "", false, &FormatError{Err: err}
	}
	if offset > len(full) || offset > len(baseline) || !strings.HasPrefix(full, baseline[:offset]) {
		return full, full, false, nil
	}
	return full[offset:], full, true, nil
}

// transcript builds the message list handed to the formatter.
func (s *Session) transcript(extra ...Message) []Message {
	msgs := make([]Message, 0, len(s.history)+len(extra)+1)
	if s.opts.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: s.opts.SystemPrompt})
	}
	msgs = append(msgs, s.history...)
	return append(msgs, extra...)
}
