package tplparser

import (
	"fmt"
	"strings"
)

// renderMistral has no generation marker; a reply follows [/INST] directly.
func renderMistral(opts RenderOptions) (string, error) {
	var b strings.Builder
	b.WriteString(opts.BOSToken)

	system, msgs := splitSystem(opts.Messages)
	if system != "" {
		b.WriteString("[SYSTEM_PROMPT]")
		b.WriteString(system)
		b.WriteString("[/SYSTEM_PROMPT]")
	}

	for i, m := range msgs {
		wantUser := i%2 == 0
		if (m.Role == "user") != wantUser || (m.Role != "user" && m.Role != "assistant") {
			return "", fmt.Errorf("mistral: messages must alternate user/assistant roles, got %q at %d", m.Role, i)
		}
		if m.Role == "user" {
			b.WriteString("[INST]")
			b.WriteString(m.Content)
			b.WriteString("[/INST]")
			continue
		}
		text := m.Content
		if !opts.KeepPastThinking {
			text = stripThinking(text)
		}
		b.WriteString(text)
		b.WriteString("</s>")
	}
	return b.String(), nil
}
