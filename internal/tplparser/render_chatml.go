package tplparser

import (
	"fmt"
	"strings"
)

func renderChatML(opts RenderOptions) (string, error) {
	var b strings.Builder
	b.WriteString(opts.BOSToken)

	system, msgs := splitSystem(opts.Messages)
	if system != "" {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		b.WriteString("<|im_end|>\n")
	}

	lastAssistant := -1
	for i, m := range msgs {
		if m.Role == "assistant" {
			lastAssistant = i
		}
	}

	for i, m := range msgs {
		switch m.Role {
		case "user", "assistant", "tool":
		default:
			return "", fmt.Errorf("chatml: unsupported role %q", m.Role)
		}
		text := m.Content
		if m.Role == "assistant" && !opts.KeepPastThinking && i != lastAssistant {
			text = stripThinking(text)
		}
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("<|im_end|>\n")
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String(), nil
}
