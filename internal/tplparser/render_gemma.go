package tplparser

import (
	"fmt"
	"strings"
)

func renderGemma(opts RenderOptions) (string, error) {
	var b strings.Builder
	b.WriteString(opts.BOSToken)

	system, msgs := splitSystem(opts.Messages)
	if system != "" {
		b.WriteString("<start_of_turn>developer\n")
		b.WriteString(strings.TrimSpace(system))
		b.WriteString("<end_of_turn>\n")
	}

	for _, m := range msgs {
		role := m.Role
		switch role {
		case "user":
		case "assistant":
			role = "model"
		default:
			return "", fmt.Errorf("gemma: unsupported role %q", m.Role)
		}
		text := m.Content
		if m.Role == "assistant" && !opts.KeepPastThinking {
			text = stripThinking(text)
		}
		b.WriteString("<start_of_turn>")
		b.WriteString(role)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("<end_of_turn>\n")
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<start_of_turn>model\n")
	}
	return b.String(), nil
}
