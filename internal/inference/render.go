package inference

import (
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/tplparser"
)

// Formatter renders session messages with a tplparser style.
type Formatter struct {
	Style            string
	BOSToken         string
	KeepPastThinking bool
}

// ResolveStyle picks a style from an explicit name or a chat template.
// The second value reports where the choice came from.
func ResolveStyle(style, template string) (string, string, error) {
	if s := strings.TrimSpace(style); s != "" {
		resolved, ok := tplparser.Resolve(s)
		if !ok {
			return "", "", fmt.Errorf("unknown prompt style %q (have %s)", s, strings.Join(tplparser.Styles(), ", "))
		}
		return resolved, "flag", nil
	}

	template = strings.TrimSpace(template)
	source := "template"
	if len(template) < 256 && fileExists(template) {
		raw, err := os.ReadFile(template)
		if err != nil {
			return "", "", fmt.Errorf("read chat template: %w", err)
		}
		template = string(raw)
		source += ":file"
	}
	if resolved, ok := tplparser.Detect(template); ok {
		return resolved, source, nil
	}
	return tplparser.StyleChatML, "default", nil
}

func (f Formatter) Render(msgs []session.Message, addReplyMarker bool) (string, error) {
	in := make([]tplparser.Message, len(msgs))
	for i, m := range msgs {
		in[i] = tplparser.Message{Role: string(m.Role), Content: m.Content}
	}
	out, ok, err := tplparser.Render(tplparser.RenderOptions{
		Style:               f.Style,
		BOSToken:            f.BOSToken,
		AddGenerationPrompt: addReplyMarker,
		KeepPastThinking:    f.KeepPastThinking,
		Messages:            in,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no renderer for style %q", f.Style)
	}
	return out, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
