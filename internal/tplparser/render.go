package tplparser

import (
	"fmt"
	"slices"
	"strings"
)

const (
	StyleChatML  = "chatml"
	StyleGemma   = "gemma"
	StyleMistral = "mistral"
)

type renderFunc func(RenderOptions) (string, error)

var renderers = map[string]renderFunc{
	StyleChatML:  renderChatML,
	StyleGemma:   renderGemma,
	StyleMistral: renderMistral,
}

var styleAliases = map[string]string{
	"lfm2":     StyleChatML,
	"qwen3":    StyleChatML,
	"gemma3":   StyleGemma,
	"mistral3": StyleMistral,
}

// Styles lists the supported style names.
func Styles() []string {
	out := make([]string, 0, len(renderers))
	for name := range renderers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Resolve maps a style name or alias to a supported style.
func Resolve(style string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(style))
	if alias, ok := styleAliases[s]; ok {
		s = alias
	}
	_, ok := renderers[s]
	return s, ok
}

// Detect guesses a style from a raw chat template.
func Detect(template string) (string, bool) {
	switch {
	case strings.Contains(template, "<start_of_turn>"):
		return StyleGemma, true
	case strings.Contains(template, "[INST]"):
		return StyleMistral, true
	case strings.Contains(template, "<|im_start|>") && strings.Contains(template, "<|im_end|>"):
		return StyleChatML, true
	default:
		return "", false
	}
}

// Render returns (output, ok). ok=false means no renderer matched.
func Render(opts RenderOptions) (string, bool, error) {
	style, ok := Resolve(opts.Style)
	if opts.Style == "" {
		style, ok = Detect(opts.Template)
	}
	if !ok {
		return "", false, nil
	}
	for i, m := range opts.Messages {
		if i > 0 && m.Role == "system" {
			return "", true, fmt.Errorf("%s: system message must come first", style)
		}
	}
	out, err := renderers[style](opts)
	if err != nil {
		return "", true, err
	}
	return out, true, nil
}

func splitSystem(msgs []Message) (string, []Message) {
	if len(msgs) > 0 && msgs[0].Role == "system" {
		return msgs[0].Content, msgs[1:]
	}
	return "", msgs
}

// stripThinking drops everything up to the last </think>.
func stripThinking(text string) string {
	if cut := strings.LastIndex(text, "</think>"); cut >= 0 {
		return strings.TrimSpace(text[cut+len("</think>"):])
	}
	return text
}
