package tplparser

// Message is one role-tagged entry to render.
type Message struct {
	Role    string
	Content string
}

// RenderOptions selects a prompt style and carries the messages.
type RenderOptions struct {
	// Style names a renderer directly. When empty, Template is matched by
	// signature.
	Style               string
	Template            string
	BOSToken            string
	AddGenerationPrompt bool
	// KeepPastThinking keeps <think> blocks of earlier assistant turns.
	// Stripping them rewrites earlier output between turns.
	KeepPastThinking bool
	Messages         []Message
}
