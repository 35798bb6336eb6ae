package inference

import (
	"github.com/samcharles93/chatcache/internal/backend/toy"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/media"
	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/tplparser"
)

const (
	DefaultSeed   = 7
	DefaultHidden = 48
)

// Config describes one session and the model behind it.
type Config struct {
	Seed   int64
	Hidden int

	ContextSize   int
	BatchSize     int
	MaxReplyUnits int
	ResetPolicy   session.ResetPolicy

	// Style names a prompt style. Template, inline or a file path, is only
	// consulted when Style is empty.
	Style            string
	Template         string
	SystemPrompt     string
	KeepPastThinking bool

	Vision    bool
	PatchSize int
	MaxSide   int

	Sampler logits.Config
}

// DefaultConfig returns the settings the chat command starts from.
func DefaultConfig() Config {
	return ResolveConfig(Config{Sampler: logits.DefaultConfig()})
}

// ResolveConfig fills zero fields with defaults.
func ResolveConfig(cfg Config) Config {
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.Hidden <= 0 {
		cfg.Hidden = DefaultHidden
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = session.DefaultContextSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = session.DefaultBatchSize
	}
	if cfg.MaxReplyUnits <= 0 {
		cfg.MaxReplyUnits = session.DefaultMaxReplyUnits
	}
	if cfg.Style == "" && cfg.Template == "" {
		cfg.Style = tplparser.StyleChatML
	}
	if cfg.PatchSize <= 0 {
		cfg.PatchSize = toy.DefaultPatchSize
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = media.DefaultMaxSide
	}
	return cfg
}

func (c Config) sessionOptions() session.Options {
	return session.Options{
		ContextSize:   c.ContextSize,
		MaxReplyUnits: c.MaxReplyUnits,
		BatchSize:     c.BatchSize,
		SystemPrompt:  c.SystemPrompt,
		ResetPolicy:   c.ResetPolicy,
	}
}
