package inference

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/chatcache/internal/backend/toy"
	"github.com/samcharles93/chatcache/internal/logger"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/session"
)

type LoadResult struct {
	Session   *session.Session
	Model     *toy.Model
	Context   *toy.Context
	Tokenizer *toy.Tokenizer
	Sampler   *logits.Sampler
	Config    Config
	// StyleSource reports where the prompt style came from.
	StyleSource string
}

// Close releases the session and every capability it owns.
func (r *LoadResult) Close() error {
	return r.Session.Close()
}

// Load builds a session backed by the toy model from cfg.
func Load(cfg Config, log logger.Logger) (*LoadResult, error) {
	if log == nil {
		log = logger.Discard()
	}
	cfg = ResolveConfig(cfg)

	style, source, err := ResolveStyle(cfg.Style, cfg.Template)
	if err != nil {
		return nil, err
	}
	cfg.Style = style

	if cfg.Sampler.Seed == 0 {
		cfg.Sampler.Seed = uint64(cfg.Seed)
	}

	m := toy.NewModel(cfg.Hidden, cfg.Seed)
	ctx := m.NewContext(cfg.ContextSize)
	cleanup := func(err error) (*LoadResult, error) {
		return nil, errors.Join(err, ctx.Close())
	}

	tok := toy.NewTokenizer()
	sampler := logits.New(cfg.Sampler)
	caps := session.Capabilities{
		Tokenizer: tok,
		Formatter: Formatter{Style: style, KeepPastThinking: cfg.KeepPastThinking},
		Evaluator: ctx,
		Sampler:   sampler,
	}
	if cfg.Vision {
		caps.Vision = toy.NewVision(ctx, tok, cfg.PatchSize, cfg.MaxSide)
	}

	sess, err := session.New(caps, cfg.sessionOptions(), log)
	if err != nil {
		return cleanup(err)
	}

	log.Info("session ready",
		"style", style,
		"style_source", source,
		"context", cfg.ContextSize,
		"vision", cfg.Vision,
		"temperature", cfg.Sampler.Temperature,
	)
	return &LoadResult{
		Session:     sess,
		Model:       m,
		Context:     ctx,
		Tokenizer:   tok,
		Sampler:     sampler,
		Config:      cfg,
		StyleSource: source,
	}, nil
}

// GenDefaults holds the sampler fields of a generation_config.json. Nil
// means the file did not set the field.
type GenDefaults struct {
	Temperature       *float64 `json:"temperature"`
	TopK              *int     `json:"top_k"`
	TopP              *float64 `json:"top_p"`
	MinP              *float64 `json:"min_p"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
}

// LoadGenerationDefaults reads a generation_config.json.
func LoadGenerationDefaults(path string) (GenDefaults, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return GenDefaults{}, fmt.Errorf("load generation config: %w", err)
	}
	return ParseGenerationDefaults(raw)
}

func ParseGenerationDefaults(raw []byte) (GenDefaults, error) {
	var g GenDefaults
	if len(raw) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return GenDefaults{}, fmt.Errorf("parse generation config: %w", err)
	}
	return g, nil
}
