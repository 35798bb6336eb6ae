package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/session"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/chatcache/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// isSetter is the part of *cli.Command used to let flags win over the
// config file.
type isSetter interface {
	IsSet(name string) bool
}

// modelSettings collects the flags shared by chat, serve and bench.
type modelSettings struct {
	seed         int64
	hidden       int64
	contextSize  int64
	batchSize    int64
	maxReply     int64
	style        string
	chatTemplate string
	system       string
	vision       bool
	resetPolicy  string
	keepThinking bool

	temperature   float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
	genConfig     string
}

func (s *modelSettings) flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "model and sampler seed",
			Value:       inference.DefaultSeed,
			Destination: &s.seed,
		},
		&cli.Int64Flag{
			Name:        "hidden",
			Usage:       "hidden size of the reference model",
			Value:       inference.DefaultHidden,
			Destination: &s.hidden,
		},
		&cli.Int64Flag{
			Name:        "context",
			Aliases:     []string{"ctx", "c"},
			Usage:       "context capacity in units",
			Value:       session.DefaultContextSize,
			Destination: &s.contextSize,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "units per evaluation batch during prefill",
			Value:       session.DefaultBatchSize,
			Destination: &s.batchSize,
		},
		&cli.Int64Flag{
			Name:        "max-reply",
			Aliases:     []string{"n"},
			Usage:       "maximum units generated per turn",
			Value:       session.DefaultMaxReplyUnits,
			Destination: &s.maxReply,
		},
		&cli.StringFlag{
			Name:        "style",
			Usage:       "prompt style (chatml, gemma, mistral)",
			Destination: &s.style,
		},
		&cli.StringFlag{
			Name:        "chat-template",
			Usage:       "chat template text or path, used to detect the style",
			Destination: &s.chatTemplate,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt",
			Destination: &s.system,
		},
		&cli.BoolFlag{
			Name:        "vision",
			Usage:       "enable media inputs",
			Destination: &s.vision,
		},
		&cli.StringFlag{
			Name:        "reset-policy",
			Usage:       "what /reset does with history (clear, keep)",
			Value:       "clear",
			Destination: &s.resetPolicy,
		},
		&cli.BoolFlag{
			Name:        "keep-thinking",
			Usage:       "keep <think> blocks of earlier replies in the prompt",
			Destination: &s.keepThinking,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       logits.DefaultTemperature,
			Destination: &s.temperature,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k"},
			Usage:       "top-k sampling parameter",
			Value:       logits.DefaultTopK,
			Destination: &s.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "top-p sampling parameter",
			Value:       logits.DefaultTopP,
			Destination: &s.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Aliases:     []string{"min_p"},
			Usage:       "min-p sampling parameter (0 = disabled)",
			Destination: &s.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1,
			Destination: &s.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Aliases:     []string{"repeat_last_n"},
			Usage:       "last n units to penalize",
			Value:       logits.DefaultRepeatLastN,
			Destination: &s.repeatLastN,
		},
		&cli.StringFlag{
			Name:        "generation-config",
			Usage:       "generation_config.json supplying sampler defaults",
			Destination: &s.genConfig,
		},
	}
}

func (s *modelSettings) inferenceConfig() (inference.Config, error) {
	policy, ok := session.ParseResetPolicy(s.resetPolicy)
	if !ok {
		return inference.Config{}, fmt.Errorf("invalid reset policy %q (want clear or keep)", s.resetPolicy)
	}
	if s.contextSize <= 0 || s.batchSize <= 0 || s.maxReply <= 0 {
		return inference.Config{}, fmt.Errorf("context, batch and max-reply must be positive")
	}
	return inference.Config{
		Seed:             s.seed,
		Hidden:           int(s.hidden),
		ContextSize:      int(s.contextSize),
		BatchSize:        int(s.batchSize),
		MaxReplyUnits:    int(s.maxReply),
		ResetPolicy:      policy,
		Style:            s.style,
		Template:         s.chatTemplate,
		SystemPrompt:     s.system,
		KeepPastThinking: s.keepThinking,
		Vision:           s.vision,
		Sampler: logits.Config{
			Seed:          uint64(s.seed),
			Temperature:   float32(s.temperature),
			TopK:          int(s.topK),
			TopP:          float32(s.topP),
			MinP:          float32(s.minP),
			RepeatPenalty: float32(s.repeatPenalty),
			RepeatLastN:   int(s.repeatLastN),
		},
	}, nil
}

// applyGenerationDefaults copies sampler values from a generation config
// into settings whose flags were not given.
func (s *modelSettings) applyGenerationDefaults(c isSetter, g inference.GenDefaults) {
	if g.Temperature != nil && *g.Temperature >= 0 && !c.IsSet("temp") {
		s.temperature = *g.Temperature
	}
	if g.TopK != nil && *g.TopK > 0 && !c.IsSet("top-k") {
		s.topK = int64(*g.TopK)
	}
	if g.TopP != nil && *g.TopP > 0 && *g.TopP <= 1 && !c.IsSet("top-p") {
		s.topP = *g.TopP
	}
	if g.MinP != nil && *g.MinP >= 0 && !c.IsSet("min-p") {
		s.minP = *g.MinP
	}
	if g.RepetitionPenalty != nil && *g.RepetitionPenalty > 0 && !c.IsSet("repeat-penalty") {
		s.repeatPenalty = *g.RepetitionPenalty
	}
}

// resolve layers config file, generation config and flags, in increasing
// priority.
func (s *modelSettings) resolve(c isSetter, fc Config) (inference.Config, error) {
	fc.applyModel(c, s)
	if s.genConfig != "" {
		g, err := inference.LoadGenerationDefaults(s.genConfig)
		if err != nil {
			return inference.Config{}, err
		}
		s.applyGenerationDefaults(c, g)
	}
	return s.inferenceConfig()
}
