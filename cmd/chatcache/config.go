package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the chatcache configuration file. Pointer fields tell "not set"
// apart from zero values; a flag given on the command line always wins.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Model   ModelConfig   `yaml:"model"`
	Sampler SamplerConfig `yaml:"sampler"`
	Chat    ChatConfig    `yaml:"chat"`
	Serve   ServeConfig   `yaml:"serve"`
}

type ModelConfig struct {
	Seed          *int64  `yaml:"seed"`
	Hidden        *int64  `yaml:"hidden"`
	ContextSize   *int64  `yaml:"context_size"`
	BatchSize     *int64  `yaml:"batch_size"`
	MaxReplyUnits *int64  `yaml:"max_reply_units"`
	Style         *string `yaml:"style"`
	ChatTemplate  *string `yaml:"chat_template"`
	SystemPrompt  *string `yaml:"system_prompt"`
	Vision        *bool   `yaml:"vision"`
	ResetPolicy   *string `yaml:"reset_policy"`
	KeepThinking  *bool   `yaml:"keep_thinking"`
}

type SamplerConfig struct {
	Temperature      *float64 `yaml:"temperature"`
	TopK             *int64   `yaml:"top_k"`
	TopP             *float64 `yaml:"top_p"`
	MinP             *float64 `yaml:"min_p"`
	RepeatPenalty    *float64 `yaml:"repeat_penalty"`
	RepeatLastN      *int64   `yaml:"repeat_last_n"`
	GenerationConfig *string  `yaml:"generation_config"`
}

type ChatConfig struct {
	StreamMode    *string `yaml:"stream_mode"`
	ShowReasoning *bool   `yaml:"show_reasoning"`
	ShowStats     *bool   `yaml:"show_stats"`
}

type ServeConfig struct {
	Address     *string        `yaml:"address"`
	ReadTimeout *time.Duration `yaml:"read_timeout"`
	MediaRoot   *string        `yaml:"media_root"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatcache", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func setInt(c isSetter, name string, src *int64, dst *int64) {
	if src != nil && !c.IsSet(name) {
		*dst = *src
	}
}

func setFloat(c isSetter, name string, src *float64, dst *float64) {
	if src != nil && !c.IsSet(name) {
		*dst = *src
	}
}

func setString(c isSetter, name string, src *string, dst *string) {
	if src != nil && !c.IsSet(name) {
		*dst = *src
	}
}

func setBool(c isSetter, name string, src *bool, dst *bool) {
	if src != nil && !c.IsSet(name) {
		*dst = *src
	}
}

// applyModel fills model and sampler settings whose flags were not given.
func (cfg Config) applyModel(c isSetter, s *modelSettings) {
	m := cfg.Model
	setInt(c, "seed", m.Seed, &s.seed)
	setInt(c, "hidden", m.Hidden, &s.hidden)
	setInt(c, "context", m.ContextSize, &s.contextSize)
	setInt(c, "batch", m.BatchSize, &s.batchSize)
	setInt(c, "max-reply", m.MaxReplyUnits, &s.maxReply)
	setString(c, "style", m.Style, &s.style)
	setString(c, "chat-template", m.ChatTemplate, &s.chatTemplate)
	setString(c, "system", m.SystemPrompt, &s.system)
	setBool(c, "vision", m.Vision, &s.vision)
	setString(c, "reset-policy", m.ResetPolicy, &s.resetPolicy)
	setBool(c, "keep-thinking", m.KeepThinking, &s.keepThinking)

	p := cfg.Sampler
	setFloat(c, "temp", p.Temperature, &s.temperature)
	setInt(c, "top-k", p.TopK, &s.topK)
	setFloat(c, "top-p", p.TopP, &s.topP)
	setFloat(c, "min-p", p.MinP, &s.minP)
	setFloat(c, "repeat-penalty", p.RepeatPenalty, &s.repeatPenalty)
	setInt(c, "repeat-last-n", p.RepeatLastN, &s.repeatLastN)
	setString(c, "generation-config", p.GenerationConfig, &s.genConfig)
}

// applyChat fills chat display options whose flags were not given.
func (cfg Config) applyChat(c isSetter, streamMode *string, showReasoning, showStats *bool) {
	setString(c, "stream-mode", cfg.Chat.StreamMode, streamMode)
	setBool(c, "show-reasoning", cfg.Chat.ShowReasoning, showReasoning)
	setBool(c, "stats", cfg.Chat.ShowStats, showStats)
}

// applyServe fills server options whose flags were not given.
func (cfg Config) applyServe(c isSetter, addr *string, readTimeout *time.Duration, mediaRoot *string) {
	setString(c, "addr", cfg.Serve.Address, addr)
	setString(c, "media-root", cfg.Serve.MediaRoot, mediaRoot)
	if cfg.Serve.ReadTimeout != nil && !c.IsSet("read-timeout") {
		*readTimeout = *cfg.Serve.ReadTimeout
	}
}

// applyLogging fills the global logging flags.
func (cfg Config) applyLogging(c isSetter) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
