package api

import (
	"time"

	"github.com/samcharles93/chatcache/internal/session"
)

type CreateSessionRequest struct {
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ContextSize   int    `json:"context_size,omitempty"`
	MaxReplyUnits int    `json:"max_reply_units,omitempty"`
	ResetPolicy   string `json:"reset_policy,omitempty"`
}

// SessionOptions is what an Opener receives for a new session.
type SessionOptions struct {
	SystemPrompt  string
	ContextSize   int
	MaxReplyUnits int
	ResetPolicy   session.ResetPolicy
}

type SessionResponse struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Turns     int               `json:"turns"`
	Options   OptionsView       `json:"options"`
	History   []session.Message `json:"history"`
	Ledger    session.Ledger    `json:"ledger"`
}

type OptionsView struct {
	ContextSize   int    `json:"context_size"`
	MaxReplyUnits int    `json:"max_reply_units"`
	BatchSize     int    `json:"batch_size"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	ResetPolicy   string `json:"reset_policy"`
	Vision        bool   `json:"vision"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type TurnRequest struct {
	Text      string `json:"text"`
	MediaPath string `json:"media_path,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

type TurnResponse struct {
	Object      string         `json:"object"`
	Reply       string         `json:"reply"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Stop        string         `json:"stop"`
	PromptUnits int            `json:"prompt_units"`
	ReplyUnits  int            `json:"reply_units"`
	Overflow    bool           `json:"overflow"`
	Resynced    bool           `json:"resynced"`
	MediaUsed   bool           `json:"media_used"`
	MediaID     string         `json:"media_fingerprint,omitempty"`
	Ledger      session.Ledger `json:"ledger"`
	Stats       TurnStats      `json:"stats"`
}

type TurnStats struct {
	PromptMS  float64 `json:"prompt_ms"`
	ReplyMS   float64 `json:"reply_ms"`
	PromptTPS float64 `json:"prompt_tps"`
	ReplyTPS  float64 `json:"reply_tps"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version"`
}

func newTurnResponse(r session.Reply, content, reasoning string) TurnResponse {
	return TurnResponse{
		Object:      "turn",
		Reply:       content,
		Reasoning:   reasoning,
		Stop:        string(r.Stop),
		PromptUnits: r.Stats.PromptUnits,
		ReplyUnits:  r.Stats.ReplyUnits,
		Overflow:    r.Overflow,
		Resynced:    r.Resynced,
		MediaUsed:   r.MediaUsed,
		MediaID:     r.MediaFingerprint,
		Ledger:      r.Ledger,
		Stats: TurnStats{
			PromptMS:  ms(r.Stats.PromptDuration),
			ReplyMS:   ms(r.Stats.ReplyDuration),
			PromptTPS: r.Stats.PromptTPS(),
			ReplyTPS:  r.Stats.ReplyTPS(),
		},
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
