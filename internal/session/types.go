package session

import "time"

// Role tags a message in the conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history. Values are never mutated
// once appended.
type Message struct {
	Role    Role   `json:"role" cbor:"1,keyasint"`
	Content string `json:"content" cbor:"2,keyasint"`
}

// ResetPolicy controls what Reset does with the conversation history.
type ResetPolicy int

const (
	// ResetClearHistory drops every message along with the cached state.
	ResetClearHistory ResetPolicy = iota
	// ResetKeepHistory keeps the messages; the next turn re-submits the
	// whole transcript.
	ResetKeepHistory
)

func (p ResetPolicy) String() string {
	if p == ResetKeepHistory {
		return "keep"
	}
	return "clear"
}

// ParseResetPolicy accepts "clear" or "keep".
func ParseResetPolicy(s string) (ResetPolicy, bool) {
	switch s {
	case "", "clear":
		return ResetClearHistory, true
	case "keep":
		return ResetKeepHistory, true
	default:
		return ResetClearHistory, false
	}
}

const (
	DefaultContextSize   = 2048
	DefaultMaxReplyUnits = 1280
	DefaultBatchSize     = 512
)

// Options configures a Session. Zero values take the defaults above.
type Options struct {
	// ContextSize is the capacity of the evaluator cache in units.
	ContextSize int
	// MaxReplyUnits bounds the units generated per turn.
	MaxReplyUnits int
	// BatchSize bounds the units packed into one Evaluate call.
	BatchSize int
	// SystemPrompt, when set, is rendered ahead of the history on every turn.
	SystemPrompt string
	ResetPolicy  ResetPolicy
}

func (o Options) withDefaults() Options {
	if o.ContextSize <= 0 {
		o.ContextSize = DefaultContextSize
	}
	if o.MaxReplyUnits <= 0 {
		o.MaxReplyUnits = DefaultMaxReplyUnits
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// StopReason records why a turn stopped generating.
type StopReason string

const (
	StopEndOfSequence StopReason = "eos"
	StopLength        StopReason = "length"
	StopCancelled     StopReason = "cancelled"
)

// Stats captures timings for one turn.
type Stats struct {
	PromptUnits    int
	PromptDuration time.Duration
	ReplyUnits     int
	ReplyDuration  time.Duration
}

// PromptTPS is the prefill throughput in units per second.
func (s Stats) PromptTPS() float64 {
	return rate(s.PromptUnits, s.PromptDuration)
}

// ReplyTPS is the decode throughput in units per second.
func (s Stats) ReplyTPS() float64 {
	return rate(s.ReplyUnits, s.ReplyDuration)
}

func rate(n int, d time.Duration) float64 {
	if n == 0 || d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Reply is the result of a completed turn.
type Reply struct {
	Text      string
	Stop      StopReason
	Overflow  bool
	Resynced  bool
	MediaUsed bool
	Stats     Stats
	Ledger    Ledger

	// MediaFingerprint identifies the media content, when the vision
	// capability provides one.
	MediaFingerprint string

	// Delta is the prompt text submitted for this turn.
	Delta string
}

// StreamFunc receives each non-empty chunk of a reply as it is assembled.
type StreamFunc func(chunk string)
