package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/samcharles93/chatcache/internal/logger"
)

// ErrTurnAbandoned is returned by a Turn whose session was reset or closed
// before the turn finished.
var ErrTurnAbandoned = errors.New("turn abandoned")

// Session holds one conversation and the evaluator state built from it.
// A Session is not safe for concurrent use; callers serialize turns.
type Session struct {
	caps  Capabilities
	opts  Options
	guard Guard
	log   logger.Logger

	history []Message
	ledger  Ledger
	// baseline is the last full rendering whose first RenderOffset bytes
	// are folded into the cache.
	baseline string
	// stale forces a cache clear before the next turn, set when an
	// evaluation failed partway.
	stale  bool
	batch  Batch
	active *Turn
	closed bool
}

// New returns a session driving caps. Vision may be nil.
func New(caps Capabilities, opts Options, log logger.Logger) (*Session, error) {
	if caps.Tokenizer == nil || caps.Formatter == nil || caps.Evaluator == nil || caps.Sampler == nil {
		return nil, errors.New("session: tokenizer, formatter, evaluator and sampler are required")
	}
	if log == nil {
		log = logger.Discard()
	}
	opts = opts.withDefaults()
	s := &Session{
		caps:  caps,
		opts:  opts,
		guard: Guard{Capacity: opts.ContextSize},
		log:   log,
	}
	log.Debug("session created",
		"context", opts.ContextSize,
		"max_reply", opts.MaxReplyUnits,
		"batch", opts.BatchSize,
		"vision", caps.Vision != nil,
	)
	return s, nil
}

func (s *Session) Options() Options { return s.opts }

// HasVision reports whether media inputs are honoured.
func (s *Session) HasVision() bool { return s.caps.Vision != nil }

// History returns a copy of the conversation so far.
func (s *Session) History() []Message { return slices.Clone(s.history) }

func (s *Session) Ledger() Ledger { return s.ledger }

// SendTurn runs a full turn and returns the assembled reply text.
func (s *Session) SendTurn(ctx context.Context, text, mediaPath string) (string, error) {
	r, err := s.Stream(ctx, text, mediaPath, nil)
	if err != nil {
		return "", err
	}
	return r.Text, nil
}

// Stream runs a full turn, passing every assembled chunk to fn.
// A cancelled ctx ends the turn early; the partial reply is kept in history
// and returned alongside ctx's error.
func (s *Session) Stream(ctx context.Context, text, mediaPath string, fn StreamFunc) (Reply, error) {
	t, err := s.Begin(ctx, text, mediaPath)
	if err != nil {
		return Reply{}, err
	}
	for {
		chunk, done, err := t.Next(ctx)
		if chunk != "" && fn != nil {
			fn(chunk)
		}
		if err != nil {
			return t.Reply(), err
		}
		if done {
			return t.Reply(), nil
		}
	}
}

// Begin renders and prefills a user turn and returns the Turn that drives
// generation. mediaPath is optional; media that fails to load is ignored.
func (s *Session) Begin(ctx context.Context, text, mediaPath string) (*Turn, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.active != nil {
		return nil, ErrTurnInProgress
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Turn{s: s}

	var media []Media
	if mediaPath != "" {
		media = s.loadMedia(mediaPath)
		if len(media) > 0 {
			text = s.caps.Vision.Marker() + text
		}
	}
	t.user = Message{Role: RoleUser, Content: text}

	// Everything that can fail without touching the evaluator runs first;
	// the cache is only cleared once the resubmission is tokenized.
	fresh := s.stale
	baseline, offset := s.baseline, s.ledger.RenderOffset
	if fresh {
		baseline, offset = "", 0
	}
	delta, full, ok, err := RenderDelta(s.caps.Formatter, s.transcript(t.user), baseline, offset, true)
	if err != nil {
		return nil, err
	}
	if s.stale {
		t.reply.Resynced = true
	}
	if !ok {
		fresh = true
		t.reply.Resynced = true
	}

	in, err := s.tokenize(delta, media, fresh || s.ledger.CachePosition == 0)
	if err != nil {
		return nil, err
	}

	start := Ledger{}
	if !fresh {
		start = s.ledger
	}
	budget := s.opts.MaxReplyUnits
	if s.guard.Overflows(start, in.size, budget) {
		t.reply.Overflow = true
		s.log.Warn("context overflow, resubmitting transcript",
			"required", s.guard.Required(start, in.size, budget),
			"capacity", s.guard.Capacity,
		)
		if !fresh {
			fresh = true
			start = Ledger{}
			delta = full
			if in, err = s.tokenize(delta, media, true); err != nil {
				return nil, err
			}
		}
	}
	if rem := s.guard.Remaining(start, in.size); rem < budget {
		if rem == 0 {
			return nil, &EvaluationError{Stage: "prefill", Position: s.ledger.CachePosition, Err: ErrPromptTooLong}
		}
		budget = rem
	}

	if fresh {
		if s.stale {
			s.log.Warn("resubmitting transcript after failed evaluation", "position", s.ledger.CachePosition)
		} else if !ok {
			s.log.Warn("transcript no longer extends cached prefix, resubmitting",
				"render_offset", s.ledger.RenderOffset,
				"rendered", len(full),
			)
		}
		if err := s.clearCache(); err != nil {
			return nil, err
		}
	}

	began := time.Now()
	var n int
	if in.chunks != nil {
		n, err = s.evalChunks(in.chunks)
	} else {
		n, err = s.prefill(in.units)
	}
	if err != nil {
		return nil, err
	}

	t.budget = budget
	t.started = time.Now()
	t.reply.Delta = delta
	t.reply.MediaUsed = len(media) > 0
	if len(media) > 0 {
		if fp, ok := media[0].(fingerprinter); ok {
			t.reply.MediaFingerprint = fp.Fingerprint()
		}
	}
	t.reply.Stats.PromptUnits = n
	t.reply.Stats.PromptDuration = t.started.Sub(began)
	s.active = t

	s.log.Debug("prefill complete",
		"units", n,
		"media", t.reply.MediaFingerprint,
		"position", s.ledger.CachePosition,
		"budget", budget,
		"took", t.reply.Stats.PromptDuration,
	)
	return t, nil
}

// Reset clears the evaluator cache and the ledger. History is kept or
// dropped according to Options.ResetPolicy. An active turn is abandoned.
func (s *Session) Reset() error {
	if s.closed {
		return ErrClosed
	}
	s.abandon()
	if s.opts.ResetPolicy == ResetClearHistory {
		s.history = nil
	}
	return s.clearCache()
}

// Restore replaces the history, for example from a snapshot. The cache is
// cleared so the next turn submits the restored transcript in full.
func (s *Session) Restore(history []Message) error {
	if s.closed {
		return ErrClosed
	}
	if s.active != nil {
		return ErrTurnInProgress
	}
	for i, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("restore: message %d has unsupported role %q", i, m.Role)
		}
	}
	s.history = slices.Clone(history)
	return s.clearCache()
}

// Close releases every capability that implements io.Closer. It is safe to
// call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.abandon()
	s.closed = true

	var (
		closed []io.Closer
		errs   []error
	)
	for _, c := range []any{s.caps.Vision, s.caps.Evaluator, s.caps.Sampler, s.caps.Formatter, s.caps.Tokenizer} {
		cl, ok := c.(io.Closer)
		if !ok || slices.Contains(closed, cl) {
			continue
		}
		closed = append(closed, cl)
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) abandon() {
	if s.active != nil {
		s.active.done = true
		s.active.err = ErrTurnAbandoned
		s.active = nil
	}
}

func (s *Session) clearCache() error {
	s.ledger.reset()
	s.baseline = ""
	s.stale = false
	if r, ok := s.caps.Sampler.(resetter); ok {
		r.Reset()
	}
	if err := s.caps.Evaluator.ClearCache(); err != nil {
		s.stale = true
		return &EvaluationError{Stage: "clear", Err: err}
	}
	return nil
}
