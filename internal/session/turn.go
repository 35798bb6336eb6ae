package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

var errNoDistribution = errors.New("no output distribution available")

// Turn is a prefilled user turn whose reply is generated one unit per call
// to Next. It belongs to the session that created it.
type Turn struct {
	s       *Session
	user    Message
	budget  int
	asm     Assembler
	text    strings.Builder
	units   int
	started time.Time
	done    bool
	err     error
	reply   Reply
}

// Next generates one unit. It returns the text completed by this step, which
// is empty while a multi-byte character is still being assembled. done is
// true once the turn has finished; the reply is then part of the history.
func (t *Turn) Next(ctx context.Context) (string, bool, error) {
	if t.done {
		return "", true, t.err
	}
	if err := ctx.Err(); err != nil {
		if ferr := t.finish(StopCancelled); ferr != nil {
			return "", true, ferr
		}
		return "", true, err
	}

	s := t.s
	dist := s.caps.Evaluator.Distribution()
	if len(dist) == 0 {
		return "", true, t.fail(errNoDistribution)
	}
	unit := s.caps.Sampler.Sample(dist)
	if s.caps.Tokenizer.IsEndOfSequence(unit) {
		return "", true, t.finish(StopEndOfSequence)
	}

	chunk := t.asm.Push(s.caps.Tokenizer.UnitToText(unit))

	s.batch.Clear()
	s.batch.Add(unit, s.ledger.CachePosition, true)
	folded, err := s.evaluate()
	s.ledger.advance(folded)
	if err != nil {
		return "", true, t.fail(err)
	}
	t.units++
	t.text.WriteString(chunk)

	if t.units >= t.budget {
		return chunk, true, t.finish(StopLength)
	}
	return chunk, false, nil
}

// Stop ends the turn early and commits the reply generated so far.
func (t *Turn) Stop() (Reply, error) {
	if !t.done {
		if err := t.finish(StopCancelled); err != nil {
			return t.reply, err
		}
	}
	return t.reply, t.err
}

func (t *Turn) Done() bool { return t.done }

// Reply returns the turn result. It is complete once Done reports true.
func (t *Turn) Reply() Reply { return t.reply }

// finish commits the user message and reply and records the new render
// baseline. Bytes of an unfinished character are discarded.
func (t *Turn) finish(stop StopReason) error {
	s := t.s
	t.done = true
	s.active = nil

	if n := t.asm.Drop(); n > 0 {
		s.log.Debug("dropped incomplete trailing bytes", "bytes", n)
	}
	t.reply.Text = t.text.String()
	t.reply.Stop = stop
	t.reply.Stats.ReplyUnits = t.units
	t.reply.Stats.ReplyDuration = time.Since(t.started)

	s.history = append(s.history, t.user, Message{Role: RoleAssistant, Content: t.reply.Text})
	full, err := s.caps.Formatter.Render(s.transcript(), false)
	if err != nil {
		s.stale = true
		t.err = &FormatError{Err: err}
		return t.err
	}
	s.baseline = full
	s.ledger.RenderOffset = len(full)
	t.reply.Ledger = s.ledger

	s.log.Debug("turn complete",
		"stop", string(stop),
		"reply_units", t.units,
		"position", s.ledger.CachePosition,
		"render_offset", s.ledger.RenderOffset,
		"tps", t.reply.Stats.ReplyTPS(),
	)
	return nil
}

// fail ends the turn without committing it. The cache now holds units the
// history does not describe, so the next turn starts from a cleared cache.
func (t *Turn) fail(err error) error {
	s := t.s
	t.done = true
	s.active = nil
	s.stale = true
	t.err = &EvaluationError{Stage: "decode", Position: s.ledger.CachePosition, Err: err}
	t.reply = Reply{}
	return t.err
}
