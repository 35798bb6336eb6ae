package session

import (
	"errors"
	"slices"
	"strings"
)

const (
	testBOS = 1000
	testEOS = 999
)

// byteTokenizer maps every byte to one unit.
type byteTokenizer struct {
	err    error
	calls  []string
	bounds []bool
	// failCall makes the n-th Tokenize (1-based) fail.
	failCall int
}

func (b *byteTokenizer) Tokenize(text string, addBoundary, _ bool) ([]int, error) {
	b.calls = append(b.calls, text)
	b.bounds = append(b.bounds, addBoundary)
	if b.err != nil {
		return nil, b.err
	}
	if b.failCall > 0 && len(b.calls) == b.failCall {
		return nil, errors.New("vocab rejected")
	}
	units := make([]int, 0, len(text)+1)
	if addBoundary {
		units = append(units, testBOS)
	}
	for i := 0; i < len(text); i++ {
		units = append(units, int(text[i]))
	}
	return units, nil
}

func (b *byteTokenizer) UnitToText(unit int) string {
	if unit < 0 || unit > 255 {
		return ""
	}
	return string([]byte{byte(unit)})
}

func (b *byteTokenizer) IsEndOfSequence(unit int) bool { return unit == testEOS }

// lineFormatter renders "role: content\n" per message.
type lineFormatter struct {
	err error
	// prefix is written ahead of the transcript; changing it between turns
	// simulates a template that rewrites earlier output.
	prefix string
}

func (f *lineFormatter) Render(msgs []Message, addReplyMarker bool) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var b strings.Builder
	b.WriteString(f.prefix)
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	if addReplyMarker {
		b.WriteString("assistant: ")
	}
	return b.String(), nil
}

// recordingEvaluator checks positions are contiguous and keeps a copy of
// every batch it receives.
type recordingEvaluator struct {
	next    int
	batches []Batch
	clears  int
	// failCall makes the n-th Evaluate (1-based) fold failFolded units and
	// then fail.
	failCall   int
	failFolded int
	closeErr   error
	closed     int
}

func (e *recordingEvaluator) Evaluate(b *Batch) (int, error) {
	e.batches = append(e.batches, Batch{
		Units:  slices.Clone(b.Units),
		Pos:    slices.Clone(b.Pos),
		Output: slices.Clone(b.Output),
	})
	if e.failCall > 0 && len(e.batches) == e.failCall {
		e.next += e.failFolded
		return e.failFolded, errors.New("device out of memory")
	}
	for i, p := range b.Pos {
		if p != e.next {
			return i, errors.New("non-contiguous position")
		}
		e.next++
	}
	return b.Len(), nil
}

func (e *recordingEvaluator) Distribution() []float32 {
	if e.next == 0 {
		return nil
	}
	return []float32{1}
}

func (e *recordingEvaluator) ClearCache() error {
	e.clears++
	e.next = 0
	return nil
}

func (e *recordingEvaluator) Close() error {
	e.closed++
	return e.closeErr
}

func (e *recordingEvaluator) units() []int {
	var out []int
	for _, b := range e.batches {
		out = append(out, b.Units...)
	}
	return out
}

// scriptSampler replays units, then emits end-of-sequence.
type scriptSampler struct {
	script []int
	i      int
	resets int
}

func (s *scriptSampler) Reset() { s.resets++ }

func (s *scriptSampler) Sample([]float32) int {
	if s.i >= len(s.script) {
		return testEOS
	}
	u := s.script[s.i]
	s.i++
	return u
}

func textUnits(s string) []int {
	units := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		units[i] = int(s[i])
	}
	return units
}

// replies returns a sampler that answers each turn with the given texts.
func replies(texts ...string) *scriptSampler {
	var script []int
	for _, t := range texts {
		script = append(script, textUnits(t)...)
		script = append(script, testEOS)
	}
	return &scriptSampler{script: script}
}

type testMedia struct {
	path string
}

func (m testMedia) Fingerprint() string { return "fp:" + m.path }

// stubVision treats media as a fixed number of slots.
type stubVision struct {
	slots    int
	loadErr  error
	chunks   [][]Chunk
	evalErr  error
	tok      *byteTokenizer
	eval     *recordingEvaluator
	gotMedia []Media
}

func (v *stubVision) Marker() string { return "<m>" }

func (v *stubVision) LoadMedia(path string) (Media, error) {
	if v.loadErr != nil {
		return nil, v.loadErr
	}
	return testMedia{path: path}, nil
}

func (v *stubVision) TokenizeChunks(text string, addBoundary bool, media []Media) ([]Chunk, error) {
	v.gotMedia = append(v.gotMedia, media...)
	before, after, found := strings.Cut(text, v.Marker())
	var chunks []Chunk
	units, _ := v.tok.Tokenize(before, addBoundary, true)
	chunks = append(chunks, Chunk{Kind: ChunkText, Units: units})
	if found {
		chunks = append(chunks, Chunk{Kind: ChunkMedia, Slots: v.slots, Media: media[0]})
		units, _ = v.tok.Tokenize(after, false, true)
		chunks = append(chunks, Chunk{Kind: ChunkText, Units: units})
	}
	return chunks, nil
}

func (v *stubVision) EvalChunks(chunks []Chunk, pos, batchSize int) (int, error) {
	v.chunks = append(v.chunks, chunks)
	if v.evalErr != nil {
		return pos, v.evalErr
	}
	for ci, c := range chunks {
		var b Batch
		if c.Kind == ChunkMedia {
			for i := 0; i < c.Slots; i++ {
				b.Add(-1, pos+i, false)
			}
		} else {
			for i, u := range c.Units {
				b.Add(u, pos+i, ci == len(chunks)-1 && i == len(c.Units)-1)
			}
		}
		n, err := v.eval.Evaluate(&b)
		pos += n
		if err != nil {
			return pos, err
		}
	}
	return pos, nil
}

type fixture struct {
	tok  *byteTokenizer
	fmt  *lineFormatter
	eval *recordingEvaluator
	samp *scriptSampler
}

func newFixture(samp *scriptSampler) *fixture {
	return &fixture{
		tok:  &byteTokenizer{},
		fmt:  &lineFormatter{},
		eval: &recordingEvaluator{},
		samp: samp,
	}
}

func (f *fixture) caps() Capabilities {
	return Capabilities{Tokenizer: f.tok, Formatter: f.fmt, Evaluator: f.eval, Sampler: f.samp}
}
