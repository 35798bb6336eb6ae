// Package toy is a small deterministic model backend. It implements every
// session capability in process so the session engine can be exercised end
// to end without a native runtime.
package toy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/chatcache/internal/session"
)

var (
	ErrContextFull = errors.New("toy: context is full")
	ErrClosed      = errors.New("toy: context closed")
)

// decay is how much of the running state survives each folded unit.
const decay = 0.82

// Model holds read-only weights shared by every Context created from it.
type Model struct {
	Vocab  int
	Hidden int

	emb  []float32 // [Vocab x Hidden]
	out  []float32 // [Hidden x Vocab]
	bias []float32 // [Vocab]
	// patch projects a mean RGB patch colour into the hidden space.
	patch []float32 // [3 x Hidden]
}

// NewModel builds weights from seed. Equal seeds give equal models.
func NewModel(hidden int, seed int64) *Model {
	if hidden <= 0 {
		hidden = 32
	}
	rng := rand.New(rand.NewSource(seed))
	m := &Model{
		Vocab:  VocabSize,
		Hidden: hidden,
		emb:    randMat(rng, VocabSize*hidden, 1),
		out:    randMat(rng, hidden*VocabSize, 1/math.Sqrt(float64(hidden))),
		bias:   make([]float32, VocabSize),
		patch:  randMat(rng, 3*hidden, 1),
	}
	for u := range m.bias {
		m.bias[u] = unitBias(u)
	}
	return m
}

func randMat(rng *rand.Rand, n int, scale float64) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rng.NormFloat64() * scale)
	}
	return w
}

// unitBias steers sampling towards readable ASCII.
func unitBias(u int) float32 {
	switch {
	case u >= 'a' && u <= 'z':
		return 3
	case u == ' ':
		return 3.5
	case u >= 'A' && u <= 'Z', u == '.', u == ',':
		return 1
	case u >= '0' && u <= '9':
		return 0
	case u == '\n':
		return -2
	default:
		return -12
	}
}

// Forward computes logits for a hidden state into dst.
func (m *Model) Forward(state, dst []float32) {
	for j := 0; j < m.Vocab; j++ {
		dst[j] = m.bias[j]
	}
	for i, h := range state {
		if h == 0 {
			continue
		}
		row := m.out[i*m.Vocab : (i+1)*m.Vocab]
		for j, w := range row {
			dst[j] += h * w
		}
	}
}

func (m *Model) embedding(unit int) []float32 {
	if unit < 0 || unit >= m.Vocab {
		unit = ((unit % m.Vocab) + m.Vocab) % m.Vocab
	}
	return m.emb[unit*m.Hidden : (unit+1)*m.Hidden]
}

// Context is the per-session cache: a running state folded one position
// at a time up to a fixed capacity. It implements session.Evaluator.
type Context struct {
	m        *Model
	capacity int
	state    []float32
	n        int
	// sinceControl counts byte units since the last special unit; longer
	// runs make end-of-sequence more likely.
	sinceControl int
	dist         []float32
	closed       bool
}

func (m *Model) NewContext(capacity int) *Context {
	if capacity <= 0 {
		capacity = session.DefaultContextSize
	}
	return &Context{
		m:        m,
		capacity: capacity,
		state:    make([]float32, m.Hidden),
	}
}

// Position is the number of positions folded so far.
func (c *Context) Position() int { return c.n }

func (c *Context) Capacity() int { return c.capacity }

// Evaluate folds the batch in order. Positions must continue the cache.
func (c *Context) Evaluate(b *session.Batch) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	for i, unit := range b.Units {
		if err := c.checkNext(b.Pos[i]); err != nil {
			return i, err
		}
		c.fold(c.m.embedding(unit))
		if unit >= 256 {
			c.sinceControl = 0
		} else {
			c.sinceControl++
		}
		if b.Output[i] {
			c.forward()
		}
	}
	return b.Len(), nil
}

func (c *Context) checkNext(pos int) error {
	if pos != c.n {
		return fmt.Errorf("toy: position %d submitted, cache is at %d", pos, c.n)
	}
	if c.n >= c.capacity {
		return ErrContextFull
	}
	return nil
}

func (c *Context) fold(vec []float32) {
	for i := range c.state {
		c.state[i] = float32(math.Tanh(float64(decay*c.state[i] + (1-decay)*vec[i]*4)))
	}
	c.n++
}

func (c *Context) forward() {
	if c.dist == nil {
		c.dist = make([]float32, c.m.Vocab)
	}
	c.m.Forward(c.state, c.dist)
	// End-of-sequence grows likelier the longer the current run of text.
	eos := 6 + float32(c.sinceControl)*0.35
	c.dist[UnitEOS] += eos
	c.dist[UnitIMEnd] += eos
	c.dist[UnitTurnEnd] += eos
}

func (c *Context) Distribution() []float32 { return c.dist }

func (c *Context) ClearCache() error {
	if c.closed {
		return ErrClosed
	}
	clear(c.state)
	c.n = 0
	c.sinceControl = 0
	c.dist = nil
	return nil
}

// Close releases the cache. Further calls fail with ErrClosed.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = nil
	c.dist = nil
	return nil
}
