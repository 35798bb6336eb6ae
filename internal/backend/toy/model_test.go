package toy

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/samcharles93/chatcache/internal/session"
)

func batchOf(start int, units ...int) *session.Batch {
	var b session.Batch
	for i, u := range units {
		b.Add(u, start+i, i == len(units)-1)
	}
	return &b
}

func TestForwardMatchesNaive(t *testing.T) {
	t.Parallel()
	m := NewModel(6, 5)
	state := make([]float32, m.Hidden)
	copy(state, m.embedding(3))

	got := make([]float32, m.Vocab)
	m.Forward(state, got)

	for j := 0; j < m.Vocab; j++ {
		want := m.bias[j]
		for i := 0; i < m.Hidden; i++ {
			want += state[i] * m.out[i*m.Vocab+j]
		}
		if math.Abs(float64(got[j]-want)) > 1e-4 {
			t.Fatalf("logit %d = %f, want %f", j, got[j], want)
		}
	}
}

func TestModelIsDeterministic(t *testing.T) {
	t.Parallel()
	a := NewModel(16, 7).NewContext(64)
	b := NewModel(16, 7).NewContext(64)
	for _, c := range []*Context{a, b} {
		if _, err := c.Evaluate(batchOf(0, 'h', 'e', 'y')); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}
	if !slices.Equal(a.Distribution(), b.Distribution()) {
		t.Fatal("equal seeds produced different distributions")
	}
}

func TestEvaluateRejectsOutOfOrderPositions(t *testing.T) {
	t.Parallel()
	c := NewModel(8, 1).NewContext(64)
	if _, err := c.Evaluate(batchOf(0, 'a', 'b')); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	n, err := c.Evaluate(batchOf(5, 'c'))
	if err == nil || n != 0 {
		t.Fatalf("Evaluate(gap) = %d, %v; want 0 and an error", n, err)
	}
	if c.Position() != 2 {
		t.Fatalf("position = %d, want 2", c.Position())
	}
}

func TestEvaluateReportsFoldedCountAtCapacity(t *testing.T) {
	t.Parallel()
	c := NewModel(8, 1).NewContext(4)
	n, err := c.Evaluate(batchOf(0, 'a', 'b', 'c', 'd', 'e', 'f'))
	if !errors.Is(err, ErrContextFull) {
		t.Fatalf("error = %v, want ErrContextFull", err)
	}
	if n != 4 || c.Position() != 4 {
		t.Fatalf("folded %d, position %d; want 4 and 4", n, c.Position())
	}
}

func TestDistributionOnlyForOutputUnits(t *testing.T) {
	t.Parallel()
	c := NewModel(8, 1).NewContext(16)
	var b session.Batch
	b.Add('a', 0, false)
	b.Add('b', 1, false)
	if _, err := c.Evaluate(&b); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.Distribution() != nil {
		t.Fatal("distribution computed without an output request")
	}
	if _, err := c.Evaluate(batchOf(2, 'c')); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(c.Distribution()) != VocabSize {
		t.Fatalf("distribution size = %d, want %d", len(c.Distribution()), VocabSize)
	}
}

func TestClearCacheAndClose(t *testing.T) {
	t.Parallel()
	c := NewModel(8, 1).NewContext(16)
	if _, err := c.Evaluate(batchOf(0, 'a', 'b')); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := c.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if c.Position() != 0 || c.Distribution() != nil {
		t.Fatalf("cache not cleared: position %d", c.Position())
	}
	if _, err := c.Evaluate(batchOf(0, 'x')); err != nil {
		t.Fatalf("Evaluate after clear: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Evaluate(batchOf(1, 'y')); !errors.Is(err, ErrClosed) {
		t.Fatalf("Evaluate after close = %v, want ErrClosed", err)
	}
}

func TestEndOfSequenceBecomesLikelier(t *testing.T) {
	t.Parallel()
	m := NewModel(16, 3)
	short := m.NewContext(256)
	long := m.NewContext(256)
	if _, err := short.Evaluate(batchOf(0, 'a')); err != nil {
		t.Fatal(err)
	}
	units := make([]int, 60)
	for i := range units {
		units[i] = 'a'
	}
	if _, err := long.Evaluate(batchOf(0, units...)); err != nil {
		t.Fatal(err)
	}
	gap := func(d []float32) float32 { return d[UnitEOS] - d['a'] }
	if gap(long.Distribution())-gap(short.Distribution()) < 10 {
		t.Fatalf("end-of-sequence did not gain weight: short %f long %f", gap(short.Distribution()), gap(long.Distribution()))
	}
}
