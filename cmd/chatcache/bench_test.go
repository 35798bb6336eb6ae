package main

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/session"
)

func TestBenchPrompt(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 45, 46, 512} {
		got := benchPrompt(n)
		if len(got) > n || len(got) < n-1 {
			t.Fatalf("benchPrompt(%d) has %d bytes", n, len(got))
		}
	}
}

func TestMeanStddev(t *testing.T) {
	t.Parallel()

	mean, dev := meanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 {
		t.Fatalf("mean = %v", mean)
	}
	if math.Abs(dev-2.138) > 1e-3 {
		t.Fatalf("stddev = %v", dev)
	}
	if m, d := meanStddev([]float64{3}); m != 3 || d != 0 {
		t.Fatalf("single = %v %v", m, d)
	}
	if m, d := meanStddev(nil); m != 0 || d != 0 {
		t.Fatalf("empty = %v %v", m, d)
	}
}

func TestBencherRunsCold(t *testing.T) {
	t.Parallel()

	res, err := inference.Load(inference.Config{
		MaxReplyUnits: 8,
		Sampler:       logits.Config{Temperature: 0},
	}, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })

	b := bencher{sess: res.Session, prompt: benchPrompt(64)}
	var results []session.Stats
	for range 2 {
		st, err := b.run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		results = append(results, st)
	}
	if results[0].PromptUnits != results[1].PromptUnits {
		t.Fatalf("runs prefilled %d and %d units", results[0].PromptUnits, results[1].PromptUnits)
	}
	if results[0].PromptUnits < 64 {
		t.Fatalf("prompt units = %d", results[0].PromptUnits)
	}

	var buf bytes.Buffer
	printBenchResults(&buf, results)
	if !strings.Contains(buf.String(), "prefill") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestCPUSummary(t *testing.T) {
	t.Parallel()

	if got := cpuSummary(); !strings.Contains(got, "cores") {
		t.Fatalf("cpuSummary = %q", got)
	}
}
