package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logger"
	"github.com/samcharles93/chatcache/internal/session"
)

const benchFiller = "The quick brown fox jumps over the lazy dog. "

func benchCmd() *cli.Command {
	var (
		settings   modelSettings
		warmupRuns int64
		reps       int64
		promptLen  int64
		replyLen   int64
	)

	flags := settings.flags()
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "reps",
			Aliases:     []string{"r"},
			Usage:       "number of measured runs",
			Value:       3,
			Destination: &reps,
		},
		&cli.Int64Flag{
			Name:        "pp",
			Usage:       "prompt length in units",
			Value:       512,
			Destination: &promptLen,
		},
		&cli.Int64Flag{
			Name:        "tg",
			Usage:       "reply length in units",
			Value:       128,
			Destination: &replyLen,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure prefill and decode throughput",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if promptLen <= 0 || replyLen <= 0 || reps <= 0 {
				return cli.Exit("error: --pp, --tg and --reps must be positive", 1)
			}

			cfg, err := settings.resolve(cmd, fileConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			cfg.SystemPrompt = ""
			cfg.ResetPolicy = session.ResetClearHistory
			cfg.MaxReplyUnits = int(replyLen)
			cfg.ContextSize = max(cfg.ContextSize, int(promptLen+replyLen)+64)

			loadStart := time.Now()
			res, err := inference.Load(cfg, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}
			defer func() { _ = res.Close() }()

			b := bencher{
				sess:   res.Session,
				prompt: benchPrompt(int(promptLen)),
				log:    log,
			}
			out := cmd.Root().Writer
			if out == nil {
				out = os.Stdout
			}

			_, _ = fmt.Fprintln(out, "=== chatcache bench ===")
			_, _ = fmt.Fprintf(out, "Style:      %s (%s)\n", res.Config.Style, res.StyleSource)
			_, _ = fmt.Fprintf(out, "Context:    %d units, batch %d\n", res.Config.ContextSize, res.Config.BatchSize)
			_, _ = fmt.Fprintf(out, "CPU:        %s\n", cpuSummary())
			_, _ = fmt.Fprintf(out, "CPUs:       %d\n", runtime.NumCPU())
			_, _ = fmt.Fprintf(out, "GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			_, _ = fmt.Fprintf(out, "Load:       %s\n", time.Since(loadStart).Round(time.Millisecond))
			_, _ = fmt.Fprintln(out)

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := b.run(ctx); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			results := make([]session.Stats, 0, reps)
			for i := range int(reps) {
				log.Info("benchmark run", "run", i+1)
				st, err := b.run(ctx)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				results = append(results, st)
			}

			printBenchResults(out, results)
			return nil
		},
	}
}

type bencher struct {
	sess   *session.Session
	prompt string
	log    logger.Logger
}

// run measures one cold turn. The session is reset first so every run
// prefills the whole prompt.
func (b *bencher) run(ctx context.Context) (session.Stats, error) {
	if err := b.sess.Reset(); err != nil {
		return session.Stats{}, err
	}
	reply, err := b.sess.Stream(ctx, b.prompt, "", nil)
	if err != nil {
		return session.Stats{}, err
	}
	return reply.Stats, nil
}

// benchPrompt returns n bytes of filler text.
func benchPrompt(n int) string {
	s := strings.Repeat(benchFiller, n/len(benchFiller)+1)
	return strings.TrimSpace(s[:n])
}

func printBenchResults(w io.Writer, results []session.Stats) {
	_, _ = fmt.Fprintln(w, "=== Results ===")
	_, _ = fmt.Fprintf(w, "%-6s %8s %10s %8s %10s\n", "Run", "pp", "pp t/s", "tg", "tg t/s")

	pp := make([]float64, len(results))
	tg := make([]float64, len(results))
	for i, r := range results {
		pp[i], tg[i] = r.PromptTPS(), r.ReplyTPS()
		_, _ = fmt.Fprintf(w, "%-6d %8d %10.2f %8d %10.2f\n", i+1, r.PromptUnits, pp[i], r.ReplyUnits, tg[i])
	}

	ppMean, ppDev := meanStddev(pp)
	tgMean, tgDev := meanStddev(tg)
	_, _ = fmt.Fprintf(w, "\nprefill %.2f ± %.2f t/s, decode %.2f ± %.2f t/s\n", ppMean, ppDev, tgMean, tgDev)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	_, _ = fmt.Fprintf(w, "Memory: %.1f MB alloc, %.1f MB sys\n",
		float64(mem.Alloc)/(1024*1024),
		float64(mem.Sys)/(1024*1024))
}

// cpuSummary names the processor and the vector extensions it reports.
func cpuSummary() string {
	c := cpuid.CPU
	name := strings.TrimSpace(c.BrandName)
	if name == "" {
		name = "unknown"
	}
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "SSE4.1"},
		{cpuid.AVX, "AVX"},
		{cpuid.AVX2, "AVX2"},
		{cpuid.FMA3, "FMA"},
		{cpuid.AVX512F, "AVX512F"},
		{cpuid.ASIMD, "NEON"},
	} {
		if c.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	if len(feats) == 0 {
		return fmt.Sprintf("%s (%d cores)", name, c.PhysicalCores)
	}
	return fmt.Sprintf("%s (%d cores, %s)", name, c.PhysicalCores, strings.Join(feats, " "))
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}
