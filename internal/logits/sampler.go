// Package logits turns an output distribution into a single unit.
package logits

import (
	"math"
	"math/rand/v2"
	"slices"
)

// Config configures a Sampler. Zero fields take the defaults used by the
// chat front end.
type Config struct {
	Seed          uint64  `yaml:"seed"`
	Temperature   float32 `yaml:"temperature"`
	TopK          int     `yaml:"top_k"`
	TopP          float32 `yaml:"top_p"`
	MinP          float32 `yaml:"min_p"`
	RepeatPenalty float32 `yaml:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n"`
}

const (
	DefaultTemperature = 0.6
	DefaultTopK        = 20
	DefaultTopP        = 0.95
	DefaultRepeatLastN = 64
)

// DefaultConfig returns the chat defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:   DefaultTemperature,
		TopK:          DefaultTopK,
		TopP:          DefaultTopP,
		RepeatPenalty: 1,
		RepeatLastN:   DefaultRepeatLastN,
	}
}

// Greedy reports whether the config always picks the most likely unit.
func (c Config) Greedy() bool {
	return c.Temperature <= 0 || c.TopK == 1
}

type candidate struct {
	id int
	v  float64
}

// Sampler runs repeat penalty, min-p, temperature, top-k and top-p, then
// draws from what is left. Sampled units feed the penalty window.
type Sampler struct {
	cfg    Config
	rng    *rand.Rand
	recent []int
	cand   []candidate
	scaled []float32
}

// New returns a Sampler for cfg.
func New(cfg Config) *Sampler {
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.MinP < 0 {
		cfg.MinP = 0
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = DefaultRepeatLastN
	}
	return &Sampler{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Config returns the normalised configuration.
func (s *Sampler) Config() Config { return s.cfg }

// Reset forgets the penalty window.
func (s *Sampler) Reset() { s.recent = s.recent[:0] }

// Sample picks a unit from dist. dist is not modified.
func (s *Sampler) Sample(dist []float32) int {
	if len(dist) == 0 {
		return 0
	}
	s.scaled = append(s.scaled[:0], dist...)
	s.penalize(s.scaled)

	var id int
	if s.cfg.Greedy() {
		id = argmax(s.scaled)
	} else {
		id = s.draw(s.scaled)
	}
	s.accept(id)
	return id
}

func (s *Sampler) accept(id int) {
	s.recent = append(s.recent, id)
	if over := len(s.recent) - s.cfg.RepeatLastN; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
}

func (s *Sampler) penalize(x []float32) {
	if s.cfg.RepeatPenalty == 1 || len(s.recent) == 0 {
		return
	}
	seen := make(map[int]struct{}, len(s.recent))
	for _, id := range s.recent {
		if id < 0 || id >= len(x) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if x[id] > 0 {
			x[id] /= s.cfg.RepeatPenalty
		} else {
			x[id] *= s.cfg.RepeatPenalty
		}
	}
}

func (s *Sampler) draw(x []float32) int {
	// min-p works on the untempered logits: p_i >= minP*p_max is
	// l_i >= l_max + ln(minP).
	floor := math.Inf(-1)
	if s.cfg.MinP > 0 {
		floor = float64(x[argmax(x)]) + math.Log(float64(s.cfg.MinP))
	}

	inv := 1 / float64(s.cfg.Temperature)
	cand := s.cand[:0]
	for i, v := range x {
		l := float64(v)
		if math.IsNaN(l) || math.IsInf(l, -1) || l < floor {
			continue
		}
		cand = append(cand, candidate{id: i, v: l * inv})
	}
	if len(cand) == 0 {
		return argmax(x)
	}
	slices.SortStableFunc(cand, func(a, b candidate) int {
		switch {
		case a.v > b.v:
			return -1
		case a.v < b.v:
			return 1
		}
		return 0
	})
	if k := s.cfg.TopK; k > 0 && k < len(cand) {
		cand = cand[:k]
	}

	// softmax in place, cand[0] holds the maximum
	top := cand[0].v
	var sum float64
	for i := range cand {
		cand[i].v = math.Exp(cand[i].v - top)
		sum += cand[i].v
	}
	for i := range cand {
		cand[i].v /= sum
	}

	if s.cfg.TopP < 1 {
		var c float64
		for i := range cand {
			c += cand[i].v
			if c >= float64(s.cfg.TopP) {
				cand = cand[:i+1]
				break
			}
		}
	}
	s.cand = cand

	var total float64
	for _, c := range cand {
		total += c.v
	}
	r := s.rng.Float64() * total
	for _, c := range cand {
		r -= c.v
		if r <= 0 {
			return c.id
		}
	}
	return cand[len(cand)-1].id
}

func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
