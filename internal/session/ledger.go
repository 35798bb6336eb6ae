package session

// Ledger tracks how much of the conversation the evaluator already holds.
type Ledger struct {
	// CachePosition counts units folded into the evaluator cache.
	CachePosition int `json:"cache_position" cbor:"1,keyasint"`
	// RenderOffset counts bytes of the rendered transcript already submitted.
	RenderOffset int `json:"render_offset" cbor:"2,keyasint"`
}

func (l *Ledger) advance(n int) {
	if n > 0 {
		l.CachePosition += n
	}
}

func (l *Ledger) reset() {
	*l = Ledger{}
}

// Guard checks projected cache usage against a fixed capacity.
type Guard struct {
	Capacity int
}

// Required is the cache length needed to submit newUnits and then generate
// up to budget more, given the units already cached.
func (g Guard) Required(l Ledger, newUnits, budget int) int {
	return newUnits + budget + l.CachePosition
}

// Overflows reports whether the submission would exceed capacity.
func (g Guard) Overflows(l Ledger, newUnits, budget int) bool {
	return g.Required(l, newUnits, budget) > g.Capacity
}

// Remaining is the number of units that can still be generated after
// newUnits are folded on top of the cached ones.
func (g Guard) Remaining(l Ledger, newUnits int) int {
	return max(g.Capacity-l.CachePosition-newUnits, 0)
}
