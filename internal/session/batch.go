package session

// Batch is the submission buffer handed to Evaluator.Evaluate. A Session owns
// exactly one and refills it for every prefill chunk and decode step.
type Batch struct {
	Units  []int
	Pos    []int
	Output []bool
}

// Add appends a unit at pos. output requests the unit's distribution.
func (b *Batch) Add(unit, pos int, output bool) {
	b.Units = append(b.Units, unit)
	b.Pos = append(b.Pos, pos)
	b.Output = append(b.Output, output)
}

// Clear empties the batch and keeps its storage.
func (b *Batch) Clear() {
	b.Units = b.Units[:0]
	b.Pos = b.Pos[:0]
	b.Output = b.Output[:0]
}

func (b *Batch) Len() int { return len(b.Units) }

// Outputs counts units that requested a distribution.
func (b *Batch) Outputs() int {
	n := 0
	for _, o := range b.Output {
		if o {
			n++
		}
	}
	return n
}
