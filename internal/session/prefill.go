package session

import "fmt"

// prefill submits units at consecutive positions from the current cache
// position, BatchSize at a time. Only the final unit requests a
// distribution. It returns the number of units folded.
func (s *Session) prefill(units []int) (int, error) {
	last := len(units) - 1
	for start := 0; start < len(units); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(units))
		base := s.ledger.CachePosition

		s.batch.Clear()
		for i := start; i < end; i++ {
			s.batch.Add(units[i], base+i-start, i == last)
		}
		folded, err := s.evaluate()
		s.ledger.advance(folded)
		if err != nil {
			s.stale = true
			return start + folded, &EvaluationError{Stage: "prefill", Position: s.ledger.CachePosition, Err: err}
		}
	}
	return len(units), nil
}

// evaluate submits the session batch and clamps the folded count the
// evaluator reports. A successful call folds the whole batch.
func (s *Session) evaluate() (folded int, err error) {
	defer func() {
		if r := recover(); r != nil {
			folded, err = 0, fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	folded, err = s.caps.Evaluator.Evaluate(&s.batch)
	if err == nil {
		return s.batch.Len(), nil
	}
	return min(max(folded, 0), s.batch.Len()), err
}

func (s *Session) tokenizeText(text string, addBoundary bool) (units []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, &TokenizeError{Err: fmt.Errorf("tokenizer panic: %v", r)}
		}
	}()
	units, err = s.caps.Tokenizer.Tokenize(text, addBoundary, true)
	if err != nil {
		return nil, &TokenizeError{Err: err}
	}
	return units, nil
}
