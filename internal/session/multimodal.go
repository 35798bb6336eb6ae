package session

// input is a tokenized delta ready for submission. chunks is set on the
// multimodal path, units otherwise.
type input struct {
	units  []int
	chunks []Chunk
	size   int
}

// tokenize encodes a submission. addBoundary is set when the submission
// starts at an empty cache.
func (s *Session) tokenize(text string, media []Media, addBoundary bool) (input, error) {
	if len(media) == 0 {
		units, err := s.tokenizeText(text, addBoundary)
		if err != nil {
			return input{}, err
		}
		return input{units: units, size: len(units)}, nil
	}

	chunks, err := s.caps.Vision.TokenizeChunks(text, addBoundary, media)
	if err != nil {
		return input{}, &TokenizeError{Err: err}
	}
	in := input{chunks: chunks}
	if in.chunks == nil {
		in.chunks = []Chunk{}
	}
	for _, c := range chunks {
		in.size += c.Size()
	}
	return in, nil
}

// loadMedia returns the decoded media for path, or nil when the session has
// no vision capability or the file cannot be loaded.
func (s *Session) loadMedia(path string) []Media {
	if s.caps.Vision == nil {
		s.log.Debug("ignoring media without vision support", "path", path)
		return nil
	}
	m, err := s.caps.Vision.LoadMedia(path)
	if err != nil {
		s.log.Debug("media load failed, continuing with text only", "path", path, "error", err)
		return nil
	}
	return []Media{m}
}

// evalChunks hands a multimodal submission to the vision capability and
// adopts the cache position it reports. Media spans occupy a number of
// positions only the capability knows.
func (s *Session) evalChunks(chunks []Chunk) (int, error) {
	before := s.ledger.CachePosition
	pos, err := s.caps.Vision.EvalChunks(chunks, before, s.opts.BatchSize)
	if pos > before {
		s.ledger.CachePosition = pos
	}
	if err != nil {
		s.stale = true
		return s.ledger.CachePosition - before, &EvaluationError{Stage: "media", Position: s.ledger.CachePosition, Err: err}
	}
	return s.ledger.CachePosition - before, nil
}
