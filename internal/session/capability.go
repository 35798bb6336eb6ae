package session

// Tokenizer converts between text and model units.
type Tokenizer interface {
	// Tokenize encodes text. addBoundary prepends the start-of-sequence unit;
	// parseSpecial lets control sequences in text map to their special units.
	Tokenize(text string, addBoundary, parseSpecial bool) ([]int, error)
	// UnitToText decodes a single unit. The result may be an incomplete
	// UTF-8 sequence.
	UnitToText(unit int) string
	IsEndOfSequence(unit int) bool
}

// Formatter renders a message list into the model's prompt text.
type Formatter interface {
	Render(msgs []Message, addReplyMarker bool) (string, error)
}

// Evaluator folds units into the model cache.
type Evaluator interface {
	// Evaluate submits every unit in b. It returns the number of units that
	// were folded into the cache, which on error may be fewer than b.Len().
	Evaluate(b *Batch) (int, error)
	// Distribution returns the output of the most recent unit that requested
	// one. The slice is only valid until the next Evaluate.
	Distribution() []float32
	ClearCache() error
}

// Sampler picks the next unit from a distribution.
type Sampler interface {
	Sample(dist []float32) int
}

// resetter is implemented by samplers that keep per-conversation state,
// such as a repetition window. It is called whenever the cache is cleared.
type resetter interface {
	Reset()
}

// Media is an opaque, decoded media item produced by Vision.LoadMedia.
type Media any

// fingerprinter is implemented by media that can name their content. The
// fingerprint is reported in Reply.MediaFingerprint.
type fingerprinter interface {
	Fingerprint() string
}

// Vision is the optional multimodal capability.
type Vision interface {
	// Marker is the placeholder that splits text around media spans.
	Marker() string
	LoadMedia(path string) (Media, error)
	// TokenizeChunks splits text at each marker, pairing markers with media
	// in order.
	TokenizeChunks(text string, addBoundary bool, media []Media) ([]Chunk, error)
	// EvalChunks evaluates chunks starting at pos and returns the new
	// absolute cache position. On error the returned position is the last
	// one known to be folded.
	EvalChunks(chunks []Chunk, pos, batchSize int) (int, error)
}

// ChunkKind distinguishes chunk payloads.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkMedia
)

// Chunk is one span of a multimodal submission.
type Chunk struct {
	Kind  ChunkKind
	Units []int
	// Slots is the number of cache positions a media chunk occupies.
	Slots int
	Media Media
}

// Size is the number of cache positions the chunk consumes.
func (c Chunk) Size() int {
	if c.Kind == ChunkMedia {
		return c.Slots
	}
	return len(c.Units)
}

// Capabilities bundles the collaborators a Session drives. Vision is nil when
// the backend has no multimodal support.
type Capabilities struct {
	Tokenizer Tokenizer
	Formatter Formatter
	Evaluator Evaluator
	Sampler   Sampler
	Vision    Vision
}
