package toy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/chatcache/internal/media"
	"github.com/samcharles93/chatcache/internal/session"
)

// Marker is the placeholder the vision path splits on.
const Marker = "<__media__>"

// DefaultPatchSize is the edge, in pixels, of one image patch. Each patch
// occupies one cache position.
const DefaultPatchSize = 32

// Vision projects images into the cache of a Context.
type Vision struct {
	ctx       *Context
	tok       *Tokenizer
	patchSize int
	maxSide   int
}

// NewVision returns the vision capability for ctx. Zero sizes use the
// defaults.
func NewVision(ctx *Context, tok *Tokenizer, patchSize, maxSide int) *Vision {
	if patchSize <= 0 {
		patchSize = DefaultPatchSize
	}
	if maxSide <= 0 {
		maxSide = media.DefaultMaxSide
	}
	return &Vision{ctx: ctx, tok: tok, patchSize: patchSize, maxSide: maxSide}
}

func (v *Vision) Marker() string { return Marker }

func (v *Vision) LoadMedia(path string) (session.Media, error) {
	return media.Load(path, v.maxSide)
}

// Slots is the number of cache positions bm occupies.
func (v *Vision) Slots(bm *media.Bitmap) int {
	cols := (bm.Width() + v.patchSize - 1) / v.patchSize
	rows := (bm.Height() + v.patchSize - 1) / v.patchSize
	return cols * rows
}

// TokenizeChunks splits text at markers. When text holds more markers than
// items, as when an earlier turn with an image is re-submitted, the leading
// markers stay literal text and the trailing ones take the items.
func (v *Vision) TokenizeChunks(text string, addBoundary bool, items []session.Media) ([]session.Chunk, error) {
	parts := strings.Split(text, Marker)
	literal := len(parts) - 1 - len(items)
	if literal < 0 {
		return nil, fmt.Errorf("toy: %d media items for %d markers", len(items), len(parts)-1)
	}

	var (
		chunks  []session.Chunk
		pending strings.Builder
		next    int
	)
	flush := func() error {
		if pending.Len() == 0 && !(addBoundary && len(chunks) == 0) {
			return nil
		}
		units, err := v.tok.Tokenize(pending.String(), addBoundary && len(chunks) == 0, true)
		if err != nil {
			return err
		}
		chunks = append(chunks, session.Chunk{Kind: session.ChunkText, Units: units})
		pending.Reset()
		return nil
	}

	for i, part := range parts {
		pending.WriteString(part)
		if i == len(parts)-1 {
			break
		}
		if i < literal {
			pending.WriteString(Marker)
			continue
		}
		bm, ok := items[next].(*media.Bitmap)
		if !ok {
			return nil, fmt.Errorf("toy: unsupported media type %T", items[next])
		}
		next++
		if err := flush(); err != nil {
			return nil, err
		}
		chunks = append(chunks, session.Chunk{Kind: session.ChunkMedia, Slots: v.Slots(bm), Media: bm})
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// EvalChunks folds chunks into the context from pos and returns the new
// position. The last position of the final chunk produces a distribution.
func (v *Vision) EvalChunks(chunks []session.Chunk, pos, batchSize int) (int, error) {
	if pos != v.ctx.Position() {
		return v.ctx.Position(), fmt.Errorf("toy: chunks start at %d, cache is at %d", pos, v.ctx.Position())
	}
	if batchSize <= 0 {
		batchSize = session.DefaultBatchSize
	}

	var batch session.Batch
	for ci, c := range chunks {
		last := ci == len(chunks)-1
		switch c.Kind {
		case session.ChunkText:
			for start := 0; start < len(c.Units); start += batchSize {
				end := min(start+batchSize, len(c.Units))
				batch.Clear()
				for i := start; i < end; i++ {
					batch.Add(c.Units[i], v.ctx.Position()+i-start, last && i == len(c.Units)-1)
				}
				if _, err := v.ctx.Evaluate(&batch); err != nil {
					return v.ctx.Position(), err
				}
			}
		case session.ChunkMedia:
			bm, ok := c.Media.(*media.Bitmap)
			if !ok {
				return v.ctx.Position(), errors.New("toy: media chunk without bitmap")
			}
			if err := v.foldImage(bm, c.Slots, last); err != nil {
				return v.ctx.Position(), err
			}
		}
	}
	return v.ctx.Position(), nil
}

// foldImage folds one position per patch, each embedded from the patch's
// mean colour.
func (v *Vision) foldImage(bm *media.Bitmap, slots int, output bool) error {
	m := v.ctx.m
	vec := make([]float32, m.Hidden)
	cols := (bm.Width() + v.patchSize - 1) / v.patchSize
	for s := 0; s < slots; s++ {
		if err := v.ctx.checkNext(v.ctx.Position()); err != nil {
			return err
		}
		x0, y0 := (s%cols)*v.patchSize, (s/cols)*v.patchSize
		r, g, b := meanColour(bm, x0, y0, v.patchSize)
		for i := range vec {
			vec[i] = r*m.patch[i] + g*m.patch[m.Hidden+i] + b*m.patch[2*m.Hidden+i]
		}
		v.ctx.fold(vec)
	}
	v.ctx.sinceControl = 0
	if output && slots > 0 {
		v.ctx.forward()
	}
	return nil
}

func meanColour(bm *media.Bitmap, x0, y0, size int) (float32, float32, float32) {
	bounds := bm.Image.Bounds()
	var r, g, b, n float32
	for y := y0; y < min(y0+size, bounds.Dy()); y++ {
		for x := x0; x < min(x0+size, bounds.Dx()); x++ {
			px := bm.Image.RGBAAt(x, y)
			r += float32(px.R)
			g += float32(px.G)
			b += float32(px.B)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	scale := 1 / (255 * n)
	return r * scale, g * scale, b * scale
}
