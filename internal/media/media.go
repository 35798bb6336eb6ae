// Package media decodes images handed to a session's vision capability.
package media

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/zeebo/blake3"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxSide bounds the longer edge of a loaded bitmap.
const DefaultMaxSide = 448

// MaxFileBytes caps how much of a media file Load reads.
const MaxFileBytes = 32 << 20

var (
	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("media: image has no pixels")
	// ErrNotRegular is returned for paths naming a directory, device, pipe
	// or socket.
	ErrNotRegular = errors.New("media: not a regular file")
	// ErrTooLarge is returned for files over MaxFileBytes.
	ErrTooLarge = errors.New("media: file too large")
)

// fingerprintKey separates media fingerprints from any other blake3 use.
var fingerprintKey = [32]byte{
	'c', 'h', 'a', 't', 'c', 'a', 'c', 'h', 'e', '.', 'm', 'e', 'd', 'i', 'a', '.',
	'b', 'i', 't', 'm', 'a', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Bitmap is a decoded, size-normalised RGBA image.
type Bitmap struct {
	Image  *image.RGBA
	Format string
	digest string
}

// Fingerprint is the keyed blake3 digest of the normalised pixels, hex
// encoded. Equal images scaled to the same size share a fingerprint.
func (b *Bitmap) Fingerprint() string { return b.digest }

func (b *Bitmap) Width() int  { return b.Image.Bounds().Dx() }
func (b *Bitmap) Height() int { return b.Image.Bounds().Dy() }

// Load reads and decodes the image at path. Images larger than maxSide on
// either edge are scaled down keeping their aspect ratio; maxSide <= 0 uses
// DefaultMaxSide.
func Load(path string, maxSide int) (*Bitmap, error) {
	data, err := readRegular(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, maxSide)
}

// readRegular reads at most MaxFileBytes from a regular file. The mode is
// checked before opening, since opening a FIFO blocks until a writer
// appears, and again on the open handle.
func readRegular(path string) ([]byte, error) {
	if err := checkRegular(os.Stat(path)); err != nil {
		return nil, fmt.Errorf("media: %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", path, err)
	}
	defer f.Close()
	if err := checkRegular(f.Stat()); err != nil {
		return nil, fmt.Errorf("media: %s: %w", path, err)
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media: read %s: %w", path, err)
	}
	if len(data) > MaxFileBytes {
		return nil, fmt.Errorf("media: %s: %w", path, ErrTooLarge)
	}
	return data, nil
}

func checkRegular(fi os.FileInfo, err error) error {
	switch {
	case err != nil:
		return err
	case !fi.Mode().IsRegular():
		return ErrNotRegular
	case fi.Size() > MaxFileBytes:
		return ErrTooLarge
	}
	return nil
}

// Decode is Load for in-memory data.
func Decode(data []byte, maxSide int) (*Bitmap, error) {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	w, h := fit(b.Dx(), b.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// Transparent regions are composited onto white.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}

	return &Bitmap{
		Image:  dst,
		Format: format,
		digest: fingerprint(dst),
	}, nil
}

func fit(w, h, maxSide int) (int, int) {
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w)
	}
	return max(1, w*maxSide/h), maxSide
}

func fingerprint(img *image.RGBA) string {
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("media: blake3 keyed init: " + err.Error())
	}
	var dims [8]byte
	b := img.Bounds()
	binary.BigEndian.PutUint32(dims[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(b.Dy()))
	h.Write(dims[:])
	h.Write(img.Pix)
	return hex.EncodeToString(h.Sum(nil))
}
