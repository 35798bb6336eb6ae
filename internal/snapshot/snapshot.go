// Package snapshot persists a conversation so a session can be rebuilt
// later. Only the history travels; evaluator state is always recomputed.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/samcharles93/chatcache/internal/session"
)

// ContentType is the media type used when snapshots travel over HTTP.
const ContentType = "application/vnd.chatcache.snapshot"

// Version is the current payload version.
const Version = 1

// maxPayload bounds the decompressed payload.
const maxPayload = 64 << 20

var magic = [6]byte{'C', 'C', 'S', 'N', 'A', 'P'}

var (
	ErrBadMagic           = errors.New("snapshot: not a chatcache snapshot")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Version   int               `cbor:"1,keyasint"`
	CreatedAt time.Time         `cbor:"2,keyasint"`
	Options   session.Options   `cbor:"3,keyasint"`
	History   []session.Message `cbor:"4,keyasint"`
	// Ledger is informational; a restored session starts from an empty
	// cache.
	Ledger session.Ledger `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 20}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}

	zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zdec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayload))
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Capture records the current state of s.
func Capture(s *session.Session) Snapshot {
	return Snapshot{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Options:   s.Options(),
		History:   s.History(),
		Ledger:    s.Ledger(),
	}
}

// Apply replaces the history of s with the snapshot's. The next turn
// re-submits the whole transcript.
func Apply(s *session.Session, snap Snapshot) error {
	return s.Restore(snap.History)
}

// Encode writes snap as header, then a zstd frame holding deterministic CBOR.
//
//	magic[6] | version u8 | payload length u32 (big endian) | zstd(cbor)
func Encode(w io.Writer, snap Snapshot) error {
	if snap.Version == 0 {
		snap.Version = Version
	}
	payload, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	var hdr [len(magic) + 1 + 4]byte
	copy(hdr[:], magic[:])
	hdr[len(magic)] = byte(snap.Version)
	binary.BigEndian.PutUint32(hdr[len(magic)+1:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(zenc.EncodeAll(payload, nil))
	return err
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (Snapshot, error) {
	var hdr [len(magic) + 1 + 4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Snapshot{}, ErrBadMagic
		}
		return Snapshot{}, err
	}
	if !bytes.Equal(hdr[:len(magic)], magic[:]) {
		return Snapshot{}, ErrBadMagic
	}
	if v := int(hdr[len(magic)]); v != Version {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	size := binary.BigEndian.Uint32(hdr[len(magic)+1:])
	if size > maxPayload {
		return Snapshot{}, fmt.Errorf("snapshot: payload of %d bytes exceeds limit", size)
	}

	compressed, err := io.ReadAll(io.LimitReader(r, maxPayload))
	if err != nil {
		return Snapshot{}, err
	}
	payload, err := zdec.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: zstd decompress: %w", err)
	}
	if len(payload) != int(size) {
		return Snapshot{}, fmt.Errorf("snapshot: got %d bytes, expected %d", len(payload), size)
	}

	var snap Snapshot
	if err := decMode.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return snap, nil
}

// WriteFile encodes snap to path, replacing it atomically.
func WriteFile(path string, snap Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, snap); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile decodes the snapshot stored at path.
func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	return Decode(f)
}
