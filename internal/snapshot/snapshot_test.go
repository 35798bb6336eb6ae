package snapshot

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/session"
)

func sample() Snapshot {
	return Snapshot{
		Version:   Version,
		CreatedAt: time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
		Options:   session.Options{ContextSize: 256, MaxReplyUnits: 32, BatchSize: 16, SystemPrompt: "terse"},
		History: []session.Message{
			{Role: session.RoleUser, Content: "hello 🙂"},
			{Role: session.RoleAssistant, Content: "hi"},
		},
		Ledger: session.Ledger{CachePosition: 40, RenderOffset: 52},
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	t.Parallel()

	want := sample()
	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	if err := Encode(&a, sample()); err != nil {
		t.Fatalf("first Encode: %v", err)
	}
	if err := Encode(&b, sample()); err != nil {
		t.Fatalf("second Encode: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	t.Parallel()

	var good bytes.Buffer
	if err := Encode(&good, sample()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wrongVersion := bytes.Clone(good.Bytes())
	wrongVersion[len(magic)] = 9
	corrupt := bytes.Clone(good.Bytes())
	corrupt = corrupt[:len(corrupt)-4]

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: ErrBadMagic},
		{name: "foreign", data: []byte("PK\x03\x04 not a snapshot"), want: ErrBadMagic},
		{name: "version", data: wrongVersion, want: ErrUnsupportedVersion},
		{name: "truncated frame", data: corrupt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(bytes.NewReader(tc.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFileRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chat.snap")
	if err := WriteFile(path, sample()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if diff := cmp.Diff(sample().History, got.History); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestCaptureAndApply(t *testing.T) {
	t.Parallel()

	cfg := inference.Config{ContextSize: 512, MaxReplyUnits: 8, Sampler: logits.Config{Temperature: 0}}
	src, err := inference.Load(cfg, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer src.Close()
	if _, err := src.Session.SendTurn(context.Background(), "remember me", ""); err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	snap := Capture(src.Session)
	if len(snap.History) != 2 || snap.Ledger.CachePosition == 0 {
		t.Fatalf("unexpected capture %+v", snap)
	}

	dst, err := inference.Load(cfg, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer dst.Close()
	if err := Apply(dst.Session, snap); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff(src.Session.History(), dst.Session.History()); diff != "" {
		t.Fatalf("history mismatch (-src +dst):\n%s", diff)
	}

	reply, err := dst.Session.Stream(context.Background(), "still there?", "", nil)
	if err != nil {
		t.Fatalf("Stream after restore: %v", err)
	}
	if !strings.Contains(reply.Delta, "remember me") {
		t.Fatalf("first turn after restore should resubmit the transcript, delta %q", reply.Delta)
	}
}
