package api

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logits"
	"github.com/samcharles93/chatcache/internal/session"
)

func visionOpener(opts SessionOptions) (*session.Session, error) {
	res, err := inference.Load(inference.Config{
		ContextSize:   opts.ContextSize,
		MaxReplyUnits: opts.MaxReplyUnits,
		Vision:        true,
		Sampler:       logits.Config{Temperature: 0},
	}, nil)
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

func newMediaEcho(t *testing.T, opts ...ServerOption) *echo.Echo {
	t.Helper()
	store := NewSessionStore(visionOpener)
	t.Cleanup(func() { _ = store.Close() })
	e := echo.New()
	NewServer(store, nil, opts...).Register(e)
	return e
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMediaPathRequiresRoot(t *testing.T) {
	t.Parallel()

	e := newMediaEcho(t)
	created := createSession(t, e, `{"max_reply_units":4}`)
	path := filepath.Join(t.TempDir(), "cat.png")
	writePNG(t, path)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+created.ID+"/turns",
		`{"text":"what is it","media_path":"`+path+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a media root, got %d", rec.Code)
	}
}

func TestMediaPathConfinedToRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := t.TempDir()
	writePNG(t, filepath.Join(root, "cat.png"))
	writePNG(t, filepath.Join(outside, "secret.png"))
	if err := os.Symlink(filepath.Join(outside, "secret.png"), filepath.Join(root, "link.png")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	e := newMediaEcho(t, WithMediaRoot(root))
	created := createSession(t, e, `{"context_size":512,"max_reply_units":4}`)
	turns := "/v1/sessions/" + created.ID + "/turns"

	tests := []struct {
		name string
		path string
	}{
		{"parent escape", "../" + filepath.Base(outside) + "/secret.png"},
		{"absolute outside", filepath.Join(outside, "secret.png")},
		{"symlink out", "link.png"},
		{"missing", "nope.png"},
	}
	for _, tt := range tests {
		rec := doJSON(t, e, http.MethodPost, turns, `{"text":"x","media_path":"`+tt.path+`"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d body=%s", tt.name, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, e, http.MethodPost, turns, `{"text":"what is it","media_path":"cat.png"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("inside root: status %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[TurnResponse](t, rec)
	if !got.MediaUsed || len(got.MediaID) != 64 {
		t.Fatalf("media_used=%v fingerprint=%q", got.MediaUsed, got.MediaID)
	}
}

// cancellingSampler always picks a byte unit and cancels the request after
// a few steps.
type cancellingSampler struct {
	cancel context.CancelFunc
	after  int
	n      int
}

func (s *cancellingSampler) Sample([]float32) int {
	s.n++
	if s.n == s.after {
		s.cancel()
	}
	return 'a'
}

func TestCancelledTurnCountsCommittedReply(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := inference.Load(inference.Config{ContextSize: 512, MaxReplyUnits: 32}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })

	store := NewSessionStore(func(SessionOptions) (*session.Session, error) {
		return session.New(session.Capabilities{
			Tokenizer: res.Tokenizer,
			Formatter: inference.Formatter{Style: "chatml"},
			Evaluator: res.Context,
			Sampler:   &cancellingSampler{cancel: cancel, after: 3},
		}, session.Options{ContextSize: 512, MaxReplyUnits: 32}, nil)
	})
	t.Cleanup(func() { _ = store.Close() })
	e := echo.New()
	NewServer(store, nil).Register(e)
	created := createSession(t, e, `{}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.ID+"/turns", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(ctx)
	e.ServeHTTP(httptest.NewRecorder(), req)

	rec := doJSON(t, e, http.MethodGet, "/v1/sessions/"+created.ID, "")
	got := decode[SessionResponse](t, rec)
	if len(got.History) != 2 {
		t.Fatalf("history = %+v, want the partial reply committed", got.History)
	}
	if got.Turns != 1 {
		t.Fatalf("turns = %d, want 1", got.Turns)
	}
	if got.History[1].Content != "aaa" {
		t.Fatalf("partial reply = %q", got.History[1].Content)
	}
}
