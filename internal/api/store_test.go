package api

import (
	"errors"
	"testing"

	"github.com/samcharles93/chatcache/internal/session"
)

func TestSessionStoreCreateAndDelete(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(testOpener)
	a, err := store.Create("", SessionOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := store.Create("", SessionOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.id == b.id {
		t.Fatal("sessions share an id")
	}
	if ids := store.IDs(); len(ids) != 2 || ids[0] != a.id {
		t.Fatalf("IDs() = %v", ids)
	}

	if err := store.Delete(a.id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(a.id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Delete = %v", err)
	}
	if _, err := a.sess.Begin(t.Context(), "x", ""); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("deleted session still usable: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store not empty after Close")
	}
}

func TestSessionStoreIdempotencyKey(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(testOpener)
	t.Cleanup(func() { _ = store.Close() })

	a, err := store.Create("k1", SessionOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	again, err := store.Create("k1", SessionOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a != again {
		t.Fatal("repeated key created a second session")
	}

	if err := store.Delete(a.id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	fresh, err := store.Create("k1", SessionOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fresh.id == a.id {
		t.Fatal("key still bound to a deleted session")
	}
}

func TestSessionStoreOpenerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	store := NewSessionStore(func(SessionOptions) (*session.Session, error) { return nil, boom })
	if _, err := store.Create("k", SessionOptions{}); !errors.Is(err, boom) {
		t.Fatalf("Create error = %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("failed create left an entry")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{newInvalidRequest("x"), 400},
		{&session.TokenizeError{Err: errors.New("bad")}, 400},
		{ErrSessionNotFound, 404},
		{session.ErrTurnInProgress, 409},
		{&session.EvaluationError{Stage: "prefill", Err: session.ErrPromptTooLong}, 413},
		{errors.New("other"), 500},
	}
	for _, tc := range cases {
		if got, _ := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
