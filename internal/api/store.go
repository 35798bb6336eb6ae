package api

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/chatcache/internal/session"
)

// Opener builds the session behind a new store entry.
type Opener func(SessionOptions) (*session.Session, error)

type sessionEntry struct {
	id      string
	created time.Time

	// mu serializes turns; a second request while it is held gets 409.
	mu    sync.Mutex
	sess  *session.Session
	turns int
}

type SessionStore struct {
	open  Opener
	clock func() time.Time
	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	// keys maps Idempotency-Key values to the session they created.
	keys map[string]string
}

func NewSessionStore(open Opener) *SessionStore {
	return &SessionStore{
		open:     open,
		clock:    time.Now,
		sessions: make(map[string]*sessionEntry),
		keys:     make(map[string]string),
	}
}

// Create opens a session. Requests sharing a non-empty key get the same
// session, including concurrent ones.
func (s *SessionStore) Create(key string, opts SessionOptions) (*sessionEntry, error) {
	if key == "" {
		return s.create(opts)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.Lock()
		id, ok := s.keys[key]
		entry := s.sessions[id]
		s.mu.Unlock()
		if ok && entry != nil {
			return entry, nil
		}
		entry, err := s.create(opts)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.keys[key] = entry.id
		s.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessionEntry), nil
}

func (s *SessionStore) create(opts SessionOptions) (*sessionEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	sess, err := s.open(opts)
	if err != nil {
		return nil, err
	}
	entry := &sessionEntry{id: id.String(), created: s.clock(), sess: sess}
	s.mu.Lock()
	s.sessions[entry.id] = entry
	s.mu.Unlock()
	return entry, nil
}

func (s *SessionStore) get(id string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// With runs fn while holding the entry's turn lock. A busy entry reports
// session.ErrTurnInProgress instead of waiting.
func (s *SessionStore) With(id string, fn func(*sessionEntry) error) error {
	entry, err := s.get(id)
	if err != nil {
		return err
	}
	if !entry.mu.TryLock() {
		return session.ErrTurnInProgress
	}
	defer entry.mu.Unlock()
	return fn(entry)
}

// Delete removes and closes a session. It waits for a running turn.
func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	for k, v := range s.keys {
		if v == id {
			delete(s.keys, k)
		}
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.sess.Close()
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns the session ids in creation order.
func (s *SessionStore) IDs() []string {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	slices.SortFunc(entries, func(a, b *sessionEntry) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// Close closes every session.
func (s *SessionStore) Close() error {
	var errs []error
	for _, id := range s.IDs() {
		if err := s.Delete(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
