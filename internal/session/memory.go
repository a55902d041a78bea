package session

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps sessions in a process-local map with lazy TTL expiry.
// It serves as the standalone store when no Redis is configured and as the
// cache/fallback layer inside [RedisStore].
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	ttl        time.Duration
	historyCap int

	now func() time.Time // test seam
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets how long an idle session survives. Zero disables expiry.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// WithMemoryHistoryCap sets the maximum exchanges kept per session.
func WithMemoryHistoryCap(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.historyCap = n
	}
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:   make(map[string]*Session),
		ttl:        24 * time.Hour,
		historyCap: 5,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreate implements [Store].
func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.lookup(id); ok {
		sess.LastAccessAt = s.now().UTC()
		return cloneSession(sess), nil
	}

	sess := newSession()
	sess.CreatedAt = s.now().UTC()
	sess.LastAccessAt = sess.CreatedAt
	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneSession(sess)
	cp.LastAccessAt = s.now().UTC()
	s.sessions[cp.ID] = cp
	return nil
}

// AppendExchange implements [Store].
func (s *MemoryStore) AppendExchange(_ context.Context, id string, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.lookup(id)
	if !ok {
		sess = newSession()
		sess.ID = id
		s.sessions[id] = sess
	}
	sess.History = trimHistory(append(sess.History, ex), s.historyCap)
	sess.LastAccessAt = s.now().UTC()
	return nil
}

// lookup returns the live session for id, dropping it when expired.
// Caller must hold s.mu.
func (s *MemoryStore) lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(sess.LastAccessAt) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

// trimHistory keeps the newest limit entries.
func trimHistory(history []Exchange, limit int) []Exchange {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	trimmed := make([]Exchange, limit)
	copy(trimmed, history[len(history)-limit:])
	return trimmed
}

// cloneSession deep-copies a session so callers cannot mutate store state.
func cloneSession(sess *Session) *Session {
	cp := &Session{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastAccessAt: sess.LastAccessAt,
	}
	if sess.History != nil {
		cp.History = make([]Exchange, len(sess.History))
		copy(cp.History, sess.History)
	}
	cp.Variables = make(map[string]any, len(sess.Variables))
	for k, v := range sess.Variables {
		cp.Variables[k] = v
	}
	return cp
}
