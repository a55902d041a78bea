package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// RedisStore persists sessions as JSON blobs in Redis with a TTL, writing
// through to an in-memory [MemoryStore]. When Redis is unreachable the store
// degrades to the in-memory copy: operations log a Warn and succeed, so a
// Redis outage never breaks a live conversation.
type RedisStore struct {
	client *redis.Client
	cache  *MemoryStore
	ttl    time.Duration
	prefix string
	capN   int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for sessions. After this duration idle
// sessions are automatically deleted. Default is 24 hours.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys. Default is "voxgate:session:".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithHistoryCap sets the maximum exchanges kept per session. Default is 5.
func WithHistoryCap(n int) RedisOption {
	return func(s *RedisStore) {
		s.capN = n
	}
}

// NewRedisStore creates a Redis-backed session store.
//
// Example:
//
//	store := session.NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    session.WithTTL(24*time.Hour),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    24 * time.Hour,
		prefix: "voxgate:session:",
		capN:   5,
	}
	for _, o := range opts {
		o(s)
	}
	s.cache = NewMemoryStore(WithMemoryTTL(s.ttl), WithMemoryHistoryCap(s.capN))
	return s
}

// GetOrCreate implements [Store]. Redis is consulted first; on a miss the
// in-memory cache is checked (it may hold sessions written while Redis was
// down). Both missing yields a fresh session.
func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		if sess, ok := s.loadRedis(ctx, id); ok {
			sess.LastAccessAt = time.Now().UTC()
			s.persist(ctx, sess)
			return sess, nil
		}
		if sess, ok := s.loadCache(ctx, id); ok {
			sess.LastAccessAt = time.Now().UTC()
			s.persist(ctx, sess)
			return sess, nil
		}
	}

	sess := newSession()
	s.persist(ctx, sess)
	return sess, nil
}

// Save implements [Store].
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	cp := cloneSession(sess)
	cp.LastAccessAt = time.Now().UTC()
	s.persist(ctx, cp)
	return nil
}

// AppendExchange implements [Store].
func (s *RedisStore) AppendExchange(ctx context.Context, id string, ex Exchange) error {
	sess, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	sess.History = trimHistory(append(sess.History, ex), s.capN)
	return s.Save(ctx, sess)
}

// Ping reports whether Redis is reachable. Used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("session redis: ping: %w", err)
	}
	return nil
}

// loadRedis fetches and decodes the session blob for id. A connection
// failure logs a Warn and reports a miss.
func (s *RedisStore) loadRedis(ctx context.Context, id string) (*Session, bool) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("session redis get failed; falling back to memory", "session_id", id, "error", err)
		}
		return nil, false
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Warn("session blob is corrupt; discarding", "session_id", id, "error", err)
		return nil, false
	}
	if sess.Variables == nil {
		sess.Variables = make(map[string]any)
	}
	return &sess, true
}

// loadCache fetches the session from the write-through cache without
// creating one on a miss.
func (s *RedisStore) loadCache(_ context.Context, id string) (*Session, bool) {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	sess, ok := s.cache.lookup(id)
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// persist writes the session to the cache and then to Redis with the TTL.
// Redis failures degrade with a Warn.
func (s *RedisStore) persist(ctx context.Context, sess *Session) {
	_ = s.cache.Save(ctx, sess)

	data, err := json.Marshal(sess)
	if err != nil {
		slog.Warn("session marshal failed; memory copy only", "session_id", sess.ID, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		slog.Warn("session redis set failed; memory copy only", "session_id", sess.ID, "error", err)
	}
}

// key generates the Redis key for a session.
func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
