// Package session provides durable conversation sessions: identity, bounded
// history, and free-form variables, persisted across reconnects.
//
// Redis is the primary store when configured; an in-memory map acts as a
// write-through cache and as the degradation target when Redis is
// unreachable. Store failures never surface to the caller as errors — the
// conversation continues on the in-memory copy with a Warn log.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Exchange is one completed user/assistant turn.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable state of one conversation.
type Session struct {
	// ID is the session identifier presented by clients to resume.
	ID string `json:"id"`

	// History holds the most recent exchanges, oldest first.
	History []Exchange `json:"history"`

	// Variables carries free-form conversation state such as
	// "pending_action" and "detail_preference".
	Variables map[string]any `json:"variables"`

	// CreatedAt is when the session was first created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessAt is refreshed on every access and drives expiry.
	LastAccessAt time.Time `json:"last_access_at"`
}

// newSession returns a fresh session with a generated id.
func newSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.NewString(),
		Variables:    make(map[string]any),
		CreatedAt:    now,
		LastAccessAt: now,
	}
}

// Store persists sessions.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the session with the given id, refreshing its
	// last-access time and TTL. When id is empty, unknown, or expired a fresh
	// session with a newly generated id is returned.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// Save persists the session, refreshing its last-access time and TTL.
	Save(ctx context.Context, s *Session) error

	// AppendExchange appends one exchange to the session's history, trimming
	// to the newest historyCap entries, and persists the result.
	AppendExchange(ctx context.Context, id string, ex Exchange) error
}
