// Package session keeps per-conversation history in memory.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// Session is one conversation. Its history is append-only and visible only
// through this value.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time

	// exchange serializes whole question/answer cycles; mu guards history.
	exchange sync.Mutex
	mu       sync.RWMutex
	history  []domain.ConversationTurn
	now      func() time.Time
}

// History returns a copy of the turns so far, oldest first.
func (s *Session) History() []domain.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Append records a finished turn.
func (s *Session) Append(query, answer string) domain.ConversationTurn {
	turn := domain.ConversationTurn{Query: query, Answer: answer, At: s.now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	return turn
}

// Exchange runs fn with the current history while holding the session's
// exchange lock, then appends the turn fn answered. Concurrent exchanges on
// one session run one after another; nothing is appended when fn fails.
func (s *Session) Exchange(ctx context.Context, query string, fn func(ctx context.Context, history []domain.ConversationTurn) (string, error)) (string, error) {
	s.exchange.Lock()
	defer s.exchange.Unlock()

	if err := ctx.Err(); err != nil {
		return "", goerr.Wrap(err, "exchange cancelled", goerr.V("session", s.ID))
	}
	answer, err := fn(ctx, s.History())
	if err != nil {
		return "", err
	}
	s.Append(query, answer)
	return answer, nil
}

// Store owns live sessions. Sessions never share history.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

type Option func(*Store)

// WithClock sets the time source for session and turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{sessions: make(map[string]*Session), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new session with an empty history.
func (s *Store) Start(userID string) *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: s.now(),
		now:       s.now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the live session with id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, goerr.Wrap(domain.ErrSessionNotFound, "no such session", goerr.V("session", id))
	}
	return sess, nil
}

// End discards the session and its history.
func (s *Store) End(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return goerr.Wrap(domain.ErrSessionNotFound, "no such session", goerr.V("session", id))
	}
	delete(s.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
