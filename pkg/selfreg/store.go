package selfreg

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSessionExists is returned when a watch is opened for an external id
	// that already has (or had) a session. Sessions are single-use.
	ErrSessionExists = errors.New("self-registration session already exists for external id")

	// ErrNoSession is returned for announcements whose external id has no
	// active watch session.
	ErrNoSession = errors.New("no active self-registration session for external id")
)

// DefaultSessionTTL bounds how long session and dedup state is retained
// after a watch opens. It only needs to outlive the longest watch timeout.
const DefaultSessionTTL = 24 * time.Hour

// SessionStore tracks watch session lifecycle and per-account announcement
// dedup. The store is the source of truth for "has this account already
// announced under this external id", which keeps repeat announcements
// idempotent even across process restarts when backed by redis.
type SessionStore interface {
	// Begin claims the external id for a new session. Returns
	// ErrSessionExists when the id was ever used before.
	Begin(ctx context.Context, externalID string) error

	// End marks the session inactive. The id stays claimed so the session
	// cannot be restarted.
	End(ctx context.Context, externalID string) error

	// Active reports whether the session exists and has not ended.
	Active(ctx context.Context, externalID string) (bool, error)

	// MarkRegistered records an announcement and reports whether this is
	// the first time the account announced under this external id.
	MarkRegistered(ctx context.Context, externalID, accountID string) (bool, error)
}

type memorySession struct {
	active   bool
	accounts map[string]struct{}
}

// MemoryStore is an in-process SessionStore for tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStore) Begin(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[externalID]; ok {
		return ErrSessionExists
	}
	s.sessions[externalID] = &memorySession{
		active:   true,
		accounts: make(map[string]struct{}),
	}
	return nil
}

func (s *MemoryStore) End(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[externalID]; ok {
		sess.active = false
	}
	return nil
}

func (s *MemoryStore) Active(ctx context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[externalID]
	return ok && sess.active, nil
}

func (s *MemoryStore) MarkRegistered(ctx context.Context, externalID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[externalID]
	if !ok || !sess.active {
		return false, ErrNoSession
	}
	if _, seen := sess.accounts[accountID]; seen {
		return false, nil
	}
	sess.accounts[accountID] = struct{}{}
	return true, nil
}
