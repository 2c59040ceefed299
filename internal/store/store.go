// Package store holds the in-memory session registry. The registry is the
// only shared mutable state in the process: handlers read snapshots, the
// orchestrator is the single writer per record.
package store

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairbridge/pairing-server-go/internal/model"
	"github.com/pairbridge/pairing-server-go/internal/util"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*model.Session),
	}
}

// Create inserts a fresh pending record and returns a snapshot of it. The id
// is a 32-byte random token; collision with a live id is not checked because
// the probability is negligible.
func (s *SessionStore) Create(phoneNumber string, deadline time.Time) (*model.Session, error) {
	id, err := util.GenerateToken()
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:          id,
		PhoneNumber: phoneNumber,
		Status:      model.SessionStatusPending,
		CreatedAt:   time.Now(),
		Deadline:    deadline,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return snapshot(sess), nil
}

// Get returns a snapshot of the record, or nil when no live record exists.
func (s *SessionStore) Get(id string) *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return snapshot(sess)
}

// Update applies a mutation to the record under the lock. A missing id is a
// no-op and reported via the return value.
func (s *SessionStore) Update(id string, mutate func(*model.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	mutate(sess)
	return true
}

// Remove deletes the record and releases its resources: the connection handle
// is closed and the on-disk credentials directory is deleted. Removing an
// already-removed id is a no-op. Cleanup failures are logged and swallowed.
func (s *SessionStore) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.release(sess)
	return true
}

// RemoveIf removes the record only when the predicate holds. The predicate is
// evaluated under the lock, so the decision and the delete are a single step:
// a transition committed concurrently cannot be undone by a stale snapshot.
func (s *SessionStore) RemoveIf(id string, pred func(*model.Session) bool) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || !pred(sess) {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	s.release(sess)
	return true
}

// RemoveExpired removes every record whose deadline has passed as of now.
// Deadline checks happen under the lock, so a concurrent transition that
// pushed a record's deadline out is honored.
func (s *SessionStore) RemoveExpired(now time.Time) int {
	s.mu.Lock()
	var expired []*model.Session
	for id, sess := range s.sessions {
		if now.After(sess.Deadline) {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.release(sess)
	}
	return len(expired)
}

func (s *SessionStore) release(sess *model.Session) {
	if sess.Socket != nil {
		if err := sess.Socket.Close(); err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("failed to close session socket")
		}
	}

	if sess.CredsDir != "" {
		if err := os.RemoveAll(sess.CredsDir); err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("failed to remove credentials directory")
		}
	}

	log.Info().Str("sessionId", sess.ID).Str("status", string(sess.Status)).Msg("session removed")
}

// Len reports the number of live records.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func snapshot(sess *model.Session) *model.Session {
	copied := *sess
	return &copied
}
