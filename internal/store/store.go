// Package store provides storage for IntakePipe.
//
// It includes the in-memory session store and completed registry used by the
// intake engine, plus a persistent archive of finalized intakes (SQLite or
// PostgreSQL).
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// InMemoryStore holds in-progress sessions and the completed registry under
// one mutex, so the invariant that a user lives in at most one of the two
// maps can be maintained atomically. All mutation goes through its methods;
// callers never touch the maps directly.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	completed map[string]models.CompletedRecord
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*models.Session),
		completed: make(map[string]models.CompletedRecord),
	}
}

// GetSession returns a snapshot of the user's session answers. The returned
// session is a copy; mutate through UpsertSession only.
func (s *InMemoryStore) GetSession(userID string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return copySession(sess), true
}

// UpsertSession creates the user's session if absent and applies the mutator
// to it under the store lock.
func (s *InMemoryStore) UpsertSession(userID string, mutate func(*models.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = models.NewSession(userID)
		s.sessions[userID] = sess
		slog.Debug("InMemoryStore created session", "userID", userID)
	}
	if mutate != nil {
		mutate(sess)
	}
}

// DeleteSession removes the user's session, reporting whether one existed.
func (s *InMemoryStore) DeleteSession(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

// IsCompleted reports whether the user is awaiting a follow-up.
func (s *InMemoryStore) IsCompleted(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completed[userID]
	return ok
}

// GetCompleted returns the user's completed record, if present.
func (s *InMemoryStore) GetCompleted(userID string) (models.CompletedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.completed[userID]
	return rec, ok
}

// Complete atomically moves the user from the session store into the
// completed registry. There is no window in which the user is in neither or
// both maps.
func (s *InMemoryStore) Complete(userID string, rec models.CompletedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	s.completed[userID] = rec
	slog.Debug("InMemoryStore session finalized", "userID", userID, "finishedAt", rec.FinishedAt)
}

// DrainDue atomically removes and returns every completed record whose
// FinishedAt is at or before the cutoff. Each record is returned exactly
// once across all callers.
func (s *InMemoryStore) DrainDue(cutoff time.Time) []models.CompletedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.CompletedRecord
	for userID, rec := range s.completed {
		if !rec.FinishedAt.After(cutoff) {
			due = append(due, rec)
			delete(s.completed, userID)
		}
	}
	slog.Debug("InMemoryStore drained due records", "count", len(due), "cutoff", cutoff)
	return due
}

// ResetUser removes the user from both the session store and the completed
// registry.
func (s *InMemoryStore) ResetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	delete(s.completed, userID)
	slog.Debug("InMemoryStore reset user", "userID", userID)
}

// ResetAll unconditionally empties both stores. Administrative escape hatch,
// not part of the normal flow.
func (s *InMemoryStore) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, completed := len(s.sessions), len(s.completed)
	s.sessions = make(map[string]*models.Session)
	s.completed = make(map[string]models.CompletedRecord)
	slog.Info("InMemoryStore reset all state", "sessions_dropped", sessions, "completed_dropped", completed)
}

// Counts returns the number of active sessions and pending follow-ups.
func (s *InMemoryStore) Counts() (sessions, completed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.completed)
}

func copySession(sess *models.Session) *models.Session {
	answers := make(map[string]string, len(sess.Answers))
	for k, v := range sess.Answers {
		answers[k] = v
	}
	return &models.Session{
		UserID:    sess.UserID,
		Answers:   answers,
		CreatedAt: sess.CreatedAt,
	}
}
