// Package inmem is an in-memory sessionstore.Store for tests and local
// development, grounded on runtime/agent/session/inmem's
// RWMutex-guarded-map-plus-clone-on-read shape. Production deployments
// should use internal/sessionstore/mongo instead.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/sessionstore"
)

type entry struct {
	session   model.Session
	expiresAt time.Time
}

// Store is a concurrency-safe in-memory sessionstore.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]entry)}
}

// Create implements sessionstore.Store.
func (s *Store) Create(_ context.Context, question model.Question, callerID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	sess := model.Session{
		ID:        model.NewID(),
		CallerID:  callerID,
		Question:  question,
		CreatedAt: now,
		Status:    model.SessionActive,
		TTL:       ttl,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = entry{session: cloneSession(sess), expiresAt: expiryOf(sess, now)}
	return sess.ID, nil
}

// Get implements sessionstore.Store.
func (s *Store) Get(_ context.Context, sessionID, callerID string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lookup(sessionID, callerID)
	if !ok {
		return model.Session{}, sessionstore.ErrNotFound
	}
	return cloneSession(e.session), nil
}

// Update implements sessionstore.Store.
func (s *Store) Update(_ context.Context, session model.Session, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.lookup(session.ID, callerID)
	if !ok {
		return sessionstore.ErrNotFound
	}
	session.CallerID = callerID
	s.sessions[session.ID] = entry{session: cloneSession(session), expiresAt: expiryOf(session, existing.session.CreatedAt)}
	return nil
}

// Delete implements sessionstore.Store.
func (s *Store) Delete(_ context.Context, sessionID, callerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(sessionID, callerID); !ok {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// List implements sessionstore.Store.
func (s *Store) List(_ context.Context, callerID string, limit int) ([]model.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []model.SessionSummary
	for _, e := range s.sessions {
		if e.session.CallerID != callerID || isExpired(e, now) {
			continue
		}
		out = append(out, model.SessionSummary{
			ID:        e.session.ID,
			CallerID:  e.session.CallerID,
			Question:  e.session.Question.Text,
			CreatedAt: e.session.CreatedAt,
			Status:    e.session.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cleanup implements sessionstore.Store. Deletion happens in a single pass
// under the write lock; the "bounded batches" requirement from spec §4.7
// is satisfied by the caller invoking Cleanup periodically rather than by
// this method internally chunking, since an in-memory map has no
// pagination cost to amortize.
func (s *Store) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if e.session.CreatedAt.Before(olderThan) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// lookup enforces the caller-isolation invariant: a session that exists
// but belongs to a different caller, or has expired, is treated identically
// to a missing session by every exported method.
func (s *Store) lookup(sessionID, callerID string) (entry, bool) {
	e, ok := s.sessions[sessionID]
	if !ok || e.session.CallerID != callerID {
		return entry{}, false
	}
	if isExpired(e, time.Now().UTC()) {
		return entry{}, false
	}
	return e, true
}

func isExpired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func expiryOf(session model.Session, createdAt time.Time) time.Time {
	if session.TTL <= 0 {
		return time.Time{}
	}
	return createdAt.Add(session.TTL)
}

func cloneSession(in model.Session) model.Session {
	out := in
	if in.OperationTrace != nil {
		out.OperationTrace = append([]model.TraceEntry(nil), in.OperationTrace...)
	}
	if in.FinalResult != nil {
		res := *in.FinalResult
		out.FinalResult = &res
	}
	return out
}
