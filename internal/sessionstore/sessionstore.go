// Package sessionstore implements C7: session lifecycle and durable
// operation-trace persistence. The Store interface and its RWMutex-guarded
// in-memory implementation follow the clone-on-read/clone-on-write shape
// of runtime/agent/session and runtime/agent/session/inmem, narrowed to
// the orchestrator's own Session type and extended with the caller-isolation
// invariant spec §4.7 requires: every read and mutation verifies
// session.CallerID == callerID, returning ErrNotFound (never a distinct
// "forbidden" error) on mismatch so a wrong caller ID cannot distinguish
// "doesn't exist" from "exists but isn't yours".
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/queryorch/orchestrator/internal/model"
)

// ErrNotFound is returned by Get/Update/Delete when a session does not
// exist, is not owned by the given caller, or has expired.
var ErrNotFound = errors.New("sessionstore: not found")

// Store implements C7's contract.
type Store interface {
	// Create persists a new active session for question, owned by
	// callerID, and returns its id.
	Create(ctx context.Context, question model.Question, callerID string, ttl time.Duration) (string, error)
	// Get returns the session if it exists, is owned by callerID, and has
	// not expired; otherwise ErrNotFound.
	Get(ctx context.Context, sessionID, callerID string) (model.Session, error)
	// Update replaces the stored session, enforcing the same ownership
	// check as Get.
	Update(ctx context.Context, session model.Session, callerID string) error
	// Delete removes the session if owned by callerID, reporting whether
	// anything was deleted.
	Delete(ctx context.Context, sessionID, callerID string) (bool, error)
	// List returns up to limit SessionSummary values owned by callerID,
	// most recently created first.
	List(ctx context.Context, callerID string, limit int) ([]model.SessionSummary, error)
	// Cleanup deletes sessions created before olderThan across all
	// callers and returns the number removed. Intended to run
	// periodically in bounded batches (spec §4.7).
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
}
