// Package seen implements the duplicate suppressor: an in-memory set of
// already-processed event ids with best-effort durability behind it.
//
// The in-memory set is the source of truth for the running process. The
// backend copy exists only to survive restarts; a write failure is reported
// but never reverses an admission already made in memory. A crash between
// admission and flush can therefore reprocess one event after restart.
package seen

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/juanjortega/openhimtoFhirproxy/internal/domain"
)

// Backend persists the id set. The Set serializes all writes: a backend
// never sees two Append/Save calls in flight at once, and snapshots arrive
// in the order they were taken.
type Backend interface {
	// Load returns every persisted id. A missing store returns an empty
	// slice, not an error.
	Load(ctx context.Context) ([]string, error)
	// Append durably records one newly admitted id. snapshot is the full
	// set including id, for backends that rewrite the whole store.
	Append(ctx context.Context, id string, snapshot []string) error
	// Save rewrites the full set.
	Save(ctx context.Context, snapshot []string) error
}

// Set is the process-wide seen set.
//
// Two locks: mu guards the in-memory map and is never held across IO;
// flushMu serializes snapshot-plus-flush pairs so whole-store rewrites
// reach the backend in snapshot order. flushMu is always taken first.
type Set struct {
	mu      sync.Mutex
	flushMu sync.Mutex
	ids     map[string]struct{}
	backend Backend
	logger  *zap.Logger
}

// NewSet creates an empty Set over the given backend.
func NewSet(backend Backend, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		ids:     make(map[string]struct{}),
		backend: backend,
		logger:  logger,
	}
}

// Load initializes the set from the backend. A missing or corrupt store is
// treated as an empty set: the failure is logged and the process starts
// fresh rather than refusing to start.
func (s *Set) Load(ctx context.Context) {
	ids, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Warn("seen store unreadable, starting with empty set", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.logger.Info("seen store loaded", zap.Int("ids", len(ids)))
}

// IsSeen reports whether id has been admitted before.
func (s *Set) IsSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// MarkSeen records id in memory. Marking an already-seen id is a no-op.
// The backend is not touched; use Admit or Persist for durability.
func (s *Set) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Admit atomically checks-and-marks id. Exactly one of any number of
// concurrent Admit calls for the same id returns true. The new id is
// flushed to the backend before Admit returns; a flush failure is logged
// and swallowed; the admission stands.
func (s *Set) Admit(ctx context.Context, id string) bool {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if _, dup := s.ids[id]; dup {
		s.mu.Unlock()
		return false
	}
	s.ids[id] = struct{}{}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.backend.Append(ctx, id, snapshot); err != nil {
		s.logger.Warn("seen store flush failed, continuing in memory",
			zap.String("event_id", id),
			zap.Error(&domain.StorageError{Backend: backendName(s.backend), Err: err}),
		)
	}
	return true
}

// Persist rewrites the full set to the backend. Returns a StorageError on
// failure; callers decide whether that matters.
func (s *Set) Persist(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		return &domain.StorageError{Backend: backendName(s.backend), Err: err}
	}
	return nil
}

// Len returns the number of admitted ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *Set) snapshotLocked() []string {
	snapshot := make([]string, 0, len(s.ids))
	for id := range s.ids {
		snapshot = append(snapshot, id)
	}
	sort.Strings(snapshot)
	return snapshot
}

func backendName(b Backend) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
