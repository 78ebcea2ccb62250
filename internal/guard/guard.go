// Package guard enforces a per-organization cooldown between comparison
// runs.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultCooldown is the minimum spacing between run starts for an org.
const DefaultCooldown = 15 * time.Minute

// Guard gates pipeline runs per organization.
type Guard interface {
	// CanRun records a run start and returns true, or returns false without
	// side effects while the org is cooling down.
	CanRun(ctx context.Context, orgID string) (bool, error)
	// FinishRun clears the org's entry so the next run may start at once.
	FinishRun(ctx context.Context, orgID string) error
}

// Memory is a single-process guard. State does not survive restarts and is
// not shared between instances.
type Memory struct {
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	started map[string]time.Time
}

// NewMemory creates a Memory guard. A non-positive cooldown uses the default.
func NewMemory(cooldown time.Duration) *Memory {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Memory{
		cooldown: cooldown,
		now:      time.Now,
		started:  make(map[string]time.Time),
	}
}

// CanRun implements Guard.
func (m *Memory) CanRun(_ context.Context, orgID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.started[orgID]; ok && now.Sub(last) < m.cooldown {
		zap.L().Debug("guard: org cooling down",
			zap.String("org_id", orgID),
			zap.Duration("remaining", m.cooldown-now.Sub(last)),
		)
		return false, nil
	}
	m.started[orgID] = now
	return true, nil
}

// FinishRun implements Guard.
func (m *Memory) FinishRun(_ context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.started, orgID)
	return nil
}

// LockStore is the run-lock CAS the shared guard relies on.
type LockStore interface {
	AcquireRunLock(ctx context.Context, orgID string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, orgID string) error
}

// Store is a guard shared across processes through a run_locks row per org.
// Acquire is a conditional insert-or-update on an expired row; release
// deletes the row.
type Store struct {
	locks    LockStore
	cooldown time.Duration
	now      func() time.Time
}

// NewStore creates a store-backed guard.
func NewStore(locks LockStore, cooldown time.Duration) *Store {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Store{locks: locks, cooldown: cooldown, now: time.Now}
}

// CanRun implements Guard.
func (s *Store) CanRun(ctx context.Context, orgID string) (bool, error) {
	ok, err := s.locks.AcquireRunLock(ctx, orgID, s.now().UTC(), s.cooldown)
	if err != nil {
		return false, eris.Wrap(err, "guard: acquire run lock")
	}
	return ok, nil
}

// FinishRun implements Guard.
func (s *Store) FinishRun(ctx context.Context, orgID string) error {
	if err := s.locks.ReleaseRunLock(ctx, orgID); err != nil {
		return eris.Wrap(err, "guard: release run lock")
	}
	return nil
}

// New returns the guard for a configured backend ("memory" or "store").
func New(backend string, locks LockStore, cooldown time.Duration) (Guard, error) {
	switch backend {
	case "", "memory":
		return NewMemory(cooldown), nil
	case "store":
		if locks == nil {
			return nil, eris.New("guard: store backend requires a lock store")
		}
		return NewStore(locks, cooldown), nil
	default:
		return nil, eris.Errorf("guard: unknown backend %q", backend)
	}
}
