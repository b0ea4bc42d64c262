package state

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// lockStripes bounds the lock table. Two sessions may share a stripe; what
// matters is that all mutations for one session id serialize.
const lockStripes = 64

// ManagerOption customizes Manager.
type ManagerOption func(*Manager)

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the mutation discipline for session state: every change to a
// given session id runs under that key's lock as load, mutate, validate,
// save. State is created lazily on first touch and reset rather than
// deleted, so the footprint total can never be observed mid-update.
type Manager struct {
	store Store
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	m := &Manager{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Now reports the manager's clock so state operations invoked inside a
// Mutate closure stamp the same notion of time the manager does.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Mutate applies fn to the session under its key lock. When fn returns an
// error the store is left untouched. The returned state is the saved copy.
func (m *Manager) Mutate(ctx context.Context, sessionID string, fn func(*SessionState) error) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	if fn == nil {
		return nil, errors.New("nil mutation func")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// A cancelled caller gives the key back without touching state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := m.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		st = NewSessionState(sessionID, m.now())
	case err != nil:
		return nil, err
	}

	if err := fn(st); err != nil {
		return nil, err
	}

	st.Touch(m.now())
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// View returns a complete read snapshot without taking the key lock; the
// underlying store hands out copies atomically. A session never seen before
// reads as a fresh empty state and is not persisted.
func (m *Manager) View(ctx context.Context, sessionID string) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	st, err := m.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return NewSessionState(sessionID, m.now()), nil
	case err != nil:
		return nil, err
	}
	return st, nil
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &m.locks[h.Sum32()%lockStripes]
}
