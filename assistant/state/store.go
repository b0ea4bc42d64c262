package state

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNilSessionState = errors.New("session state is nil")

// Store is the persistence contract for session state.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

const (
	defaultMaxSessions = 4096
	defaultMemoryTTL   = 24 * time.Hour
)

// MemoryOption customizes MemoryStore.
type MemoryOption func(*MemoryStore)

func WithMaxSessions(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// MemoryStore keeps sessions in-process behind an LRU with TTL eviction.
// Load and Save exchange deep copies, so a returned state can be mutated
// freely without racing the stored one.
type MemoryStore struct {
	mu sync.Mutex

	lru *list.List               // front=MRU
	m   map[string]*list.Element // session id -> element(Value=*memoryEntry)

	maxSessions int
	ttl         time.Duration
	now         func() time.Time
}

type memoryEntry struct {
	st       *SessionState
	lastUsed time.Time
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		lru:         list.New(),
		m:           map[string]*list.Element{},
		maxSessions: defaultMaxSessions,
		ttl:         defaultMemoryTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(now)

	e := s.m[sessionID]
	if e == nil {
		return nil, ErrStateNotFound
	}
	entry := e.Value.(*memoryEntry)
	entry.lastUsed = now
	s.lru.MoveToFront(e)
	return entry.st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return ErrInvalidSession
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked(now)

	if e := s.m[st.SessionID]; e != nil {
		entry := e.Value.(*memoryEntry)
		entry.st = st.Clone()
		entry.lastUsed = now
		s.lru.MoveToFront(e)
		return nil
	}

	e := s.lru.PushFront(&memoryEntry{st: st.Clone(), lastUsed: now})
	s.m[st.SessionID] = e
	s.evictOverLimitLocked()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.m[sessionID]; e != nil {
		s.deleteElemLocked(e)
	}
	return nil
}

// Len reports the number of live sessions, for health reporting.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *MemoryStore) evictExpiredLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for e := s.lru.Back(); e != nil; {
		prev := e.Prev()
		entry := e.Value.(*memoryEntry)
		if now.Sub(entry.lastUsed) <= s.ttl {
			break
		}
		s.deleteElemLocked(e)
		e = prev
	}
}

func (s *MemoryStore) evictOverLimitLocked() {
	if s.maxSessions <= 0 {
		return
	}
	for s.lru.Len() > s.maxSessions {
		e := s.lru.Back()
		if e == nil {
			return
		}
		s.deleteElemLocked(e)
	}
}

func (s *MemoryStore) deleteElemLocked(e *list.Element) {
	entry := e.Value.(*memoryEntry)
	if entry.st != nil {
		delete(s.m, entry.st.SessionID)
	}
	s.lru.Remove(e)
}
