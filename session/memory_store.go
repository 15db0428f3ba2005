package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-shopify-app/core"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
	Now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]core.Session{}}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*core.Session, error) {
	if s == nil {
		return nil, fmt.Errorf("session: memory store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	s.mu.RLock()
	stored, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || stored.Expired(s.now()) {
		return nil, nil
	}
	cloned := stored.Clone()
	return &cloned, nil
}

func (s *MemoryStore) Save(_ context.Context, session core.Session) error {
	if s == nil {
		return fmt.Errorf("session: memory store is not configured")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return fmt.Errorf("session: missing session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = map[string]core.Session{}
	}
	s.sessions[id] = session.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("session: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, strings.TrimSpace(id))
	return nil
}

func (s *MemoryStore) DeleteByShop(_ context.Context, shop string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("session: memory store is not configured")
	}
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return 0, fmt.Errorf("session: shop is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, stored := range s.sessions {
		if stored.Shop == shop {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("session: memory store is not configured")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, stored := range s.sessions {
		if stored.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ Store = (*MemoryStore)(nil)
