package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"accessgate.dev/internal/ids"
)

var _ PrincipalStore = (*InMemory)(nil)

// InMemory implements PrincipalStore with in-process concurrency safety.
type InMemory struct {
	mu         sync.RWMutex
	principals map[string]Principal
	now        func() time.Time
}

// NewInMemory creates an empty principal store.
func NewInMemory() *InMemory {
	return &InMemory{principals: make(map[string]Principal), now: time.Now}
}

func (s *InMemory) CreatePrincipal(_ context.Context, p Principal) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(p.Email))
	for _, existing := range s.principals {
		if existing.Email == email {
			return Principal{}, ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	if _, ok := s.principals[p.ID]; ok {
		return Principal{}, ErrConflict
	}
	now := s.now().UTC()
	p.Email = email
	p.CreatedAt = now
	p.UpdatedAt = now
	s.principals[p.ID] = p
	return p, nil
}

func (s *InMemory) FindPrincipal(_ context.Context, id string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemory) FindPrincipalByEmail(_ context.Context, email string) (Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.principals {
		if p.Email == email {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (s *InMemory) ListPrincipals(_ context.Context) ([]Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *InMemory) UpdatePrincipalRole(_ context.Context, id string, role Role) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = s.now().UTC()
	s.principals[id] = p
	return p, nil
}

func (s *InMemory) SetPrincipalActive(_ context.Context, id string, active bool) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = s.now().UTC()
	s.principals[id] = p
	return p, nil
}
