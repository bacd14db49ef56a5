package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"accessgate.dev/internal/ids"
	"accessgate.dev/internal/secret"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety.
// A single mutex serializes every transition, which gives the same
// at-most-once guarantees as the conditional updates of the SQL stores.
type InMemory struct {
	mu    sync.RWMutex
	links map[string]*Link
}

// NewInMemory creates an empty link store.
func NewInMemory() *InMemory {
	return &InMemory{links: make(map[string]*Link)}
}

func (s *InMemory) CreateLink(_ context.Context, l Link) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.links {
		if existing.Revoked() {
			continue
		}
		if existing.ResourceID == l.ResourceID && existing.StakeholderID == l.StakeholderID {
			return Link{}, ErrDuplicateLink
		}
	}
	if l.ID == "" {
		l.ID = ids.New()
	}
	if _, ok := s.links[l.ID]; ok {
		return Link{}, ErrDuplicateLink
	}
	stored := l.Clone()
	s.links[l.ID] = &stored
	return stored.Clone(), nil
}

func (s *InMemory) FindLink(_ context.Context, id string) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	return l.Clone(), nil
}

func (s *InMemory) FindLinkByTokenHash(_ context.Context, digest secret.Digest) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.TokenHash == digest {
			return l.Clone(), nil
		}
	}
	return Link{}, ErrLinkNotFound
}

func (s *InMemory) FindLiveLink(_ context.Context, resourceID, stakeholderID string) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if !l.Revoked() && l.ResourceID == resourceID && l.StakeholderID == stakeholderID {
			return l.Clone(), nil
		}
	}
	return Link{}, ErrLinkNotFound
}

func (s *InMemory) ListLinksByResource(_ context.Context, resourceID string) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Link
	for _, l := range s.links {
		if l.ResourceID == resourceID {
			out = append(out, l.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) RotateLinkToken(_ context.Context, id string, digest secret.Digest, actor string, now time.Time) (Link, error) {
	return s.update(id, func(l *Link) bool {
		if l.Revoked() {
			return false
		}
		l.TokenHash = digest
		l.UpdatedBy = actor
		l.UpdatedAt = now
		return true
	})
}

func (s *InMemory) IssueChallenge(_ context.Context, id string, c Challenge) (Link, error) {
	return s.update(id, func(l *Link) bool {
		if l.Revoked() {
			return false
		}
		if l.OTPIssuedAt != nil && l.OTPIssuedAt.After(c.NotIssuedAfter) {
			return false
		}
		l.OTPHash = c.OTPHash
		l.OTPExpiresAt = timePtr(c.ExpiresAt)
		l.OTPIssuedAt = timePtr(c.IssuedAt)
		l.VerificationAttempts = 0
		l.UpdatedBy = c.Actor
		l.UpdatedAt = c.IssuedAt
		return true
	})
}

func (s *InMemory) RecordFailedAttempt(_ context.Context, id string, otpHash secret.Digest, maxAttempts int, now time.Time) (Link, error) {
	return s.update(id, func(l *Link) bool {
		if l.Revoked() || otpHash == "" || l.OTPHash != otpHash {
			return false
		}
		l.VerificationAttempts++
		if l.VerificationAttempts >= maxAttempts {
			l.OTPHash = ""
			l.OTPExpiresAt = nil
		}
		l.UpdatedAt = now
		return true
	})
}

func (s *InMemory) ConsumeChallenge(_ context.Context, id string, otpHash secret.Digest, su SessionUpdate) (Link, error) {
	return s.update(id, func(l *Link) bool {
		if l.Revoked() || otpHash == "" || l.OTPHash != otpHash {
			return false
		}
		if l.OTPExpiresAt == nil || !l.OTPExpiresAt.After(su.Now) {
			return false
		}
		if l.SessionVersion != su.ExpectedVersion {
			return false
		}
		l.OTPHash = ""
		l.OTPExpiresAt = nil
		l.VerificationAttempts = 0
		applySession(l, su)
		return true
	})
}

func (s *InMemory) RotateSession(_ context.Context, id string, su SessionUpdate) (Link, error) {
	return s.update(id, func(l *Link) bool {
		if l.Revoked() || l.SessionVersion != su.ExpectedVersion {
			return false
		}
		applySession(l, su)
		return true
	})
}

func (s *InMemory) RevokeSession(_ context.Context, id, actor string, now time.Time) (Link, error) {
	return s.update(id, func(l *Link) bool {
		l.SessionVersion++
		l.SessionTokenHash = ""
		l.SessionExpiresAt = nil
		l.UpdatedBy = actor
		l.UpdatedAt = now
		return true
	})
}

func (s *InMemory) RevokeLink(_ context.Context, id, actor, reason string, now time.Time) (Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return Link{}, false, ErrLinkNotFound
	}
	if l.Revoked() {
		return l.Clone(), false, nil
	}
	revoke(l, actor, reason, now)
	return l.Clone(), true, nil
}

func (s *InMemory) RevokeResource(_ context.Context, resourceID, actor, reason string, now time.Time) ([]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Link
	for _, l := range s.links {
		if l.ResourceID != resourceID || l.Revoked() {
			continue
		}
		revoke(l, actor, reason, now)
		out = append(out, l.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

// update applies fn under the write lock. fn reports whether its precondition held.
func (s *InMemory) update(id string, fn func(*Link) bool) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return Link{}, ErrLinkNotFound
	}
	next := l.Clone()
	if !fn(&next) {
		return Link{}, ErrStaleState
	}
	*l = next
	return next.Clone(), nil
}

func applySession(l *Link, su SessionUpdate) {
	l.SessionTokenHash = su.TokenHash
	l.SessionExpiresAt = timePtr(su.ExpiresAt)
	l.SessionVersion++
	l.UpdatedBy = su.Actor
	l.UpdatedAt = su.Now
}

func revoke(l *Link, actor, reason string, now time.Time) {
	l.RevokedAt = timePtr(now)
	l.RevokeReason = reason
	l.SessionVersion++
	l.SessionTokenHash = ""
	l.SessionExpiresAt = nil
	l.OTPHash = ""
	l.OTPExpiresAt = nil
	l.UpdatedBy = actor
	l.UpdatedAt = now
}

func sortNewestFirst(links []Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID > links[j].ID
		}
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
}
