package audit

import (
	"context"
	"sort"
	"sync"
)

// InMemory is a Sink kept in process memory, used by tests and the memory store driver.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemory returns an empty sink.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemory) Query(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if f.Subject != "" && ev.Subject != f.Subject {
			continue
		}
		if f.ResourceID != "" && ev.ResourceID != f.ResourceID {
			continue
		}
		if f.Actor != "" && ev.Actor != f.Actor {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Events returns a copy of everything appended, oldest first.
func (s *InMemory) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
