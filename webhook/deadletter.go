package webhook

import (
	"sort"
	"sync"
)

// DeadLetterStore is an in-memory store for deliveries that exhausted their
// retries. Entries are copied on the way in and out.
type DeadLetterStore struct {
	mu      sync.RWMutex
	entries map[string]*Delivery
}

// NewDeadLetterStore creates a new empty DeadLetterStore.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{entries: make(map[string]*Delivery)}
}

// Add puts a delivery into the store.
func (s *DeadLetterStore) Add(d *Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[d.ID] = d.clone()
}

// Get retrieves a delivery by ID.
func (s *DeadLetterStore) Get(id string) (*Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// Remove removes and returns a delivery.
func (s *DeadLetterStore) Remove(id string) (*Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return d, ok
}

// List returns all entries, newest first.
func (s *DeadLetterStore) List() []*Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Delivery, 0, len(s.entries))
	for _, d := range s.entries {
		result = append(result, d.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Count returns the number of entries.
func (s *DeadLetterStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
