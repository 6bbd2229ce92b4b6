package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memItem
	seq   int64
	now   func() time.Time
}

type memItem struct {
	item *WorkItem
	seq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memItem),
		now:   time.Now,
	}
}

func cloneItem(it *WorkItem) *WorkItem {
	if it == nil {
		return nil
	}
	clone := *it
	if it.Payload != nil {
		clone.Payload = append([]byte(nil), it.Payload...)
	}
	if it.LockedAt != nil {
		t := *it.LockedAt
		clone.LockedAt = &t
	}
	if it.ProcessedAt != nil {
		t := *it.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}

func (s *MemoryStore) Enqueue(ctx context.Context, item *WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	} else if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("failed to enqueue request %s: %w", item.ID, ErrDuplicateID)
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = defaultMaxAttempts
	}
	item.Status = StatusPending
	item.CreatedAt = s.now()
	s.seq++
	s.items[item.ID] = &memItem{item: cloneItem(item), seq: s.seq}
	return nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (PendingCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c PendingCounts
	for _, m := range s.items {
		if m.item.Status != StatusPending {
			continue
		}
		if m.item.Priority == PriorityPremium {
			c.Premium++
		} else {
			c.General++
		}
	}
	return c, nil
}

func (s *MemoryStore) Lease(ctx context.Context, priority Priority, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*memItem
	for _, m := range s.items {
		if m.item.Status == StatusPending && m.item.Priority == priority {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.Before(b.item.CreatedAt)
		}
		return a.seq < b.seq
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := s.now()
	leased := make([]*WorkItem, 0, len(candidates))
	for _, m := range candidates {
		m.item.Status = StatusProcessing
		m.item.LockedAt = &now
		leased = append(leased, cloneItem(m.item))
	}
	return leased, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	m.item.Status = StatusFailed
	m.item.ProcessedAt = &now
	m.item.Error = errMsg
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(m.item), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &Stats{Pending: map[Priority]int{PriorityGeneral: 0, PriorityPremium: 0}}
	for _, m := range s.items {
		switch m.item.Status {
		case StatusPending:
			st.Pending[m.item.Priority]++
		case StatusProcessing:
			st.Processing++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.items {
		if m.item.Status == StatusFailed && m.item.ProcessedAt != nil && m.item.ProcessedAt.Before(before) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
